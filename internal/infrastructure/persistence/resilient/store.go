// Package resilient decorates a store.Store with retries and an optional
// circuit breaker. Every call that fails with a transient storage error is
// retried with exponential backoff; not-found, validation and version
// conflicts are returned at once.
package resilient

import (
	"context"
	"time"

	"github.com/habitquest/progression-engine/internal/domain/character"
	"github.com/habitquest/progression-engine/internal/domain/goal"
	"github.com/habitquest/progression-engine/internal/domain/habit"
	"github.com/habitquest/progression-engine/internal/domain/shared"
	"github.com/habitquest/progression-engine/internal/domain/store"
	"github.com/habitquest/progression-engine/pkg/circuitbreaker"
	"github.com/habitquest/progression-engine/pkg/logger"
	"github.com/habitquest/progression-engine/pkg/retry"
)

// Store retries the calls of an inner store. With a breaker attached, a run
// of storage failures makes further calls fail fast until the breaker
// half-opens.
type Store struct {
	inner   store.Store
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
}

// New wraps inner. opts are applied over the package defaults of pkg/retry;
// the retry predicate is always shared.IsStorage.
func New(inner store.Store, log *logger.Logger, opts ...retry.Option) *Store {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("resilient_store"))

	all := append([]retry.Option{}, opts...)
	all = append(all,
		retry.WithRetryIf(shared.IsStorage),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("retrying store call",
				logger.Int("attempt", attempt),
				logger.Err(err),
				logger.Duration("delay", delay),
			)
		}),
	)

	return &Store{inner: inner, retrier: retry.New(all...)}
}

// WithBreaker places cb in front of the retry loop. A whole retried call
// counts as one breaker request.
func (s *Store) WithBreaker(cb *circuitbreaker.CircuitBreaker) *Store {
	s.breaker = cb
	return s
}

// Unwrap returns the decorated store.
func (s *Store) Unwrap() store.Store { return s.inner }

func (s *Store) do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := get(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// get runs op under the retry policy, behind the breaker when one is set.
func get[T any](ctx context.Context, s *Store, op func(ctx context.Context) (T, error)) (T, error) {
	if s.breaker == nil {
		return retry.DoWithData(ctx, s.retrier, op)
	}

	var out T
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = retry.DoWithData(ctx, s.retrier, op)
		return err
	})
	if circuitbreaker.IsRejection(err) {
		return out, shared.Storage("store", "call", err)
	}
	return out, err
}

// ══════════════════════════════════════════════════════════════════════════════
// store.Store
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) GetCharacter(ctx context.Context, userID string) (*character.Character, error) {
	return get(ctx, s, func(ctx context.Context) (*character.Character, error) {
		return s.inner.GetCharacter(ctx, userID)
	})
}

func (s *Store) GetCharacterByID(ctx context.Context, id string) (*character.Character, error) {
	return get(ctx, s, func(ctx context.Context) (*character.Character, error) {
		return s.inner.GetCharacterByID(ctx, id)
	})
}

func (s *Store) ListCharacters(ctx context.Context, userID string) ([]*character.Character, error) {
	return get(ctx, s, func(ctx context.Context) ([]*character.Character, error) {
		return s.inner.ListCharacters(ctx, userID)
	})
}

// UpdateCharacter retries only storage failures. A version conflict is
// returned to the caller, which must reload before writing again.
func (s *Store) UpdateCharacter(ctx context.Context, c *character.Character) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.inner.UpdateCharacter(ctx, c)
	})
}

// CommitGrant retries only storage failures. A retried commit whose first
// attempt did land is rejected as already processed, never applied twice.
func (s *Store) CommitGrant(ctx context.Context, c *character.Character, entry character.ExperienceLogEntry) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.inner.CommitGrant(ctx, c, entry)
	})
}

func (s *Store) ListHabits(ctx context.Context, userID string) ([]*habit.Habit, error) {
	return get(ctx, s, func(ctx context.Context) ([]*habit.Habit, error) {
		return s.inner.ListHabits(ctx, userID)
	})
}

func (s *Store) GetHabit(ctx context.Context, id string) (*habit.Habit, error) {
	return get(ctx, s, func(ctx context.Context) (*habit.Habit, error) {
		return s.inner.GetHabit(ctx, id)
	})
}

func (s *Store) UpdateHabit(ctx context.Context, h *habit.Habit) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.inner.UpdateHabit(ctx, h)
	})
}

func (s *Store) ListGoals(ctx context.Context, userID string) ([]*goal.Goal, error) {
	return get(ctx, s, func(ctx context.Context) ([]*goal.Goal, error) {
		return s.inner.ListGoals(ctx, userID)
	})
}

func (s *Store) GetGoal(ctx context.Context, id string) (*goal.Goal, error) {
	return get(ctx, s, func(ctx context.Context) (*goal.Goal, error) {
		return s.inner.GetGoal(ctx, id)
	})
}

func (s *Store) UpdateGoal(ctx context.Context, g *goal.Goal) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.inner.UpdateGoal(ctx, g)
	})
}

func (s *Store) ListUserIDs(ctx context.Context, after string, limit int) ([]string, error) {
	return get(ctx, s, func(ctx context.Context) ([]string, error) {
		return s.inner.ListUserIDs(ctx, after, limit)
	})
}
