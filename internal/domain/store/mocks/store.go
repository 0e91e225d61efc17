// Package mocks provides testify mocks for the store interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/habitquest/progression-engine/internal/domain/character"
	"github.com/habitquest/progression-engine/internal/domain/goal"
	"github.com/habitquest/progression-engine/internal/domain/habit"
	"github.com/habitquest/progression-engine/internal/domain/integrity"
)

// Store mocks store.Store.
type Store struct {
	mock.Mock
}

func (m *Store) GetCharacter(ctx context.Context, userID string) (*character.Character, error) {
	args := m.Called(ctx, userID)
	c, _ := args.Get(0).(*character.Character)
	return c, args.Error(1)
}

func (m *Store) GetCharacterByID(ctx context.Context, id string) (*character.Character, error) {
	args := m.Called(ctx, id)
	c, _ := args.Get(0).(*character.Character)
	return c, args.Error(1)
}

func (m *Store) ListCharacters(ctx context.Context, userID string) ([]*character.Character, error) {
	args := m.Called(ctx, userID)
	list, _ := args.Get(0).([]*character.Character)
	return list, args.Error(1)
}

func (m *Store) UpdateCharacter(ctx context.Context, c *character.Character) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *Store) CommitGrant(ctx context.Context, c *character.Character, entry character.ExperienceLogEntry) error {
	args := m.Called(ctx, c, entry)
	return args.Error(0)
}

func (m *Store) ListHabits(ctx context.Context, userID string) ([]*habit.Habit, error) {
	args := m.Called(ctx, userID)
	list, _ := args.Get(0).([]*habit.Habit)
	return list, args.Error(1)
}

func (m *Store) GetHabit(ctx context.Context, id string) (*habit.Habit, error) {
	args := m.Called(ctx, id)
	h, _ := args.Get(0).(*habit.Habit)
	return h, args.Error(1)
}

func (m *Store) UpdateHabit(ctx context.Context, h *habit.Habit) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}

func (m *Store) ListGoals(ctx context.Context, userID string) ([]*goal.Goal, error) {
	args := m.Called(ctx, userID)
	list, _ := args.Get(0).([]*goal.Goal)
	return list, args.Error(1)
}

func (m *Store) GetGoal(ctx context.Context, id string) (*goal.Goal, error) {
	args := m.Called(ctx, id)
	g, _ := args.Get(0).(*goal.Goal)
	return g, args.Error(1)
}

func (m *Store) UpdateGoal(ctx context.Context, g *goal.Goal) error {
	args := m.Called(ctx, g)
	return args.Error(0)
}

func (m *Store) ListUserIDs(ctx context.Context, after string, limit int) ([]string, error) {
	args := m.Called(ctx, after, limit)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

// IdempotencyGuard mocks store.IdempotencyGuard.
type IdempotencyGuard struct {
	mock.Mock
}

func (m *IdempotencyGuard) Claim(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *IdempotencyGuard) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// ReportCache mocks store.ReportCache.
type ReportCache struct {
	mock.Mock
}

func (m *ReportCache) Get(ctx context.Context, userID string) (*integrity.Report, bool, error) {
	args := m.Called(ctx, userID)
	r, _ := args.Get(0).(*integrity.Report)
	return r, args.Bool(1), args.Error(2)
}

func (m *ReportCache) Set(ctx context.Context, report *integrity.Report) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

func (m *ReportCache) Invalidate(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}
