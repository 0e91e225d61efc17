// Package memory is an in-process implementation of store.Store and
// store.Seeder. It backs tests and the CLI demo mode. Records are cloned on
// the way in and out so callers never share state with the store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/habitquest/progression-engine/internal/domain/character"
	"github.com/habitquest/progression-engine/internal/domain/goal"
	"github.com/habitquest/progression-engine/internal/domain/habit"
	"github.com/habitquest/progression-engine/internal/domain/shared"
)

type habitRecord struct {
	userID string
	habit  *habit.Habit
}

type goalRecord struct {
	userID string
	goal   *goal.Goal
}

// Store is a mutex-guarded map store.
type Store struct {
	mu sync.RWMutex

	characters map[string]*character.Character
	habits     map[string]habitRecord
	goals      map[string]goalRecord
	log        []character.ExperienceLogEntry

	// applied holds character id + request id pairs already in the log.
	applied map[string]struct{}
}

// New creates an empty store.
func New() *Store {
	return &Store{
		characters: make(map[string]*character.Character),
		habits:     make(map[string]habitRecord),
		goals:      make(map[string]goalRecord),
		applied:    make(map[string]struct{}),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SEEDING
// ══════════════════════════════════════════════════════════════════════════════

// CreateCharacter stores c. An empty id is replaced with a new uuid.
func (s *Store) CreateCharacter(_ context.Context, c *character.Character) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, ok := s.characters[c.ID]; ok {
		return shared.NewDomainError("character", "Create", shared.ErrValidation, "character "+c.ID+" already exists")
	}
	s.characters[c.ID] = c.Clone()
	return nil
}

// CreateHabit stores h for userID. An empty id is replaced with a new uuid.
func (s *Store) CreateHabit(_ context.Context, userID string, h *habit.Habit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if _, ok := s.habits[h.ID]; ok {
		return shared.NewDomainError("habit", "Create", shared.ErrValidation, "habit "+h.ID+" already exists")
	}
	s.habits[h.ID] = habitRecord{userID: userID, habit: h.Clone()}
	return nil
}

// CreateGoal stores g for userID. An empty id is replaced with a new uuid.
func (s *Store) CreateGoal(_ context.Context, userID string, g *goal.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if _, ok := s.goals[g.ID]; ok {
		return shared.NewDomainError("goal", "Create", shared.ErrValidation, "goal "+g.ID+" already exists")
	}
	s.goals[g.ID] = goalRecord{userID: userID, goal: g.Clone()}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CHARACTERS
// ══════════════════════════════════════════════════════════════════════════════

// GetCharacter returns the user's character. With several, the oldest wins.
func (s *Store) GetCharacter(ctx context.Context, userID string) (*character.Character, error) {
	list, err := s.ListCharacters(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, shared.NotFound("character", "user "+userID)
	}
	return list[0], nil
}

// GetCharacterByID returns a character by id.
func (s *Store) GetCharacterByID(_ context.Context, id string) (*character.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.characters[id]
	if !ok {
		return nil, shared.NotFound("character", id)
	}
	return c.Clone(), nil
}

// ListCharacters returns the user's characters ordered by creation time.
func (s *Store) ListCharacters(_ context.Context, userID string) ([]*character.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*character.Character, 0, 1)
	for _, c := range s.characters {
		if c.UserID == userID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateCharacter replaces the stored record when versions match.
func (s *Store) UpdateCharacter(_ context.Context, c *character.Character) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateCharacter(c)
}

// CommitGrant writes c and appends entry under one lock. A request id already
// logged for the character leaves both untouched.
func (s *Store) CommitGrant(_ context.Context, c *character.Character, entry character.ExperienceLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entry.CharacterID + "\x00" + entry.RequestID
	if entry.RequestID != "" {
		if _, dup := s.applied[key]; dup {
			return shared.NewDomainError("experience_log", "Append", shared.ErrAlreadyProcessed,
				"request "+entry.RequestID+" already applied")
		}
	}
	if err := s.updateCharacter(c); err != nil {
		return err
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	s.log = append(s.log, entry)
	if entry.RequestID != "" {
		s.applied[key] = struct{}{}
	}
	return nil
}

func (s *Store) updateCharacter(c *character.Character) error {
	stored, ok := s.characters[c.ID]
	if !ok {
		return shared.NotFound("character", c.ID)
	}
	if stored.Version != c.Version {
		return shared.NewDomainError("character", "Update", shared.ErrConcurrentModification, "version mismatch for "+c.ID)
	}

	c.Version++
	s.characters[c.ID] = c.Clone()
	return nil
}

// ExperienceLog returns a copy of the log for characterID, oldest first.
func (s *Store) ExperienceLog(characterID string) []character.ExperienceLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []character.ExperienceLogEntry
	for _, e := range s.log {
		if e.CharacterID == characterID {
			out = append(out, e)
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// HABITS
// ══════════════════════════════════════════════════════════════════════════════

// ListHabits returns the user's habits ordered by id.
func (s *Store) ListHabits(_ context.Context, userID string) ([]*habit.Habit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*habit.Habit, 0)
	for _, rec := range s.habits {
		if rec.userID == userID {
			out = append(out, rec.habit.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetHabit returns a habit by id.
func (s *Store) GetHabit(_ context.Context, id string) (*habit.Habit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.habits[id]
	if !ok {
		return nil, shared.NotFound("habit", id)
	}
	return rec.habit.Clone(), nil
}

// UpdateHabit replaces a stored habit when versions match.
func (s *Store) UpdateHabit(_ context.Context, h *habit.Habit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.habits[h.ID]
	if !ok {
		return shared.NotFound("habit", h.ID)
	}
	if rec.habit.Version != h.Version {
		return shared.NewDomainError("habit", "Update", shared.ErrConcurrentModification, "version mismatch for "+h.ID)
	}
	h.Version++
	rec.habit = h.Clone()
	s.habits[h.ID] = rec
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GOALS
// ══════════════════════════════════════════════════════════════════════════════

// ListGoals returns the user's goals ordered by id.
func (s *Store) ListGoals(_ context.Context, userID string) ([]*goal.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*goal.Goal, 0)
	for _, rec := range s.goals {
		if rec.userID == userID {
			out = append(out, rec.goal.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetGoal returns a goal by id.
func (s *Store) GetGoal(_ context.Context, id string) (*goal.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.goals[id]
	if !ok {
		return nil, shared.NotFound("goal", id)
	}
	return rec.goal.Clone(), nil
}

// UpdateGoal replaces a stored goal when versions match.
func (s *Store) UpdateGoal(_ context.Context, g *goal.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.goals[g.ID]
	if !ok {
		return shared.NotFound("goal", g.ID)
	}
	if rec.goal.Version != g.Version {
		return shared.NewDomainError("goal", "Update", shared.ErrConcurrentModification, "version mismatch for "+g.ID)
	}
	g.Version++
	rec.goal = g.Clone()
	s.goals[g.ID] = rec
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SCANNING
// ══════════════════════════════════════════════════════════════════════════════

// ListUserIDs pages through distinct user ids that own a character, habit or
// goal.
func (s *Store) ListUserIDs(_ context.Context, after string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	add := func(userID string) {
		if userID > after {
			seen[userID] = struct{}{}
		}
	}
	for _, c := range s.characters {
		add(c.UserID)
	}
	for _, rec := range s.habits {
		add(rec.userID)
	}
	for _, rec := range s.goals {
		add(rec.userID)
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}
