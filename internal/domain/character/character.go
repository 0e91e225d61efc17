// Package character contains the Character aggregate and the pure progression
// rules applied to it: the leveling policy, milestone unlocks and the
// achievement rule evaluator.
//
// Nothing in this package performs I/O. The application layer loads a
// character, calls Progress, and persists the mutated aggregate as one write.
package character

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/habitquest/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ATTRIBUTES
// ══════════════════════════════════════════════════════════════════════════════

// Core attribute names.
const (
	AttributeStrength = "strength"
	AttributeAgility  = "agility"
	AttributeWisdom   = "wisdom"
	AttributeCharisma = "charisma"
)

// CoreAttributes lists every core attribute in display order.
var CoreAttributes = []string{AttributeStrength, AttributeAgility, AttributeWisdom, AttributeCharisma}

// IsCoreAttribute reports whether name is one of CoreAttributes.
func IsCoreAttribute(name string) bool {
	for _, a := range CoreAttributes {
		if a == name {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// STRING SET
// ══════════════════════════════════════════════════════════════════════════════

// StringSet is an unordered set of names. Achievements and accessories are
// stored as sets so duplicates cannot be represented.
type StringSet map[string]struct{}

// NewStringSet builds a set from items, ignoring blanks and repeats.
func NewStringSet(items ...string) StringSet {
	s := make(StringSet, len(items))
	for _, it := range items {
		s.Add(it)
	}
	return s
}

// Add inserts item and reports whether it was new.
func (s StringSet) Add(item string) bool {
	if item == "" {
		return false
	}
	if _, ok := s[item]; ok {
		return false
	}
	s[item] = struct{}{}
	return true
}

// Has reports membership.
func (s StringSet) Has(item string) bool {
	_, ok := s[item]
	return ok
}

// Len returns the number of members.
func (s StringSet) Len() int { return len(s) }

// Sorted returns the members in lexical order.
func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy.
func (s StringSet) Clone() StringSet {
	out := make(StringSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Difference returns the members of candidates not in s, sorted.
func (s StringSet) Difference(candidates StringSet) []string {
	out := make([]string, 0)
	for k := range candidates {
		if !s.Has(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Character is a user's game avatar. Each user owns exactly one.
type Character struct {
	ID     string
	UserID string

	// Level is always >= 1 and derived from Experience by LevelFor.
	Level int

	// Experience is the lifetime total, never negative.
	Experience int

	Attributes       map[string]int
	CustomAttributes map[string]int

	Achievements StringSet
	Accessories  StringSet

	// Version is the optimistic concurrency token. Stores increment it on
	// every successful update.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a fresh character at level 1 with zeroed core attributes.
func New(id, userID string, now time.Time) (*Character, error) {
	if strings.TrimSpace(id) == "" {
		return nil, shared.Invalid("character", "id", "must not be empty")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, shared.Invalid("character", "user_id", "must not be empty")
	}

	attrs := make(map[string]int, len(CoreAttributes))
	for _, a := range CoreAttributes {
		attrs[a] = 0
	}

	return &Character{
		ID:               id,
		UserID:           userID,
		Level:            1,
		Experience:       0,
		Attributes:       attrs,
		CustomAttributes: make(map[string]int),
		Achievements:     NewStringSet(),
		Accessories:      NewStringSet(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Validate checks the record against the character schema.
func (c *Character) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return shared.Invalid("character", "id", "must not be empty")
	}
	if strings.TrimSpace(c.UserID) == "" {
		return shared.Invalid("character", "user_id", "must not be empty")
	}
	if c.Level < 1 {
		return shared.Invalid("character", "level", "must be at least 1")
	}
	if c.Experience < 0 {
		return shared.Invalid("character", "experience", "must not be negative")
	}
	for name, v := range c.Attributes {
		if v < 0 {
			return shared.Invalid("character", "attributes."+name, "must not be negative")
		}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without aliasing the source.
func (c *Character) Clone() *Character {
	cp := *c
	cp.Attributes = cloneInts(c.Attributes)
	cp.CustomAttributes = cloneInts(c.CustomAttributes)
	cp.Achievements = c.Achievements.Clone()
	cp.Accessories = c.Accessories.Clone()
	return &cp
}

// IncrementAttribute adds delta to a core or custom attribute and returns the
// new value.
func (c *Character) IncrementAttribute(name string, custom bool, delta int) (int, error) {
	if name == "" {
		return 0, shared.Invalid("character", "attribute", "must not be empty")
	}
	if custom {
		if c.CustomAttributes == nil {
			c.CustomAttributes = make(map[string]int)
		}
		c.CustomAttributes[name] += delta
		return c.CustomAttributes[name], nil
	}
	if !IsCoreAttribute(name) {
		return 0, shared.Invalid("character", "attribute", fmt.Sprintf("unknown core attribute %q", name))
	}
	if c.Attributes == nil {
		c.Attributes = make(map[string]int)
	}
	c.Attributes[name] += delta
	return c.Attributes[name], nil
}

func cloneInts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
