package goal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func TestGoal_SetProgress(t *testing.T) {
	g := &Goal{ID: "g1", CharacterID: "c1"}

	assert.False(t, g.SetProgress(40, now))
	assert.Nil(t, g.CompletedAt)

	assert.True(t, g.SetProgress(150, now), "first completion")
	assert.Equal(t, 100, g.Progress)
	require.NotNil(t, g.CompletedAt)
	assert.Equal(t, now, *g.CompletedAt)

	assert.False(t, g.SetProgress(100, now.Add(time.Hour)), "already complete")
	assert.Equal(t, now, *g.CompletedAt, "timestamp kept")

	assert.False(t, g.SetProgress(-5, now))
	assert.Equal(t, 0, g.Progress)
	assert.Nil(t, g.CompletedAt)
}

func TestGoal_ReconcileIsFixedPoint(t *testing.T) {
	g := &Goal{ID: "g1", CharacterID: "c1", Progress: 100}
	assert.False(t, g.IsConsistent())

	assert.True(t, g.Reconcile(now))
	assert.True(t, g.IsConsistent())
	assert.False(t, g.Reconcile(now.Add(time.Hour)))

	ts := now
	stale := &Goal{ID: "g2", CharacterID: "c1", Progress: 60, CompletedAt: &ts}
	assert.True(t, stale.Reconcile(now))
	assert.Nil(t, stale.CompletedAt)
}

func TestGoal_Validate(t *testing.T) {
	require.NoError(t, (&Goal{ID: "g", CharacterID: "c", Progress: 50}).Validate())
	assert.Error(t, (&Goal{CharacterID: "c"}).Validate())
	assert.Error(t, (&Goal{ID: "g"}).Validate())
	assert.Error(t, (&Goal{ID: "g", CharacterID: "c", Progress: 101}).Validate())
	assert.Error(t, (&Goal{ID: "g", CharacterID: "c", Progress: -1}).Validate())
	assert.Error(t, (&Goal{ID: "g", CharacterID: "c", Progress: 100, CompletedAt: &time.Time{}}).Validate())
}
