package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/habitquest/progression-engine/internal/domain/character"
	"github.com/habitquest/progression-engine/internal/domain/goal"
	"github.com/habitquest/progression-engine/internal/domain/integrity"
	"github.com/habitquest/progression-engine/internal/domain/shared"
	"github.com/habitquest/progression-engine/internal/domain/store/mocks"
	"github.com/habitquest/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/habitquest/progression-engine/internal/infrastructure/telemetry"
	"github.com/habitquest/progression-engine/pkg/timeutil"
)

var now = time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	c, err := character.New("char-1", "user-1", now)
	require.NoError(t, err)
	require.NoError(t, st.CreateCharacter(ctx, c))
	require.NoError(t, st.CreateGoal(ctx, "user-1", &goal.Goal{ID: "goal-1", CharacterID: "char-1", Progress: 100}))
	return st
}

func TestCheckIntegrity_ScenarioE(t *testing.T) {
	st := seededStore(t)
	metrics := telemetry.NewMetrics("test")
	h := NewCheckIntegrityHandler(st, nil, metrics, timeutil.Fixed(now), nil)

	report, err := h.Handle(context.Background(), CheckIntegrityQuery{UserID: "user-1"})
	require.NoError(t, err)

	assert.True(t, report.IsValid)
	assert.Empty(t, report.Errors)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, integrity.CodeGoalCompletionMismatch, report.Warnings[0].Code)
	assert.Equal(t, "goal-1", report.Warnings[0].EntityID)
	assert.NotEmpty(t, report.Recommendations)

	g, err := st.GetGoal(context.Background(), "goal-1")
	require.NoError(t, err)
	assert.Nil(t, g.CompletedAt, "check never writes")
}

func TestCheckIntegrity_MissingCharacterIsAFinding(t *testing.T) {
	h := NewCheckIntegrityHandler(memory.New(), nil, nil, timeutil.Fixed(now), nil)

	report, err := h.Handle(context.Background(), CheckIntegrityQuery{UserID: "ghost"})
	require.NoError(t, err)
	assert.False(t, report.IsValid)
	assert.Equal(t, map[integrity.Code]bool{integrity.CodeCharacterMissing: true}, report.Codes())
}

func TestCheckIntegrity_ServesCachedReport(t *testing.T) {
	cached := &integrity.Report{UserID: "user-1", CheckedAt: now.Add(-time.Minute), IsValid: true}
	cache := new(mocks.ReportCache)
	cache.On("Get", mock.Anything, "user-1").Return(cached, true, nil).Once()
	st := new(mocks.Store)

	h := NewCheckIntegrityHandler(st, cache, nil, timeutil.Fixed(now), nil)
	report, err := h.Handle(context.Background(), CheckIntegrityQuery{UserID: "user-1"})
	require.NoError(t, err)

	assert.Same(t, cached, report)
	st.AssertNotCalled(t, "ListCharacters", mock.Anything, mock.Anything)
	cache.AssertExpectations(t)
}

func TestCheckIntegrity_FreshBypassesCache(t *testing.T) {
	cache := new(mocks.ReportCache)
	cache.On("Set", mock.Anything, mock.MatchedBy(func(r *integrity.Report) bool {
		return r.UserID == "user-1" && len(r.Warnings) == 1
	})).Return(nil).Once()

	h := NewCheckIntegrityHandler(seededStore(t), cache, nil, timeutil.Fixed(now), nil)
	_, err := h.Handle(context.Background(), CheckIntegrityQuery{UserID: "user-1", Fresh: true})
	require.NoError(t, err)

	cache.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	cache.AssertExpectations(t)
}

func TestCheckIntegrity_CacheFailuresAreIgnored(t *testing.T) {
	cache := new(mocks.ReportCache)
	cache.On("Get", mock.Anything, "user-1").Return(nil, false, errors.New("redis down"))
	cache.On("Set", mock.Anything, mock.Anything).Return(errors.New("redis down"))

	h := NewCheckIntegrityHandler(seededStore(t), cache, nil, timeutil.Fixed(now), nil)
	report, err := h.Handle(context.Background(), CheckIntegrityQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, report.Warnings, 1)
}

func TestCheckIntegrity_LoadFailure(t *testing.T) {
	st := new(mocks.Store)
	st.On("ListCharacters", mock.Anything, "user-1").Return(nil, errors.New("connection reset"))

	h := NewCheckIntegrityHandler(st, nil, nil, timeutil.Fixed(now), nil)
	_, err := h.Handle(context.Background(), CheckIntegrityQuery{UserID: "user-1"})
	require.Error(t, err)
	assert.True(t, shared.IsStorage(err))
	assert.True(t, shared.IsRetryable(err))
}

func TestCheckIntegrity_RequiresUserID(t *testing.T) {
	h := NewCheckIntegrityHandler(memory.New(), nil, nil, nil, nil)
	_, err := h.Handle(context.Background(), CheckIntegrityQuery{})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}
