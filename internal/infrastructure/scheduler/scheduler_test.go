package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "counts runs" }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestScheduler_Register(t *testing.T) {
	s := New(DefaultConfig())

	require.NoError(t, s.Register("@every 1h", &countingJob{name: "a"}))
	require.NoError(t, s.Register("*/15 * * * *", &countingJob{name: "b"}))

	err := s.Register("@every 1h", &countingJob{name: "a"})
	assert.ErrorIs(t, err, ErrJobAlreadyExists)

	err = s.Register("not a schedule", &countingJob{name: "c"})
	assert.Error(t, err)

	assert.ErrorIs(t, s.Register("@every 1h", nil), ErrNilJob)

	jobs := s.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Name)
	assert.Equal(t, "*/15 * * * *", jobs[1].Schedule)
}

func TestScheduler_RunNowRecordsHistory(t *testing.T) {
	s := New(DefaultConfig())
	ok := &countingJob{name: "ok"}
	bad := &countingJob{name: "bad", err: errors.New("boom")}
	require.NoError(t, s.Register("@every 1h", ok))
	require.NoError(t, s.Register("@every 1h", bad))

	var completed []string
	s.OnJobComplete(func(r JobResult) { completed = append(completed, r.JobName) })

	res, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)

	res, err = s.RunNow(context.Background(), "bad")
	assert.EqualError(t, err, "boom")
	assert.False(t, res.Success)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.Equal(t, int32(1), ok.runs.Load())
	assert.Equal(t, []string{"ok", "bad"}, completed)

	history := s.History(0)
	require.Len(t, history, 2)
	assert.Equal(t, "bad", history[1].JobName)
	assert.Len(t, s.History(1), 1)

	for _, info := range s.ListJobs() {
		if info.Name == "bad" {
			assert.Equal(t, int64(1), info.FailCount)
		}
	}
}

func TestScheduler_JobTimeout(t *testing.T) {
	s := New(Config{JobTimeout: 20 * time.Millisecond})
	require.NoError(t, s.Register("@every 1h", &blockingJob{}))

	_, err := s.RunNow(context.Background(), "blocking")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type blockingJob struct{}

func (blockingJob) Name() string        { return "blocking" }
func (blockingJob) Description() string { return "waits for cancellation" }

func (blockingJob) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestScheduler_Lifecycle(t *testing.T) {
	s := New(DefaultConfig())
	require.NoError(t, s.Register("@every 1h", &countingJob{name: "a"}))

	assert.ErrorIs(t, s.Stop(context.Background()), ErrSchedulerNotRunning)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.False(t, jobs[0].NextRun.IsZero())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.IsRunning())
}
