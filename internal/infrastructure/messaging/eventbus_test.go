package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitquest/progression-engine/internal/domain/shared"
	"github.com/habitquest/progression-engine/internal/infrastructure/telemetry"
)

var at = time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)

func levelUp() shared.Event {
	return shared.NewLevelUpEvent("char-1", "user-1", 4, 5, []string{"Bronze Shield"}, at)
}

func TestInMemoryEventBus_Sync(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Metrics: telemetry.NewMetrics("bustest")})

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(shared.Event) error { return errors.New("feed down") }))
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(shared.Event) error { panic("nil feed") }))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(levelUp()))
	require.NoError(t, bus.Publish(shared.NewGoalCompletedEvent("goal-1", "char-1", "user-1", 50, at)))

	assert.Equal(t, []shared.EventType{shared.EventLevelUp}, typed)
	assert.Equal(t, []shared.EventType{shared.EventLevelUp, shared.EventGoalCompleted}, all)

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(levelUp()), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventLevelUp, func(shared.Event) error { return nil }), ErrEventBusClosed)
	assert.Error(t, bus.Publish(nil))
}

func TestInMemoryEventBus_AsyncCloseWaits(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var handled atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		handled.Add(1)
		return nil
	}))

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(levelUp()))
	}
	require.NoError(t, bus.Close())
	assert.Equal(t, int32(10), handled.Load())
}

func TestSafeCall_RecoversPanic(t *testing.T) {
	err := safeCall(levelUp(), func(shared.Event) error { panic("boom") })
	assert.ErrorIs(t, err, ErrHandlerPanic)
}

// fakePubSub loops published messages back to the subscription.
type fakePubSub struct {
	mu        sync.Mutex
	published []string
	ch        chan RedisMessage
	failPub   bool
}

func newFakePubSub() *fakePubSub { return &fakePubSub{ch: make(chan RedisMessage, 16)} }

func (f *fakePubSub) Publish(_ context.Context, channel, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPub {
		return errors.New("connection refused")
	}
	f.published = append(f.published, message)
	f.ch <- RedisMessage{Channel: channel, Payload: message}
	return nil
}

func (f *fakePubSub) Subscribe(context.Context, ...string) (<-chan RedisMessage, func() error, error) {
	return f.ch, func() error { return nil }, nil
}

func TestRedisEventBus(t *testing.T) {
	ps := newFakePubSub()
	bus, err := NewRedisEventBus(RedisEventBusConfig{Client: ps, InstanceID: "instance-a"})
	require.NoError(t, err)

	received := make(chan shared.Event, 4)
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		received <- e
		return nil
	}))

	// Local publish: delivered once, and the echo from Redis is skipped.
	require.NoError(t, bus.Publish(levelUp()))
	select {
	case e := <-received:
		_, ok := e.(shared.LevelUpEvent)
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("local event not delivered")
	}

	ps.mu.Lock()
	require.Len(t, ps.published, 1)
	var env eventEnvelope
	require.NoError(t, json.Unmarshal([]byte(ps.published[0]), &env))
	ps.mu.Unlock()
	assert.Equal(t, "instance-a", env.InstanceID)
	assert.Equal(t, shared.EventLevelUp, env.EventType)
	assert.Equal(t, "user-1", env.Payload["user_id"])

	// Remote publish from another instance arrives as a RemoteEvent.
	env.InstanceID = "instance-b"
	data, err := json.Marshal(env)
	require.NoError(t, err)
	ps.ch <- RedisMessage{Channel: DefaultChannel, Payload: string(data)}

	select {
	case e := <-received:
		remote, ok := e.(*RemoteEvent)
		require.True(t, ok)
		assert.Equal(t, "char-1", remote.AggregateID())
		assert.EqualValues(t, 5, remote.Payload()["new_level"])
	case <-time.After(time.Second):
		t.Fatal("remote event not delivered")
	}

	// A failed fan-out still delivers locally.
	ps.mu.Lock()
	ps.failPub = true
	ps.mu.Unlock()
	require.NoError(t, bus.Publish(levelUp()))
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("event not delivered after redis failure")
	}

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(levelUp()), ErrEventBusClosed)
}

func TestNewRedisEventBus_RequiresClient(t *testing.T) {
	_, err := NewRedisEventBus(RedisEventBusConfig{})
	assert.Error(t, err)
}
