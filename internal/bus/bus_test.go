package bus_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warmeta/wahapedia-crawler/internal/bus"
	"github.com/warmeta/wahapedia-crawler/internal/bus/memory"
)

func newTestBus(t *testing.T, broker bus.Broker) *bus.Bus {
	t.Helper()
	b := bus.New(broker, bus.Config{Source: "wahapedia-scraper"})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.Close(ctx)
	})
	return b
}

func TestPublishRecentRoundTrip(t *testing.T) {
	t.Parallel()

	b := newTestBus(t, memory.New())

	ok := b.Publish(bus.ChannelFactionDiscovered, bus.Envelope{
		Type:    bus.TypeFactionDiscovered,
		Version: "10th",
		Count:   2,
	})
	require.True(t, ok)

	recent := b.Recent(bus.ChannelFactionDiscovered, 1)
	require.Len(t, recent, 1)
	assert.Equal(t, bus.TypeFactionDiscovered, recent[0].Type)
	assert.Equal(t, "10th", recent[0].Version)
	assert.Equal(t, 2, recent[0].Count)
	assert.Equal(t, "wahapedia-scraper", recent[0].Source)
	assert.NotEmpty(t, recent[0].Timestamp)
}

func TestRecentBufferBounded(t *testing.T) {
	t.Parallel()

	b := newTestBus(t, memory.New())

	for i := 0; i < 150; i++ {
		ok := b.Publish(bus.ChannelUnitExtracted, bus.Envelope{
			Type:  bus.TypeUnitExtracted,
			Count: i,
		})
		require.True(t, ok)
	}

	recent := b.Recent(bus.ChannelUnitExtracted, 200)
	require.Len(t, recent, 100, "buffer must hold exactly the last 100 envelopes")
	// Newest first: counts 149 down to 50; the oldest 50 are evicted.
	assert.Equal(t, 149, recent[0].Count)
	assert.Equal(t, 50, recent[99].Count)
}

func TestTimestampsNonDecreasing(t *testing.T) {
	t.Parallel()

	b := newTestBus(t, memory.New())

	for i := 0; i < 20; i++ {
		require.True(t, b.Publish(bus.ChannelStatusStarted, bus.Envelope{
			Type:   bus.TypeStatusUpdate,
			Status: "started",
		}))
	}

	recent := b.Recent(bus.ChannelStatusStarted, 20)
	require.Len(t, recent, 20)
	for i := 1; i < len(recent); i++ {
		// recent is newest first.
		newer, err := time.Parse(time.RFC3339Nano, recent[i-1].Timestamp)
		require.NoError(t, err)
		older, err := time.Parse(time.RFC3339Nano, recent[i].Timestamp)
		require.NoError(t, err)
		assert.False(t, newer.Before(older), "timestamps must be non-decreasing")
	}
}

func TestSubscribeDeliversInPublishOrder(t *testing.T) {
	t.Parallel()

	b := newTestBus(t, memory.New())

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	err := b.Subscribe(bus.ChannelStatusCompleted, func(env bus.Envelope) {
		mu.Lock()
		got = append(got, env.Status)
		n := len(got)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
	})
	require.NoError(t, err)

	for _, status := range []string{"m1", "m2", "m3"} {
		require.True(t, b.Publish(bus.ChannelStatusCompleted, bus.Envelope{
			Type:   bus.TypeStatusUpdate,
			Status: status,
		}))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"m1", "m2", "m3"}, got)
}

func TestMultipleHandlersRegistrationOrderAndPanicIsolation(t *testing.T) {
	t.Parallel()

	b := newTestBus(t, memory.New())

	var mu sync.Mutex
	var calls []string
	done := make(chan struct{})

	require.NoError(t, b.Subscribe(bus.ChannelStatusFailed, func(bus.Envelope) {
		mu.Lock()
		calls = append(calls, "first")
		mu.Unlock()
		panic("first handler exploded")
	}))
	require.NoError(t, b.Subscribe(bus.ChannelStatusFailed, func(bus.Envelope) {
		mu.Lock()
		calls = append(calls, "second")
		mu.Unlock()
		close(done)
	}))

	require.True(t, b.Publish(bus.ChannelStatusFailed, bus.Envelope{
		Type:   bus.TypeStatusUpdate,
		Status: "failed",
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second handler never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestPublishWithBrokerUnavailableReturnsFalse(t *testing.T) {
	t.Parallel()

	broker := memory.New()
	broker.FailPublishes(true)
	b := newTestBus(t, broker)

	ok := b.Publish(bus.ChannelStatusStarted, bus.Envelope{
		Type:   bus.TypeStatusUpdate,
		Status: "started",
	})
	assert.False(t, ok, "publish must fail soft when the broker is down")

	// The recent buffer still records the attempt for inspection.
	assert.Len(t, b.Recent(bus.ChannelStatusStarted, 10), 1)
}

func TestPublishWithNilBrokerReturnsFalse(t *testing.T) {
	t.Parallel()

	b := newTestBus(t, nil)

	ok := b.Publish(bus.ChannelStatusStarted, bus.Envelope{
		Type:   bus.TypeStatusUpdate,
		Status: "started",
	})
	assert.False(t, ok)
}

func TestSelfTest(t *testing.T) {
	t.Parallel()

	b := newTestBus(t, memory.New())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, b.SelfTest(ctx))
}

func TestSelfTestReleasesItsSubscription(t *testing.T) {
	t.Parallel()

	broker := memory.New()
	b := newTestBus(t, broker)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, b.SelfTest(ctx))
	assert.Equal(t, 0, broker.Subscribers("scraper:test:pubsub"))

	// The channel is clean, so a repeat check subscribes fresh and passes.
	require.NoError(t, b.SelfTest(ctx))
	assert.Equal(t, 0, broker.Subscribers("scraper:test:pubsub"))
}

// silentBroker accepts all traffic but never delivers anything.
type silentBroker struct{}

func (silentBroker) Publish(string, []byte) error { return nil }
func (silentBroker) Subscribe(string, chan<- bus.Delivery) (func() error, error) {
	return func() error { return nil }, nil
}
func (silentBroker) Close() error { return nil }

func TestSelfTestBoundedWithoutDeadline(t *testing.T) {
	t.Parallel()

	b := newTestBus(t, silentBroker{})

	start := time.Now()
	err := b.SelfTest(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 30*time.Second)
}

func TestCloseWithoutInit(t *testing.T) {
	t.Parallel()

	b := bus.New(nil, bus.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, b.Close(ctx))
	// Close is idempotent.
	assert.NoError(t, b.Close(ctx))
}

func TestStatusChannelRouting(t *testing.T) {
	t.Parallel()

	assert.Equal(t, bus.ChannelStatusCompleted, bus.StatusChannel("completed"))
	assert.Equal(t, bus.ChannelStatusFailed, bus.StatusChannel("failed"))
	assert.Equal(t, bus.ChannelStatusFailed, bus.StatusChannel("error"))
	assert.Equal(t, bus.ChannelStatusStarted, bus.StatusChannel("started"))
	assert.Equal(t, bus.ChannelStatusStarted, bus.StatusChannel("anything-else"))
}

func TestConveniencePublishers(t *testing.T) {
	t.Parallel()

	b := newTestBus(t, memory.New())

	require.True(t, b.PublishFactionDiscovered("10th", []string{"orks"}, 1))
	require.True(t, b.PublishStatus("completed", map[string]any{"task": "faction_extraction"}))
	require.True(t, b.PublishVersionChange("9th", "10th"))

	recent := b.Recent(bus.ChannelFactionDiscovered, 1)
	require.Len(t, recent, 1)
	assert.Equal(t, bus.TypeFactionDiscovered, recent[0].Type)

	recent = b.Recent(bus.ChannelVersionChange, 1)
	require.Len(t, recent, 1)
	assert.Equal(t, "9th", recent[0].Details["previous_version"])
}

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	valid := bus.Envelope{Type: bus.TypeFactionDiscovered}
	assert.NoError(t, valid.Validate())

	missingStatus := bus.Envelope{Type: bus.TypeStatusUpdate}
	assert.Error(t, missingStatus.Validate())

	unknown := bus.Envelope{Type: bus.MessageType(fmt.Sprintf("bogus-%d", 1))}
	assert.Error(t, unknown.Validate())
}
