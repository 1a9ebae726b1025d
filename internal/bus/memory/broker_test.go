package memory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warmeta/wahapedia-crawler/internal/bus"
	"github.com/warmeta/wahapedia-crawler/internal/bus/memory"
)

func TestPublishDeliversOutsideLock(t *testing.T) {
	t.Parallel()

	b := memory.New()
	stuck := make(chan bus.Delivery) // unbuffered, nobody reading yet
	_, err := b.Subscribe("scraper:unit:extracted", stuck)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- b.Publish("scraper:unit:extracted", []byte(`{}`)) }()

	// Let the publisher reach the pending send.
	time.Sleep(50 * time.Millisecond)

	// With a delivery still pending the broker must stay usable.
	inbox := make(chan bus.Delivery, 1)
	unsub, err := b.Subscribe("scraper:unit:extracted", inbox)
	require.NoError(t, err)
	require.NoError(t, unsub())
	assert.Equal(t, 1, b.Subscribers("scraper:unit:extracted"))

	d := <-stuck
	assert.Equal(t, "scraper:unit:extracted", d.Channel)
	require.NoError(t, <-done)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	b := memory.New()
	inbox := make(chan bus.Delivery, 4)
	unsub, err := b.Subscribe("scraper:status:started", inbox)
	require.NoError(t, err)

	require.NoError(t, b.Publish("scraper:status:started", []byte(`{}`)))
	require.NoError(t, unsub())
	require.NoError(t, b.Publish("scraper:status:started", []byte(`{}`)))

	assert.Len(t, inbox, 1)
	assert.Equal(t, 0, b.Subscribers("scraper:status:started"))
	assert.Len(t, b.Published(), 2)
}
