// Package memory contains an in-process Broker for tests and broker-less
// runs. It preserves per-channel publish order and can simulate an
// unavailable transport.
package memory

import (
	"fmt"
	"sync"

	"github.com/warmeta/wahapedia-crawler/internal/bus"
)

// Broker is an in-memory bus.Broker. Publishes are delivered synchronously
// to every registered inbox in subscription order.
type Broker struct {
	mu        sync.Mutex
	subs      map[string][]chan<- bus.Delivery
	published []bus.Delivery
	closed    bool
	failPubs  bool
}

// New returns an empty memory Broker.
func New() *Broker {
	return &Broker{subs: make(map[string][]chan<- bus.Delivery)}
}

// FailPublishes toggles simulated transport failure.
func (b *Broker) FailPublishes(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPubs = fail
}

// Publish records the message and forwards it to subscribers of channel.
// Delivery happens outside the lock so a slow inbox cannot wedge Subscribe
// or Close.
func (b *Broker) Publish(channel string, data []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("memory broker is closed")
	}
	if b.failPubs {
		b.mu.Unlock()
		return fmt.Errorf("memory broker unavailable")
	}
	b.published = append(b.published, bus.Delivery{Channel: channel, Data: append([]byte(nil), data...)})
	inboxes := make([]chan<- bus.Delivery, len(b.subs[channel]))
	copy(inboxes, b.subs[channel])
	b.mu.Unlock()

	for _, inbox := range inboxes {
		inbox <- bus.Delivery{Channel: channel, Data: append([]byte(nil), data...)}
	}
	return nil
}

// Subscribe registers inbox for channel deliveries.
func (b *Broker) Subscribe(channel string, inbox chan<- bus.Delivery) (func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("memory broker is closed")
	}
	b.subs[channel] = append(b.subs[channel], inbox)
	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		kept := b.subs[channel][:0]
		for _, s := range b.subs[channel] {
			if s != inbox {
				kept = append(kept, s)
			}
		}
		b.subs[channel] = kept
		return nil
	}, nil
}

// Subscribers reports how many inboxes are registered for channel.
func (b *Broker) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

// Published returns a copy of everything published so far.
func (b *Broker) Published() []bus.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bus.Delivery, len(b.published))
	copy(out, b.published)
	return out
}

// Close marks the broker closed; further publishes and subscribes fail.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string][]chan<- bus.Delivery)
	return nil
}
