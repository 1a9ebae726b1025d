package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warmeta/wahapedia-crawler/internal/metrics"
)

const (
	defaultRecentLimit = 100
	defaultRecentTTL   = time.Hour
	defaultInboxSize   = 256

	// selfTestChannel is reserved for connectivity checks; SelfTest drops
	// every subscription on it when it finishes.
	selfTestChannel = "scraper:test:pubsub"
	selfTestTimeout = 2 * time.Second
)

// Handler consumes one decoded envelope. Handlers run on the dispatch
// goroutine; a panic in one handler is recovered and logged without
// preventing delivery to the remaining handlers for the same message.
type Handler func(Envelope)

// Config controls bus behavior.
//   - Source: tag stamped into every published envelope.
//   - RecentLimit: per-channel recent-buffer capacity (default 100).
//   - RecentTTL: recent-buffer expiry from last write (default 1h).
//   - Logger: optional structured logger.
type Config struct {
	Source      string
	RecentLimit int
	RecentTTL   time.Duration
	Logger      *zap.Logger
}

// Bus is the broker client. One Bus owns one broker connection; it is safe
// for use from one publisher goroutine plus the dispatch goroutine it starts
// on first subscribe.
type Bus struct {
	broker Broker
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	handlers  map[string][]Handler
	unsubs    map[string]func() error
	recent    map[string]*recentBuffer
	lastStamp time.Time

	inbox       chan Delivery
	stopCh      chan struct{}
	doneCh      chan struct{}
	loopStarted bool
	closeOnce   sync.Once
}

// New wraps broker in a Bus. The broker may be nil; publishes then fail
// soft (returning false) and only the recent buffer records traffic.
func New(broker Broker, cfg Config) *Bus {
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = defaultRecentLimit
	}
	if cfg.RecentTTL <= 0 {
		cfg.RecentTTL = defaultRecentTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		broker:   broker,
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[string][]Handler),
		unsubs:   make(map[string]func() error),
		recent:   make(map[string]*recentBuffer),
		inbox:    make(chan Delivery, defaultInboxSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Publish stamps env with a timestamp and the configured source, serializes
// it, records it in the channel's recent buffer, and sends it to the broker.
// It returns false and logs on serialization or transport failure: a publish
// failure must never abort extraction.
func (b *Bus) Publish(channel string, env Envelope) bool {
	env.Timestamp = b.stamp().Format(time.RFC3339Nano)
	if env.Source == "" {
		env.Source = b.cfg.Source
	}

	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("envelope marshal failed",
			zap.String("channel", channel),
			zap.String("type", string(env.Type)),
			zap.Error(err),
		)
		metrics.ObservePublish(channel, false)
		return false
	}

	b.record(channel, env)

	if b.broker == nil {
		b.logger.Warn("publish dropped, no broker configured", zap.String("channel", channel))
		metrics.ObservePublish(channel, false)
		return false
	}
	if err := b.broker.Publish(channel, data); err != nil {
		b.logger.Warn("publish failed",
			zap.String("channel", channel),
			zap.String("type", string(env.Type)),
			zap.Error(err),
		)
		metrics.ObservePublish(channel, false)
		return false
	}

	b.logger.Debug("message published",
		zap.String("channel", channel),
		zap.String("type", string(env.Type)),
	)
	metrics.ObservePublish(channel, true)
	return true
}

// stamp returns a wall-clock time that never decreases across publishes from
// this bus, so envelope timestamps are monotonically non-decreasing.
func (b *Bus) stamp() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now().UTC()
	if now.Before(b.lastStamp) {
		now = b.lastStamp
	}
	b.lastStamp = now
	return now
}

func (b *Bus) record(channel string, env Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.recent[channel]
	if !ok {
		buf = newRecentBuffer(b.cfg.RecentLimit, b.cfg.RecentTTL)
		b.recent[channel] = buf
	}
	buf.add(env, time.Now())
}

// Recent returns up to limit most-recently-published envelopes for channel,
// newest first, independent of live subscription state.
func (b *Bus) Recent(channel string, limit int) []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.recent[channel]
	if !ok {
		return nil
	}
	return buf.snapshot(limit, time.Now())
}

// Subscribe registers handler for channel. The first registration for any
// channel starts the single background dispatch goroutine; later calls reuse
// it. Handlers for one channel run in registration order.
func (b *Bus) Subscribe(channel string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("subscribe to %s: handler is nil", channel)
	}
	if b.broker == nil {
		return fmt.Errorf("subscribe to %s: no broker configured", channel)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	first := len(b.handlers[channel]) == 0
	b.handlers[channel] = append(b.handlers[channel], handler)

	if first {
		unsub, err := b.broker.Subscribe(channel, b.inbox)
		if err != nil {
			b.handlers[channel] = b.handlers[channel][:len(b.handlers[channel])-1]
			return fmt.Errorf("subscribe to %s: %w", channel, err)
		}
		b.unsubs[channel] = unsub
		b.logger.Info("subscribed to channel", zap.String("channel", channel))
	}

	if !b.loopStarted {
		b.loopStarted = true
		go b.dispatch()
	}
	return nil
}

// dispatch is the bus's only background worker. It delivers broker messages
// to local handlers until Close signals the stop channel.
func (b *Bus) dispatch() {
	defer close(b.doneCh)
	for {
		select {
		case d := <-b.inbox:
			b.deliver(d)
		case <-b.stopCh:
			// Drain what the broker already handed over, then exit.
			for {
				select {
				case d := <-b.inbox:
					b.deliver(d)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(d Delivery) {
	var env Envelope
	if err := json.Unmarshal(d.Data, &env); err != nil {
		b.logger.Warn("discarding undecodable message",
			zap.String("channel", d.Channel),
			zap.Error(err),
		)
		return
	}

	b.mu.Lock()
	handlers := make([]Handler, len(b.handlers[d.Channel]))
	copy(handlers, b.handlers[d.Channel])
	b.mu.Unlock()

	for _, h := range handlers {
		b.invoke(d.Channel, h, env)
	}
}

func (b *Bus) invoke(channel string, h Handler, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("message handler panicked",
				zap.String("channel", channel),
				zap.Any("panic", r),
			)
		}
	}()
	h(env)
}

// SelfTest verifies round-trip pub/sub connectivity through the broker by
// subscribing to the reserved test channel and waiting for its own message to
// arrive. The wait is bounded even when ctx carries no deadline, and the
// test subscription is removed before returning.
func (b *Bus) SelfTest(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, selfTestTimeout)
	defer cancel()

	received := make(chan struct{}, 1)
	if err := b.Subscribe(selfTestChannel, func(Envelope) {
		select {
		case received <- struct{}{}:
		default:
		}
	}); err != nil {
		return err
	}
	defer b.dropChannel(selfTestChannel)

	if ok := b.Publish(selfTestChannel, Envelope{
		Type:    TypeStatusUpdate,
		Status:  "ping",
		Details: map[string]any{"task": "pubsub_self_test"},
	}); !ok {
		return fmt.Errorf("self test publish failed")
	}

	select {
	case <-received:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("self test wait: %w", ctx.Err())
	}
}

// dropChannel removes all local handlers for channel and releases its broker
// subscription.
func (b *Bus) dropChannel(channel string) {
	b.mu.Lock()
	unsub := b.unsubs[channel]
	delete(b.unsubs, channel)
	delete(b.handlers, channel)
	b.mu.Unlock()

	if unsub != nil {
		if err := unsub(); err != nil {
			b.logger.Warn("unsubscribe failed",
				zap.String("channel", channel),
				zap.Error(err))
		}
	}
}

// Close stops the dispatch loop, unsubscribes, and closes the broker. It is
// safe to call even if the bus was never successfully initialized.
func (b *Bus) Close(ctx context.Context) error {
	if b == nil {
		return nil
	}
	var err error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		started := b.loopStarted
		unsubs := b.unsubs
		b.unsubs = make(map[string]func() error)
		b.mu.Unlock()

		for channel, unsub := range unsubs {
			if uerr := unsub(); uerr != nil {
				b.logger.Warn("unsubscribe failed", zap.String("channel", channel), zap.Error(uerr))
			}
		}

		close(b.stopCh)
		if started {
			select {
			case <-b.doneCh:
			case <-ctx.Done():
				err = fmt.Errorf("bus close wait: %w", ctx.Err())
				return
			}
		}

		if b.broker != nil {
			if cerr := b.broker.Close(); cerr != nil {
				err = fmt.Errorf("close broker: %w", cerr)
			}
		}
	})
	return err
}
