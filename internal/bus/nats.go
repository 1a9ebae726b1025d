package bus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBroker implements Broker on a core NATS connection. Core NATS preserves
// per-subject publish order for a single connection, which is the ordering
// guarantee the bus contract needs.
type NATSBroker struct {
	nc *nats.Conn
}

// DialNATS connects to the broker at url. Connection failure here is fatal to
// the run; callers surface it to the operator.
func DialNATS(url, name string) (*NATSBroker, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return &NATSBroker{nc: nc}, nil
}

// Publish sends data to the named channel.
func (b *NATSBroker) Publish(channel string, data []byte) error {
	if b.nc == nil || b.nc.IsClosed() {
		return fmt.Errorf("nats connection is not open")
	}
	if err := b.nc.Publish(channel, data); err != nil {
		return fmt.Errorf("nats publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe routes messages for channel into inbox. NATS invokes the callback
// on a per-subscription dispatch goroutine in arrival order, so pushing into
// inbox keeps per-channel ordering intact.
func (b *NATSBroker) Subscribe(channel string, inbox chan<- Delivery) (func() error, error) {
	if b.nc == nil || b.nc.IsClosed() {
		return nil, fmt.Errorf("nats connection is not open")
	}
	sub, err := b.nc.Subscribe(channel, func(msg *nats.Msg) {
		inbox <- Delivery{Channel: msg.Subject, Data: msg.Data}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe to %s: %w", channel, err)
	}
	return func() error {
		if err := sub.Unsubscribe(); err != nil {
			return fmt.Errorf("nats unsubscribe from %s: %w", channel, err)
		}
		return nil
	}, nil
}

// Close drains and closes the connection.
func (b *NATSBroker) Close() error {
	if b.nc == nil || b.nc.IsClosed() {
		return nil
	}
	b.nc.Close()
	return nil
}
