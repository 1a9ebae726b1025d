package bus

// Delivery is one raw message received from the broker for a subscribed
// channel.
type Delivery struct {
	Channel string
	Data    []byte
}

// Broker abstracts the underlying transport. Implementations must preserve
// publish order within a single channel; no cross-channel ordering is
// required or assumed.
type Broker interface {
	// Publish sends data to the named channel.
	Publish(channel string, data []byte) error
	// Subscribe routes deliveries for channel into inbox until the returned
	// unsubscribe function is called. A send into inbox may block; the bus
	// sizes inbox to absorb bursts.
	Subscribe(channel string, inbox chan<- Delivery) (func() error, error)
	// Close releases the transport. Safe to call more than once.
	Close() error
}
