package ports

import "context"

// MessageHandler receives every message on a subscribed topic. It runs on the
// connection's dispatch path and must not block.
type MessageHandler func(topic string, payload []byte)

// Broker is one long-lived publish/subscribe connection.
type Broker interface {
	// Subscribe registers the fixed topic set. It is re-applied after every
	// (re)connect. Call before Connect.
	Subscribe(filters []string, h MessageHandler)
	// OnConnectionChange registers a hook fired on connect and connection loss.
	OnConnectionChange(fn func(connected bool))
	Connect(ctx context.Context) error
	// Publish hands payload to the transport. It returns false when the
	// connection is down and never waits for broker acknowledgement.
	Publish(topic string, payload []byte) bool
	IsConnected() bool
	Close()
}
