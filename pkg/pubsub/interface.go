package pubsub

import "context"

// Message represents a pub/sub message
type Message struct {
	Channel string
	Payload string
}

// Publisher defines the interface for publishing messages
type Publisher interface {
	Publish(ctx context.Context, channel string, message string) error
	Close() error
}

// Subscriber defines the interface for subscribing to messages. The returned
// channel is closed once the subscription ends.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, error)
	Unsubscribe(ctx context.Context, channels ...string) error
	Close() error
}

// PubSub combines Publisher and Subscriber
type PubSub interface {
	Publisher
	Subscriber
	Ping(ctx context.Context) error
}
