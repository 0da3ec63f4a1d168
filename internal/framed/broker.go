package framed

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Broker fans out completed framed messages to in-process subscribers
// keyed by (transport_id, namespace): one broadcast topic per pair. Built
// on watermill's in-memory gochannel pub/sub.
type Broker struct {
	mu     sync.Mutex
	pubsub *gochannel.GoChannel
}

// NewBroker creates a Broker backed by an in-memory gochannel pub/sub that
// logs through watermill's no-op logger.
func NewBroker() *Broker {
	return &Broker{
		pubsub: gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{}),
	}
}

// Topic returns the broadcast topic name for a (transportID, namespace)
// pair.
func Topic(transportID, namespace string) string {
	return transportID + ":" + namespace
}

// Publish fans out payload (a reassembled message body) to all subscribers
// of (transportID, namespace).
func (b *Broker) Publish(transportID, namespace string, payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return b.pubsub.Publish(Topic(transportID, namespace), msg)
}

// Subscribe returns a channel of messages published for (transportID,
// namespace). The channel closes when ctx is done or the broker is closed.
func (b *Broker) Subscribe(ctx context.Context, transportID, namespace string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, Topic(transportID, namespace))
}

// Close releases the broker's resources.
func (b *Broker) Close() error {
	return b.pubsub.Close()
}
