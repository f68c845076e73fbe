package observability

import (
	"context"
	"log"
)

// Publisher is the event bus used for lifecycle and domain events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

var defaultPublisher Publisher

func SetPublisher(publisher Publisher) {
	defaultPublisher = publisher
}

// PublishEvent sends event on the default publisher. It is a no-op until
// SetPublisher is called.
func PublishEvent(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	if defaultPublisher == nil {
		return nil
	}

	err := defaultPublisher.Publish(ctx, routingKey, event, headers)
	if err != nil {
		IncAMQPPublishError()
		log.Printf("event publish failed routing_key=%s err=%v", routingKey, err)
	}
	return err
}
