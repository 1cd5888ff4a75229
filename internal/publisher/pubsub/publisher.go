// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// EventAttribute carries the event name on every message.
const EventAttribute = "event"

// Publisher publishes JSON payloads to one topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	// Attributes are added to every message.
	Attributes map[string]string
}

// New wraps an existing topic. The caller keeps ownership of the client.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Dial connects to projectID and verifies that topicID exists.
func Dial(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check pubsub topic %s: %w", topicID, err)
	}
	if !ok {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub topic %s does not exist", topicID)
	}
	return &Publisher{client: client, topic: topic}, nil
}

// Publish marshals the payload to JSON and waits for the server ID.
func (p *Publisher) Publish(ctx context.Context, event string, payload any) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	attrs := make(map[string]string, len(p.Attributes)+1)
	for k, v := range p.Attributes {
		attrs[k] = v
	}
	if event != "" {
		attrs[EventAttribute] = event
	}

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client if Dial created it.
func (p *Publisher) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}
