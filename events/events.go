// Package events announces committed process revisions over watermill.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/meikuraledutech/procgraph"
)

// Topic carries one message per committed revision.
const Topic = "procgraph.revisions"

// Metadata keys set on every message.
const (
	KeyMetadataKey       = "key"
	ProcessIDMetadataKey = "process_id"
	RevisionMetadataKey  = "revision"
)

// Publisher implements procgraph.Publisher on a watermill publisher.
type Publisher struct {
	publisher message.Publisher
	topic     string
	logger    *slog.Logger
}

// NewPublisher wraps pub. Messages go to Topic.
func NewPublisher(pub message.Publisher, logger *slog.Logger) *Publisher {
	return &Publisher{
		publisher: pub,
		topic:     Topic,
		logger:    logger.With("module", "events"),
	}
}

// PublishRevision sends ev as a JSON message keyed by its version key.
func (p *Publisher) PublishRevision(ctx context.Context, ev procgraph.RevisionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal revision: %w", err)
	}

	msg := message.NewMessage("rev-"+watermill.NewULID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(KeyMetadataKey, ev.Key.String())
	msg.Metadata.Set(ProcessIDMetadataKey, ev.Key.ProcessID)
	msg.Metadata.Set(RevisionMetadataKey, strconv.FormatInt(ev.Revision, 10))

	p.logger.DebugContext(ctx, "publishing revision", "key", ev.Key.String(), "revision", ev.Revision, "topic", p.topic)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", ev.Key, err)
	}
	return nil
}

// Close closes the underlying publisher.
func (p *Publisher) Close() error {
	return p.publisher.Close()
}

// Handler consumes one revision event.
type Handler func(ctx context.Context, ev procgraph.RevisionEvent) error

// Listen subscribes to Topic and calls handle for every message until ctx is done.
// Messages that fail to decode are acked and dropped; handler errors nack the message.
func Listen(ctx context.Context, sub message.Subscriber, logger *slog.Logger, handle Handler) error {
	messages, err := sub.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("events: subscribe: %w", err)
	}

	logger = logger.With("module", "events")
	go func() {
		for msg := range messages {
			var ev procgraph.RevisionEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				logger.Error("dropping undecodable revision message", "uuid", msg.UUID, "error", err)
				msg.Ack()
				continue
			}
			if err := handle(msg.Context(), ev); err != nil {
				logger.Error("revision handler failed", "key", ev.Key.String(), "error", err)
				msg.Nack()
				continue
			}
			msg.Ack()
		}
	}()

	return nil
}
