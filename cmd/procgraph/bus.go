package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meikuraledutech/procgraph"
	"github.com/meikuraledutech/procgraph/events"
)

type bus struct {
	publisher *events.Publisher
	close     func() error
}

// openBus builds the revision publisher for the configured event bus.
func openBus(ctx context.Context, logger *slog.Logger, kind string, brokers []string) (*bus, error) {
	switch kind {
	case "", "none":
		return &bus{close: func() error { return nil }}, nil

	case "gochannel":
		ch := events.NewGoChannel(logger)
		err := events.Listen(ctx, ch, logger, func(ctx context.Context, ev procgraph.RevisionEvent) error {
			logger.InfoContext(ctx, "revision committed",
				"key", ev.Key.String(),
				"revision", ev.Revision,
				"actor", ev.ActorID,
				"applied", ev.Applied,
			)
			return nil
		})
		if err != nil {
			ch.Close()
			return nil, err
		}
		pub := events.NewPublisher(ch, logger)
		return &bus{publisher: pub, close: pub.Close}, nil

	case "kafka":
		kp, err := events.NewKafkaPublisher(brokers, logger)
		if err != nil {
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		pub := events.NewPublisher(kp, logger)
		return &bus{publisher: pub, close: pub.Close}, nil

	default:
		return nil, fmt.Errorf("unsupported event bus %q", kind)
	}
}

func (b *bus) engineOptions() []procgraph.Option {
	if b.publisher == nil {
		return nil
	}
	return []procgraph.Option{procgraph.WithPublisher(b.publisher)}
}
