package events

import (
	"errors"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
)

// kafkaMarshaler partitions by version key so revisions of one version stay ordered.
var kafkaMarshaler = kafka.NewWithPartitioningMarshaler(func(topic string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(KeyMetadataKey), nil
})

// NewKafkaPublisher returns a watermill publisher writing to the given brokers.
func NewKafkaPublisher(brokers []string, logger *slog.Logger) (*kafka.Publisher, error) {
	if len(brokers) == 0 || brokers[0] == "" {
		return nil, errors.New("events: no kafka brokers configured")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll

	return kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafkaMarshaler,
			OverwriteSaramaConfig: saramaConfig,
			OTELEnabled:           true,
		},
		watermill.NewSlogLogger(logger),
	)
}

// NewKafkaSubscriber returns a subscriber in consumer group "cg-<group>".
func NewKafkaSubscriber(brokers []string, group string, logger *slog.Logger) (*kafka.Subscriber, error) {
	if len(brokers) == 0 || brokers[0] == "" {
		return nil, errors.New("events: no kafka brokers configured")
	}

	saramaConfig := kafka.DefaultSaramaSubscriberConfig()
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	return kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafkaMarshaler,
			OverwriteSaramaConfig: saramaConfig,
			ConsumerGroup:         "cg-" + group,
			OTELEnabled:           true,
		},
		watermill.NewSlogLogger(logger),
	)
}
