// Package kafka builds a driver on Watermill's Kafka pub/sub. Workers share
// a consumer group, so each message is handled by one of them.
package kafka

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	wmmessage "github.com/ThreeDotsLabs/watermill/message"

	"github.com/ricco24/hermes/driver"
	"github.com/ricco24/hermes/driver/pubsub"
)

const (
	Name = "kafka"

	DefaultConsumerGroup = "hermes"
)

var Capabilities = driver.Capabilities{
	Name:             Name,
	SupportsPriority: true,
	MaxMessageSize:   1024 * 1024,
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg wmkafka.PublisherConfig, logger watermill.LoggerAdapter) (wmmessage.Publisher, error) {
	return wmkafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg wmkafka.SubscriberConfig, logger watermill.LoggerAdapter) (wmmessage.Subscriber, error) {
	return wmkafka.NewSubscriber(cfg, logger)
}

func init() {
	driver.RegisterWithCapabilities(Name, Build, Capabilities)
}

func Build(_ context.Context, cfg driver.Config, opts driver.Options) (driver.Driver, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%s: at least one broker is required", Name)
	}
	group := cfg.GetKafkaConsumerGroup()
	if group == "" {
		group = DefaultConsumerGroup
	}
	opts = opts.WithDefaults()

	pub, err := PublisherFactory(wmkafka.PublisherConfig{
		Brokers:   brokers,
		Marshaler: wmkafka.DefaultMarshaler{},
	}, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("%s: publisher: %w", Name, err)
	}

	sub, err := SubscriberFactory(wmkafka.SubscriberConfig{
		Brokers:       brokers,
		Unmarshaler:   wmkafka.DefaultMarshaler{},
		ConsumerGroup: group,
	}, opts.Logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("%s: subscriber: %w", Name, err)
	}

	d := pubsub.New(Capabilities, pub, sub, cfg.GetQueueName(), opts)
	if err := driver.SetupPriorityQueues(d, cfg.GetPriorityQueues()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}
