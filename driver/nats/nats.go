// Package nats builds a driver on Watermill's NATS Core pub/sub. Workers join
// one queue group per subject. Core NATS does not persist, so messages sent
// while no worker is subscribed are dropped; use jetstream for durability.
package nats

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	wmmessage "github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/ricco24/hermes/driver"
	"github.com/ricco24/hermes/driver/pubsub"
)

const (
	Name = "nats"

	QueueGroupPrefix = "hermes"
	ClientName       = "hermes"
)

var Capabilities = driver.Capabilities{
	Name:             Name,
	SupportsPriority: true,
	MaxMessageSize:   1024 * 1024,
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg wmnats.PublisherConfig, logger watermill.LoggerAdapter) (wmmessage.Publisher, error) {
	return wmnats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg wmnats.SubscriberConfig, logger watermill.LoggerAdapter) (wmmessage.Subscriber, error) {
	return wmnats.NewSubscriber(cfg, logger)
}

func init() {
	driver.RegisterWithCapabilities(Name, Build, Capabilities)
}

func Build(_ context.Context, cfg driver.Config, opts driver.Options) (driver.Driver, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		url = natsgo.DefaultURL
	}
	opts = opts.WithDefaults()

	marshaler := &wmnats.NATSMarshaler{}
	natsOpts := []natsgo.Option{
		natsgo.Name(ClientName),
		natsgo.MaxReconnects(-1),
	}
	noJetStream := wmnats.JetStreamConfig{Disabled: true}

	pub, err := PublisherFactory(wmnats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   marshaler,
		JetStream:   noJetStream,
	}, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("%s: publisher: %w", Name, err)
	}

	sub, err := SubscriberFactory(wmnats.SubscriberConfig{
		URL:              url,
		NatsOptions:      natsOpts,
		Unmarshaler:      marshaler,
		QueueGroupPrefix: QueueGroupPrefix,
		JetStream:        noJetStream,
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
