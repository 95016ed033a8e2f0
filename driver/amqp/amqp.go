// Package amqp builds a RabbitMQ driver on Watermill's AMQP pub/sub. Each
// priority is a durable work queue shared by every worker.
package amqp

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	wmmessage "github.com/ThreeDotsLabs/watermill/message"

	"github.com/ricco24/hermes/driver"
	"github.com/ricco24/hermes/driver/pubsub"
)

const Name = "amqp"

var Capabilities = driver.Capabilities{
	Name:             Name,
	SupportsPriority: true,
	MaxMessageSize:   128 * 1024 * 1024,
}

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg wmamqp.ConnectionConfig, logger watermill.LoggerAdapter) (*wmamqp.ConnectionWrapper, error) {
	return wmamqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg wmamqp.Config, logger watermill.LoggerAdapter, conn *wmamqp.ConnectionWrapper) (wmmessage.Publisher, error) {
	return wmamqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg wmamqp.Config, logger watermill.LoggerAdapter, conn *wmamqp.ConnectionWrapper) (wmmessage.Subscriber, error) {
	return wmamqp.NewSubscriberWithConnection(cfg, logger, conn)
}

// CloseConnection releases a connection after a failed build.
var CloseConnection = func(conn *wmamqp.ConnectionWrapper) error {
	return conn.Close()
}

func init() {
	driver.RegisterWithCapabilities(Name, Build, Capabilities)
}

// Build connects to cfg.GetRabbitMQURL() and shares one connection between
// the publisher and the subscriber.
func Build(_ context.Context, cfg driver.Config, opts driver.Options) (driver.Driver, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return nil, fmt.Errorf("%s: rabbitmq url is required", Name)
	}
	opts = opts.WithDefaults()

	conn, err := ConnectionFactory(wmamqp.ConnectionConfig{
		AmqpURI:   url,
		Reconnect: wmamqp.DefaultReconnectConfig(),
	}, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", Name, err)
	}

	amqpConfig := wmamqp.NewDurableQueueConfig(url)
	amqpConfig.Consume.Qos.PrefetchCount = opts.BatchSize

	pub, err := PublisherFactory(amqpConfig, opts.Logger, conn)
	if err != nil {
		_ = CloseConnection(conn)
		return nil, fmt.Errorf("%s: publisher: %w", Name, err)
	}
	sub, err := SubscriberFactory(amqpConfig, opts.Logger, conn)
	if err != nil {
		_ = pub.Close()
		_ = CloseConnection(conn)
		return nil, fmt.Errorf("%s: subscriber: %w", Name, err)
	}

	d := pubsub.New(Capabilities, pub, sub, cfg.GetQueueName(), opts)
	d.OnClose(func() error { return CloseConnection(conn) })
	if err := driver.SetupPriorityQueues(d, cfg.GetPriorityQueues()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}
