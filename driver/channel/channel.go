// Package channel provides an in-process driver on top of Watermill's Go
// channel pub/sub. Useful for tests and local development.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	wmmessage "github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/ricco24/hermes/driver"
	"github.com/ricco24/hermes/driver/pubsub"
)

const Name = "channel"

var Capabilities = driver.Capabilities{
	Name:             Name,
	SupportsPriority: true,
}

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (wmmessage.Publisher, wmmessage.Subscriber) {
	ps := gochannel.NewGoChannel(cfg, logger)
	return ps, ps
}

func init() {
	driver.RegisterWithCapabilities(Name, Build, Capabilities)
}

// Build creates a persistent channel driver, so messages sent before the
// first Wait are still delivered.
func Build(_ context.Context, cfg driver.Config, opts driver.Options) (driver.Driver, error) {
	d := New(cfg.GetQueueName(), opts)
	if err := driver.SetupPriorityQueues(d, cfg.GetPriorityQueues()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func New(queue string, opts driver.Options) *pubsub.Driver {
	opts = opts.WithDefaults()
	pub, sub := Factory(gochannel.Config{
		OutputChannelBuffer: int64(opts.BatchSize),
		Persistent:          true,
	}, opts.Logger)
	return pubsub.New(Capabilities, pub, sub, queue, opts)
}
