package channel

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	wmmessage "github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricco24/hermes/driver"
	"github.com/ricco24/hermes/driver/drivertest"
	"github.com/ricco24/hermes/driver/pubsub"
	"github.com/ricco24/hermes/message"
)

func TestConformance(t *testing.T) {
	drivertest.Suite{
		Capabilities:  Capabilities,
		AsyncDelivery: true,
		New: func(t *testing.T, opts driver.Options) driver.Driver {
			d := New("hermes", opts)
			t.Cleanup(func() { _ = d.Close() })
			return d
		},
	}.Run(t)
}

func TestRegistered(t *testing.T) {
	assert.True(t, driver.DefaultRegistry.Has(Name))
	caps := driver.GetCapabilities(Name)
	assert.Equal(t, Name, caps.Name)
	assert.True(t, caps.SupportsPriority)
	assert.False(t, caps.SupportsDelay)
}

func TestBuildUsesFactory(t *testing.T) {
	orig := Factory
	t.Cleanup(func() { Factory = orig })

	var got gochannel.Config
	Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (wmmessage.Publisher, wmmessage.Subscriber) {
		got = cfg
		return orig(cfg, logger)
	}

	d, err := Build(context.Background(), drivertest.Config{
		QueueName:      "jobs",
		PriorityQueues: map[string]string{"high": "jobs_high"},
	}, driver.Options{BatchSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.(*pubsub.Driver).Close() })

	assert.True(t, got.Persistent)
	assert.EqualValues(t, 4, got.OutputChannelBuffer)
	require.NoError(t, d.Send(context.Background(), message.New("x", nil), driver.PriorityHigh))
}

func TestBuildRejectsBadPriority(t *testing.T) {
	_, err := Build(context.Background(), drivertest.Config{
		PriorityQueues: map[string]string{"urgent": "q"},
	}, driver.Options{})
	require.Error(t, err)
}
