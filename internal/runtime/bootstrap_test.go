package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricco24/hermes/driver"
	"github.com/ricco24/hermes/driver/memory"
	"github.com/ricco24/hermes/internal/runtime/config"
	herrors "github.com/ricco24/hermes/internal/runtime/errors"
	"github.com/ricco24/hermes/internal/runtime/logging"
	"github.com/ricco24/hermes/lifecycle"
	"github.com/ricco24/hermes/message"
	"github.com/ricco24/hermes/signal"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.PollTimeout = 20 * time.Millisecond
	return &cfg
}

func TestBuildSignalsMemory(t *testing.T) {
	signals, err := BuildSignals(testConfig(), logging.Nop())
	require.NoError(t, err)
	assert.IsType(t, &signal.Memory{}, signals.Restart)
	assert.NotSame(t, signals.Restart, signals.Shutdown)
	assert.NoError(t, signals.Close())
}

func TestBuildSignalsRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.SignalStore = config.SignalStoreRedis
	cfg.RedisAddr = mr.Addr()

	signals, err := BuildSignals(cfg, logging.Nop())
	require.NoError(t, err)
	defer signals.Close()

	ctx := context.Background()
	require.NoError(t, signals.Shutdown.Trigger(ctx, time.Now()))
	assert.True(t, mr.Exists(cfg.ShutdownKey))
	assert.False(t, mr.Exists(cfg.RestartKey))
	assert.True(t, signals.Shutdown.Check(ctx, time.Now().Add(-time.Minute)))
}

func TestBuildSignalsFile(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.SignalStore = config.SignalStoreFile
	cfg.RestartFile = filepath.Join(dir, "restart")
	cfg.ShutdownFile = filepath.Join(dir, "shutdown")

	signals, err := BuildSignals(cfg, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, signals.Restart.Trigger(context.Background(), time.Time{}))

	_, err = os.Stat(cfg.RestartFile)
	assert.NoError(t, err)
	_, err = os.Stat(cfg.ShutdownFile)
	assert.True(t, os.IsNotExist(err))
}

func TestBuildSignalsErrors(t *testing.T) {
	_, err := BuildSignals(nil, logging.Nop())
	assert.ErrorIs(t, err, herrors.ErrConfigRequired)

	cfg := testConfig()
	cfg.SignalStore = "etcd"
	_, err = BuildSignals(cfg, logging.Nop())
	assert.ErrorIs(t, err, herrors.ErrUnknownSignalStore)
}

func TestBootstrapMemory(t *testing.T) {
	cfg := testConfig()
	cfg.MaxItems = 1

	rt, err := Bootstrap(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)
	defer rt.Close()

	assert.IsType(t, &memory.Driver{}, rt.Driver)
	assert.Nil(t, rt.Metrics)

	var handled *message.Message
	require.NoError(t, rt.Dispatcher.RegisterHandler("email", func(_ context.Context, msg *message.Message) error {
		handled = msg
		return nil
	}))
	sent := message.New("email", message.Payload{"to": "a@b.c"})
	require.NoError(t, rt.Dispatcher.Send(context.Background(), sent, driver.PriorityDefault))

	reason, err := rt.Dispatcher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ReasonMaxItems, reason)
	require.NotNil(t, handled)
	assert.True(t, sent.Equal(handled))
}

func TestBootstrapRestartSignal(t *testing.T) {
	rt, err := Bootstrap(context.Background(), testConfig(), logging.Nop())
	require.NoError(t, err)
	defer rt.Close()

	require.NoError(t, rt.Signals.Restart.Trigger(context.Background(), rt.Lifecycle.StartedAt()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reason, err := rt.Dispatcher.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ReasonRestart, reason)
}

func TestBootstrapMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsEnabled = true
	cfg.MaxItems = 1

	rt, err := Bootstrap(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)
	defer rt.Close()
	require.NotNil(t, rt.Metrics)

	require.NoError(t, rt.Dispatcher.RegisterHandler(Wildcard, func(context.Context, *message.Message) error { return nil }))
	require.NoError(t, rt.Dispatcher.Send(context.Background(), message.New("email", nil), driver.PriorityDefault))
	_, err = rt.Dispatcher.Run(context.Background())
	require.NoError(t, err)

	families, err := rt.Registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "hermes_messages_sent_total")
	assert.Contains(t, names, "hermes_messages_processed_total")
}

func TestBootstrapErrors(t *testing.T) {
	_, err := Bootstrap(context.Background(), nil, logging.Nop())
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Driver = ""
	_, err = Bootstrap(context.Background(), cfg, logging.Nop())
	var validation herrors.ConfigValidationError
	assert.ErrorAs(t, err, &validation)

	cfg = testConfig()
	cfg.Driver = "carrier-pigeon"
	_, err = Bootstrap(context.Background(), cfg, logging.Nop())
	assert.ErrorIs(t, err, driver.ErrUnknownDriver)

	_, err = Bootstrap(context.Background(), testConfig(), nil)
	assert.ErrorIs(t, err, herrors.ErrLoggerRequired)
}
