package signal

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
)

// Store is the minimal shared key-value contract a KeyValue signal needs.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// KeyValue persists the marker as a decimal UNIX timestamp under one key.
type KeyValue struct {
	store Store
	key   string
	opts  options
}

func NewKeyValue(store Store, key string, opts ...Option) *KeyValue {
	return &KeyValue{store: store, key: key, opts: newOptions(opts)}
}

func (k *KeyValue) Key() string { return k.key }

func (k *KeyValue) Check(ctx context.Context, startedAt time.Time) bool {
	recorded, ok, err := k.Recorded(ctx)
	if err != nil {
		k.opts.logger.Error("Failed to read signal", err, watermill.LogFields{"key": k.key})
		return false
	}
	if !ok {
		return false
	}
	return Evaluate(recorded, startedAt, k.opts.now())
}

func (k *KeyValue) Trigger(ctx context.Context, at time.Time) error {
	value := strconv.FormatInt(k.opts.triggerTime(at).Unix(), 10)
	if err := k.store.Set(ctx, k.key, value); err != nil {
		return fmt.Errorf("signal: write %s: %w", k.key, err)
	}
	return nil
}

func (k *KeyValue) Recorded(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := k.store.Get(ctx, k.key)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("signal: read %s: %w", k.key, err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("signal: %s holds %q, want a UNIX timestamp: %w", k.key, raw, err)
	}
	return time.Unix(ts, 0), true, nil
}
