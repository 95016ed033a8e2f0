package lifecycle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuardStopsAtMax(t *testing.T) {
	g := NewGuard(3)
	for i := 0; i < 3; i++ {
		assert.True(t, g.ShouldContinue(), "after %d", i)
		g.RecordProcessed()
	}
	assert.False(t, g.ShouldContinue())
	assert.Equal(t, int64(3), g.Processed())
	assert.Equal(t, int64(3), g.Max())
}

func TestGuardUnlimited(t *testing.T) {
	for _, max := range []int64{0, -1} {
		g := NewGuard(max)
		for i := 0; i < 1000; i++ {
			g.RecordProcessed()
		}
		assert.True(t, g.ShouldContinue())
		assert.Equal(t, int64(0), g.Max())
	}
}

func TestGuardNil(t *testing.T) {
	var g *Guard
	g.RecordProcessed()
	assert.True(t, g.ShouldContinue())
	assert.Zero(t, g.Processed())
}

func TestGuardConcurrent(t *testing.T) {
	g := NewGuard(500)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				g.RecordProcessed()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(500), g.Processed())
	assert.False(t, g.ShouldContinue())
}

func TestReasonString(t *testing.T) {
	assert.Equal(t, "restart", ReasonRestart.String())
	assert.Equal(t, "shutdown", ReasonShutdown.String())
	assert.Equal(t, "max_items", ReasonMaxItems.String())
	assert.Equal(t, "cancelled", ReasonCancelled.String())
	assert.Equal(t, "none", ReasonNone.String())
	assert.False(t, ReasonNone.Stopped())
	assert.True(t, ReasonMaxItems.WantsRestart())
	assert.False(t, ReasonShutdown.WantsRestart())
}
