package throttle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGuard_SecondCallWithinIntervalDenied(t *testing.T) {
	g := New(time.Second, time.Minute)
	t0 := time.Now()

	assert.True(t, g.AllowAt("u1", t0))
	assert.False(t, g.AllowAt("u1", t0.Add(500*time.Millisecond)))
	assert.False(t, g.AllowAt("u1", t0.Add(999*time.Millisecond)))
}

func TestGuard_AllowsAgainAfterInterval(t *testing.T) {
	g := New(time.Second, time.Minute)
	t0 := time.Now()

	assert.True(t, g.AllowAt("u1", t0))
	assert.False(t, g.AllowAt("u1", t0.Add(300*time.Millisecond)))
	assert.True(t, g.AllowAt("u1", t0.Add(time.Second)))
	assert.False(t, g.AllowAt("u1", t0.Add(1500*time.Millisecond)))
	assert.True(t, g.AllowAt("u1", t0.Add(2500*time.Millisecond)))
}

func TestGuard_DeniedCallDoesNotExtendWindow(t *testing.T) {
	g := New(time.Second, time.Minute)
	t0 := time.Now()

	assert.True(t, g.AllowAt("u1", t0))
	// Hammering inside the window must not push the next allowed send out
	for i := 1; i < 10; i++ {
		assert.False(t, g.AllowAt("u1", t0.Add(time.Duration(i)*90*time.Millisecond)))
	}
	assert.True(t, g.AllowAt("u1", t0.Add(time.Second)))
}

func TestGuard_UsersAreIndependent(t *testing.T) {
	g := New(time.Second, time.Minute)
	t0 := time.Now()

	assert.True(t, g.AllowAt("u1", t0))
	assert.True(t, g.AllowAt("u2", t0.Add(10*time.Millisecond)))
	assert.False(t, g.AllowAt("u1", t0.Add(20*time.Millisecond)))
}

func TestGuard_Defaults(t *testing.T) {
	g := New(0, 0)
	assert.Equal(t, DefaultInterval, g.Interval())
	assert.Equal(t, DefaultIdleTTL, g.idleTTL)

	// Idle TTL never drops below the interval
	g = New(time.Minute, time.Second)
	assert.Equal(t, time.Minute, g.idleTTL)
}

func TestGuard_SweepEvictsIdleRecords(t *testing.T) {
	g := New(time.Second, time.Minute)
	t0 := time.Now()

	g.AllowAt("idle", t0)
	g.AllowAt("busy", t0.Add(50*time.Second))
	assert.Equal(t, 2, g.Len())

	evicted := g.Sweep(t0.Add(61 * time.Second))

	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, g.Len())
}

func TestGuard_LazySweepOnAccess(t *testing.T) {
	g := New(time.Second, time.Minute)
	t0 := time.Now()

	for _, u := range []string{"a", "b", "c"} {
		g.AllowAt(u, t0)
	}
	assert.Equal(t, 3, g.Len())

	// Access well past the idle TTL drops the stale records
	assert.True(t, g.AllowAt("d", t0.Add(2*time.Minute)))
	assert.Equal(t, 1, g.Len())
}

func TestGuard_EvictedUserStartsFresh(t *testing.T) {
	g := New(time.Second, time.Minute)
	t0 := time.Now()

	assert.True(t, g.AllowAt("u1", t0))
	g.Sweep(t0.Add(2 * time.Minute))
	assert.True(t, g.AllowAt("u1", t0.Add(2*time.Minute)))
}

func TestGuard_ConcurrentSendsSameUser(t *testing.T) {
	g := New(time.Hour, time.Hour)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Allow("u1") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), allowed.Load(), "check-and-set must not be torn")
}

func TestGuard_RunStopsOnCancel(t *testing.T) {
	g := New(time.Millisecond, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
