package kernelschedule

import (
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewAppliesDefaults(t *testing.T) {
	k := New()
	require.Equal(t, defaultMaxThreads, k.MaxThreads())
	require.Equal(t, uint32(defaultTimeSliceMS), k.timeSliceMS)
}

func TestNewAppliesOptions(t *testing.T) {
	k := New(
		WithMaxThreads(6),
		WithTimeSliceMS(25),
		WithLogger(zaptest.NewLogger(t)),
		WithClock(clock.NewMock()),
		WithEagerOverflowCheck(true),
	)
	require.Equal(t, 6, k.MaxThreads())
	require.Equal(t, uint32(25), k.timeSliceMS)
	require.True(t, k.eagerOverflowCheck)
}

func TestWithMaxThreadsIgnoresNonPositive(t *testing.T) {
	k := New(WithMaxThreads(0))
	require.Equal(t, defaultMaxThreads, k.MaxThreads())
}

func TestBootInitializesTable(t *testing.T) {
	k := New(WithMaxThreads(4))
	k.Boot()

	require.Equal(t, 0, k.CurrentIndex())
	require.Equal(t, uint32(0), k.Ticks())
	require.Equal(t, Running, k.threads[0].getState())
	for i := 1; i < 4; i++ {
		require.Equal(t, Unused, k.threads[i].getState())
	}
	require.Equal(t, 1, k.ActiveThreads())
}

func TestNewThreadBeforeBootFails(t *testing.T) {
	k := New()
	_, err := k.NewThread(func() {}, make([]byte, 128))
	require.ErrorIs(t, err, ErrNotBooted)
}

func TestCriticalGuardReleaseIsIdempotent(t *testing.T) {
	k := New()
	k.Boot()

	g := k.EnterGuard()
	g.Release()
	g.Release() // must not panic or double-unlock

	// the lock must genuinely be free afterward
	done := make(chan struct{})
	go func() {
		k.EnterCritical()
		k.ExitCritical()
		close(done)
	}()
	<-done
}

func TestActiveThreadsCountsNonUnusedSlots(t *testing.T) {
	k := New(WithMaxThreads(3))
	k.Boot()

	_, err := k.NewThread(func() {}, make([]byte, 128))
	require.NoError(t, err)

	require.Equal(t, 2, k.ActiveThreads())
}
