package kernelschedule

import "time"

// Shared polling parameters for require.Eventually across this package's
// tests, which otherwise synchronize purely on goroutine scheduling.
const (
	defaultTestTimeout = time.Second
	defaultTestTick    = time.Millisecond
)
