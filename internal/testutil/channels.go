// Package testutil provides shared test utilities for markertrack.
// These helpers keep waits on worker goroutines bounded and consistent.
package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Common test timeout constants.
const (
	// DefaultTestTimeout is the standard timeout for most async test operations.
	DefaultTestTimeout = 5 * time.Second

	// ShortTestTimeout is for operations expected to complete quickly.
	ShortTestTimeout = 1 * time.Second

	// PollInterval is the tick used by Eventually-style helpers.
	PollInterval = 5 * time.Millisecond
)

// WaitForChannel waits for a signal on the channel or fails after timeout.
func WaitForChannel(t *testing.T, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		require.Fail(t, msg)
	}
}

// ReceiveWithin returns the next value from ch or fails after timeout.
func ReceiveWithin[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		require.FailNow(t, "timed out waiting for value", "after %s", timeout)
	}
	var zero T
	return zero
}

// Never asserts that nothing arrives on ch during d.
func Never[T any](t *testing.T, ch <-chan T, d time.Duration, msg string) {
	t.Helper()
	select {
	case v := <-ch:
		require.Failf(t, msg, "unexpected value %v", v)
	case <-time.After(d):
	}
}

// Eventually polls cond until it returns true or fails after timeout.
func Eventually(t *testing.T, cond func() bool, timeout time.Duration, msg string) {
	t.Helper()
	require.Eventually(t, cond, timeout, PollInterval, msg)
}

// Gate blocks callers of Wait until Open is called. It is used to hold a fake
// detection engine mid-call.
type Gate struct {
	entered   chan struct{}
	release   chan struct{}
	openOnce  sync.Once
	enterOnce sync.Once
}

// NewGate creates a closed gate
func NewGate() *Gate {
	return &Gate{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

// Wait signals that a caller arrived and blocks until Open
func (g *Gate) Wait() {
	g.enterOnce.Do(func() { close(g.entered) })
	<-g.release
}

// Entered is closed once the first caller reached Wait
func (g *Gate) Entered() <-chan struct{} {
	return g.entered
}

// Open releases every current and future caller
func (g *Gate) Open() {
	g.openOnce.Do(func() { close(g.release) })
}
