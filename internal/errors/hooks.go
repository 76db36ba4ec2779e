package errors

import (
	"sync"
	"sync/atomic"
)

// ErrorHook is called for every built EnhancedError while reporting is active.
// Hooks run synchronously on the goroutine that called Build and must not block.
type ErrorHook func(ee *EnhancedError)

var (
	hooksMu    sync.RWMutex
	errorHooks []ErrorHook

	// hasActiveReporting lets Build skip component detection when nobody listens
	hasActiveReporting atomic.Bool
)

// AddErrorHook registers a hook, e.g. a metrics counter keyed by category
func AddErrorHook(hook ErrorHook) {
	if hook == nil {
		return
	}

	hooksMu.Lock()
	defer hooksMu.Unlock()

	errorHooks = append(errorHooks, hook)
	updateReportingState()
}

// ClearErrorHooks removes all registered hooks
func ClearErrorHooks() {
	hooksMu.Lock()
	defer hooksMu.Unlock()

	errorHooks = nil
	updateReportingState()
}

// updateReportingState must be called with hooksMu held
func updateReportingState() {
	reporter := GetTelemetryReporter()
	hasActiveReporting.Store(len(errorHooks) > 0 || (reporter != nil && reporter.IsEnabled()))
}

func report(ee *EnhancedError) {
	hooksMu.RLock()
	hooks := errorHooks
	hooksMu.RUnlock()

	for _, hook := range hooks {
		runHook(hook, ee)
	}

	if reporter := GetTelemetryReporter(); reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

// runHook isolates a panicking hook from the caller building the error
func runHook(hook ErrorHook, ee *EnhancedError) {
	defer func() {
		_ = recover()
	}()
	hook(ee)
}
