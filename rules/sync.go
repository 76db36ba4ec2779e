//go:build ruleguard

// Package gorules contains custom linting rules for golangci-lint via ruleguard.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo detects the manual Add/Done pattern and suggests wg.Go (Go 1.25+).
//
//	wg.Add(1)
//	go func() {
//	    defer wg.Done()
//	    work()
//	}()
//
// becomes
//
//	wg.Go(work)
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body }) instead of manual Add/Done pattern (Go 1.25+)").
		Suggest("$wg.Go(func() { $body })")

	m.Match(`$wg.Add($n)`).
		Where((m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")) &&
			m["n"].Const && m["n"].Value.Int() > 1).
		Report("use one $wg.Go() per goroutine instead of Add($n)")
}

// CondWaitInLoop flags sync.Cond.Wait guarded by an if. Wait can return
// without the condition holding (Broadcast wakes every waiter), so the
// predicate has to be re-checked in a for loop.
func CondWaitInLoop(m dsl.Matcher) {
	m.Match(`if $cond { $*_; $c.Wait(); $*_ }`).
		Where(m["c"].Type.Is("*sync.Cond")).
		Report("call $c.Wait() inside a for loop that re-checks the condition")
}

// TypedAtomics flags the sync/atomic functions on plain integers. Shared
// counters and stage state use atomic.Int32/Uint64/Bool so every access is atomic.
func TypedAtomics(m dsl.Matcher) {
	m.Import("sync/atomic")

	m.Match(
		`atomic.AddInt32($*_)`, `atomic.AddInt64($*_)`, `atomic.AddUint64($*_)`,
		`atomic.LoadInt32($*_)`, `atomic.LoadInt64($*_)`, `atomic.LoadUint64($*_)`,
		`atomic.StoreInt32($*_)`, `atomic.StoreInt64($*_)`, `atomic.StoreUint64($*_)`,
		`atomic.CompareAndSwapInt32($*_)`, `atomic.CompareAndSwapInt64($*_)`,
	).
		Report("use the typed atomics (atomic.Int32, atomic.Uint64, ...) instead of the function API")
}
