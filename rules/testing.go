//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// TestingContext suggests t.Context() (Go 1.24+) over a background context in
// tests, so work started by the test is cancelled when it ends.
func TestingContext(m dsl.Matcher) {
	m.Import("context")

	m.Match(`context.Background()`, `context.TODO()`).
		Where(m.File().Name.Matches(`_test\.go$`) && m.File().Imports("testing")).
		Report("use t.Context() instead of a background context in tests (Go 1.24+)")
}

// BenchmarkLoop suggests b.Loop() (Go 1.24+) over iterating b.N.
func BenchmarkLoop(m dsl.Matcher) {
	m.Match(`for $i := 0; $i < $b.N; $i++ { $*body }`, `for $i := range $b.N { $*body }`).
		Where(m["b"].Type.Is("*testing.B")).
		Report("use for $b.Loop() { ... } instead of iterating $b.N (Go 1.24+)")

	m.Match(`for range $b.N { $*body }`).
		Where(m["b"].Type.Is("*testing.B")).
		Report("use for $b.Loop() { ... } instead of for range $b.N (Go 1.24+)").
		Suggest("for $b.Loop() { $body }")
}

// SleepInTests flags fixed sleeps used to wait for goroutines. Tests wait on
// channels or poll with testutil.Eventually instead.
func SleepInTests(m dsl.Matcher) {
	m.Import("time")

	m.Match(`time.Sleep($d)`).
		Where(m.File().Name.Matches(`_test\.go$`) && !m.File().PkgPath.Matches(`/testutil$`)).
		Report("avoid time.Sleep in tests; wait on a channel or use testutil.Eventually")
}
