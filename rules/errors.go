//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// EnhancedErrorBuild flags builder chains that never call Build(). Without it
// the error is neither categorized nor reported to the hooks.
func EnhancedErrorBuild(m dsl.Matcher) {
	m.Match(`return $b`).
		Where(m["b"].Type.Is("*github.com/markertrack/markertrack/internal/errors.ErrorBuilder") &&
			!m.File().PkgPath.Matches(`/internal/errors$`)).
		Report("finish the error builder with .Build()")
}

// WrapWithNewf flags errors.New(fmt.Errorf(...)) in favour of errors.Newf.
func WrapWithNewf(m dsl.Matcher) {
	m.Import("github.com/markertrack/markertrack/internal/errors")

	m.Match(`errors.New(fmt.Errorf($*args))`).
		Report("use errors.Newf($args) instead of wrapping fmt.Errorf").
		Suggest("errors.Newf($args)")
}

// TimeFormatConstants suggests the named layouts over magic format strings.
func TimeFormatConstants(m dsl.Matcher) {
	m.Match(`$t.Format("2006-01-02 15:04:05")`).
		Report("use $t.Format(time.DateTime)").
		Suggest("$t.Format(time.DateTime)")

	m.Match(`$t.Format("2006-01-02T15:04:05Z07:00")`).
		Report("use $t.Format(time.RFC3339)").
		Suggest("$t.Format(time.RFC3339)")
}
