// Package buildinfo carries build-time metadata and startup check results,
// kept apart from the user configuration.
package buildinfo

import "strings"

// UnknownValue is reported for metadata the build did not inject
const UnknownValue = "unknown"

// Context holds metadata injected by the linker at build time
type Context struct {
	version   string
	buildDate string
	engines   []string
}

// NewContext creates a build context. engines lists the detection engines compiled in.
func NewContext(version, buildDate string, engines ...string) *Context {
	return &Context{
		version:   strings.TrimSpace(version),
		buildDate: strings.TrimSpace(buildDate),
		engines:   engines,
	}
}

// Version returns the release version
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns the build timestamp
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// Release is the identifier reported to error telemetry
func (c *Context) Release() string {
	return "markertrack@" + c.Version()
}

// HasEngine reports whether the named detection engine is compiled in
func (c *Context) HasEngine(name string) bool {
	if c == nil {
		return false
	}
	for _, e := range c.engines {
		if e == name {
			return true
		}
	}
	return false
}

// ValidationResult collects startup check outcomes apart from the settings
type ValidationResult struct {
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty" yaml:"errors,omitempty"`
	Valid    bool     `json:"valid" yaml:"valid"`
}

// NewValidationResult creates a result that is valid until an error is added
func NewValidationResult() *ValidationResult {
	return &ValidationResult{Valid: true}
}

// AddWarning records an issue that does not prevent startup
func (r *ValidationResult) AddWarning(message string) {
	r.Warnings = append(r.Warnings, message)
}

// AddError records an issue that prevents startup
func (r *ValidationResult) AddError(message string) {
	r.Errors = append(r.Errors, message)
	r.Valid = false
}

// HasIssues returns true if there are any warnings or errors
func (r *ValidationResult) HasIssues() bool {
	return len(r.Warnings) > 0 || len(r.Errors) > 0
}
