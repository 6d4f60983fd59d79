package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Aman-CERP/searchidx/internal/output"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status by name in JSON output.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Check is one deferred probe.
type Check func(ctx context.Context) CheckResult

// Checker runs checks and reports on them.
type Checker struct {
	verbose bool
	output  io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose enables verbose output.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// New creates a new Checker with the given options.
func New(opts ...Option) *Checker {
	c := &Checker{
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run runs checks in order. A cancelled context fails the remaining checks
// instead of skipping them so every check appears in the report.
func (c *Checker) Run(ctx context.Context, checks ...Check) []CheckResult {
	results := make([]CheckResult, 0, len(checks))
	for _, check := range checks {
		if err := ctx.Err(); err != nil {
			results = append(results, CheckResult{
				Name:    "cancelled",
				Status:  StatusFail,
				Message: err.Error(),
			})
			continue
		}
		results = append(results, check(ctx))
	}
	return results
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns a summary status string for the results.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	hasCriticalFailure := false

	for _, r := range results {
		if r.IsCritical() {
			hasCriticalFailure = true
		}
		if r.Status == StatusWarn || (r.Status == StatusFail && !r.Required) {
			hasWarnings = true
		}
	}

	if hasCriticalFailure {
		return "failed"
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints check results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	out := output.New(c.output)
	out.Heading("searchidx system check")

	for _, r := range results {
		out.Statusf(fmt.Sprintf("[%s]", r.Status), "%s: %s", r.Name, r.Message)
		if c.verbose && r.Details != "" {
			out.Status("", "   "+r.Details)
		}
	}

	out.Newline()
	status := c.SummaryStatus(results)
	switch status {
	case "ready":
		out.Success("Status: READY")
	case "failed":
		out.Error("Status: FAILED")
	default:
		out.Warning("Status: " + strings.ToUpper(status))
	}

	var problems []string
	for _, r := range results {
		if r.IsCritical() {
			problems = append(problems, r.Name+": "+r.Message)
		}
	}
	if len(problems) > 0 {
		out.Newline()
		out.Statusf("", "%d error(s):", len(problems))
		for _, p := range problems {
			out.Status("", "  - "+p)
		}
	}
}
