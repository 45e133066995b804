// Package driver maps strategy names to conflict-resolution drivers.
package driver

import "fmt"

// ErrorKind classifies per-hunk driver failures.
type ErrorKind string

const (
	// KindToolMissing indicates an external resolution tool is not installed.
	KindToolMissing ErrorKind = "tool-missing"
	// KindMalformedInput indicates a side could not be parsed by the driver.
	KindMalformedInput ErrorKind = "malformed-input"
	// KindManualRequired indicates the strategy never auto-resolves.
	KindManualRequired ErrorKind = "manual-required"
)

// Error is a per-hunk resolution failure. It is never fatal to the run: the
// state machine marks the attempt unresolved and routes it to quarantine.
type Error struct {
	Kind     ErrorKind
	Strategy string
	Detail   string
}

// Error renders the driver failure with its strategy context.
func (e *Error) Error() string {
	return fmt.Sprintf("driver %s failed (%s): %s", e.Strategy, e.Kind, e.Detail)
}

// toolMissingf builds a tool-missing driver error.
func toolMissingf(strategy string, format string, args ...any) *Error {
	return &Error{Kind: KindToolMissing, Strategy: strategy, Detail: fmt.Sprintf(format, args...)}
}

// malformedf builds a malformed-input driver error.
func malformedf(strategy string, format string, args ...any) *Error {
	return &Error{Kind: KindMalformedInput, Strategy: strategy, Detail: fmt.Sprintf(format, args...)}
}

// manualf builds a manual-required driver error.
func manualf(strategy string, format string, args ...any) *Error {
	return &Error{Kind: KindManualRequired, Strategy: strategy, Detail: fmt.Sprintf(format, args...)}
}
