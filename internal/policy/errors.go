// Package policy loads and validates the declarative merge-train rule set.
package policy

import "fmt"

// ErrorKind classifies load-time policy failures.
type ErrorKind string

const (
	// KindMalformed indicates the policy file could not be parsed or is
	// structurally invalid.
	KindMalformed ErrorKind = "malformed"
	// KindDuplicateRule indicates two syntactically identical rule entries.
	KindDuplicateRule ErrorKind = "duplicate-rule"
	// KindUnknownStrategy indicates a path strategy naming no registered driver.
	KindUnknownStrategy ErrorKind = "unknown-strategy"
)

// Error is a fatal load-time policy failure. A policy Error blocks the entire
// cycle; it is never recovered into a quarantine outcome.
type Error struct {
	Kind   ErrorKind
	Detail string
}

// Error renders the policy failure for operators.
func (e *Error) Error() string {
	return fmt.Sprintf("policy error (%s): %s", e.Kind, e.Detail)
}

// malformedf builds a malformed-policy error.
func malformedf(format string, args ...any) *Error {
	return &Error{Kind: KindMalformed, Detail: fmt.Sprintf(format, args...)}
}

// duplicatef builds a duplicate-rule error.
func duplicatef(format string, args ...any) *Error {
	return &Error{Kind: KindDuplicateRule, Detail: fmt.Sprintf(format, args...)}
}

// unknownStrategyf builds an unknown-strategy error.
func unknownStrategyf(format string, args ...any) *Error {
	return &Error{Kind: KindUnknownStrategy, Detail: fmt.Sprintf(format, args...)}
}
