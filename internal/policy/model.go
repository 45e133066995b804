package policy

import (
	"strings"

	"github.com/calebmills/mergetrain/internal/pathglob"
)

// SupportedVersion is the only policy schema version this engine understands.
// Unknown future versions fail closed at load time.
const SupportedVersion = 1

// Document is the validated, read-only rule set for one merge-train run.
// Pattern lists are evaluated in declaration order; first match wins.
type Document struct {
	Version        int
	BranchPriority []BranchPriorityRule
	PathStrategies []PathStrategy
	AuthorPriority []string
	Gates          []Gate
	Fences         []Fence
}

// BranchPriorityRule assigns an integer priority to branches matching a pattern.
type BranchPriorityRule struct {
	Pattern  pathglob.Pattern
	Priority int
}

// PathStrategy maps a file glob to a conflict-resolution strategy.
type PathStrategy struct {
	Pattern  pathglob.Pattern
	Strategy string
	Params   map[string]string
}

// Gate is one configured verification check, run in declaration order.
type Gate struct {
	Name           string
	Command        string
	Blocking       bool
	TimeoutSeconds int
}

// Fence declares the path ownership allow-list for matching workstreams.
type Fence struct {
	Workstream pathglob.Pattern
	Allowed    []pathglob.Pattern
}

// StrategyFor returns the first declared path strategy matching the file.
func (d Document) StrategyFor(path string) (PathStrategy, bool) {
	for _, entry := range d.PathStrategies {
		if entry.Pattern.Match(path) {
			return entry, true
		}
	}
	return PathStrategy{}, false
}

// PriorityFor resolves the priority for a branch name. When multiple patterns
// match, the one with the longest literal prefix wins; ties break by
// declaration order. Branches matching no rule get priority zero.
func (d Document) PriorityFor(branch string) int {
	best := -1
	priority := 0
	for _, rule := range d.BranchPriority {
		if !rule.Pattern.Match(branch) {
			continue
		}
		specificity := len(rule.Pattern.LiteralPrefix())
		if specificity > best {
			best = specificity
			priority = rule.Priority
		}
	}
	return priority
}

// FenceFor returns the allow-list for the first fence whose workstream
// pattern matches the branch. Branches with no matching fence are
// unrestricted (policy default: open).
func (d Document) FenceFor(branch string) (Fence, bool) {
	for _, fence := range d.Fences {
		if fence.Workstream.Match(branch) {
			return fence, true
		}
	}
	return Fence{}, false
}

// GateNames lists configured gate names in declaration order.
func (d Document) GateNames() []string {
	names := make([]string, 0, len(d.Gates))
	for _, gate := range d.Gates {
		names = append(names, gate.Name)
	}
	return names
}

// normalizeKey canonicalizes a rule key for duplicate detection.
func normalizeKey(parts ...string) string {
	trimmed := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed = append(trimmed, strings.TrimSpace(part))
	}
	return strings.Join(trimmed, "\x00")
}
