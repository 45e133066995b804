// Package fence enforces declared path ownership for workstreams.
package fence

import (
	"fmt"
	"strings"

	"github.com/calebmills/mergetrain/internal/policy"
)

// Violation reports paths a workstream touched outside its declared fence.
// It routes the attempt to quarantine; it is never fatal to the cycle.
type Violation struct {
	Branch         string
	OffendingPaths []string
}

// Error renders the violation with the offending paths.
func (v *Violation) Error() string {
	return fmt.Sprintf("branch %s modified paths outside its fence: %s",
		v.Branch, strings.Join(v.OffendingPaths, ", "))
}

// Check verifies every changed path against the branch's fence allow-list.
// Branches with no matching fence entry are unrestricted (policy default:
// open). Returns a *Violation listing each path no allow glob matched.
func Check(doc policy.Document, branch string, changedPaths []string) error {
	entry, fenced := doc.FenceFor(branch)
	if !fenced {
		return nil
	}

	var offending []string
	for _, path := range changedPaths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		allowed := false
		for _, pattern := range entry.Allowed {
			if pattern.Match(path) {
				allowed = true
				break
			}
		}
		if !allowed {
			offending = append(offending, path)
		}
	}
	if len(offending) > 0 {
		return &Violation{Branch: branch, OffendingPaths: offending}
	}
	return nil
}

// Disjoint reports whether two branches' declared ownership cannot overlap,
// meaning their attempts are safe to process in parallel. Unfenced branches
// own everything, so they are never disjoint from anything.
func Disjoint(doc policy.Document, branchA string, branchB string) bool {
	fenceA, fencedA := doc.FenceFor(branchA)
	fenceB, fencedB := doc.FenceFor(branchB)
	if !fencedA || !fencedB {
		return false
	}
	for _, patternA := range fenceA.Allowed {
		for _, patternB := range fenceB.Allowed {
			if prefixesOverlap(patternA.LiteralPrefix(), patternB.LiteralPrefix()) {
				return false
			}
		}
	}
	return true
}

// prefixesOverlap reports whether two glob literal prefixes could describe
// overlapping path sets. A conservative test: one prefix extending the other
// means the globs may both match some path.
func prefixesOverlap(a string, b string) bool {
	if a == "" || b == "" {
		return true
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}
