// Package scheduler dispatches ready branches through the merge state machine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/calebmills/mergetrain/internal/engine"
	"github.com/calebmills/mergetrain/internal/fence"
	"github.com/calebmills/mergetrain/internal/policy"
)

// defaultMaxParallel bounds the worker pool when no limit is configured.
const defaultMaxParallel = 4

// AttemptRunner drives one branch to a terminal state. *engine.Machine is the
// production implementation.
type AttemptRunner interface {
	Run(ctx context.Context, branch string) (*engine.Attempt, error)
}

// Result pairs a branch with its terminal attempt. Err is set only when the
// runner itself misbehaved; attempt-level failures live in Attempt.
type Result struct {
	Branch  string
	Attempt *engine.Attempt
	Err     error
}

// Summary aggregates one cycle's outcomes.
type Summary struct {
	Results     []Result
	Published   int
	Quarantined int
	Aborted     int
}

// AllPublished reports whether every attempt in the cycle landed.
func (s Summary) AllPublished() bool {
	return s.Aborted == 0 && s.Quarantined == 0 && len(s.Results) > 0
}

// Scheduler partitions ready branches into fence-disjoint waves and runs each
// wave through a bounded worker pool. Branches with overlapping ownership are
// serialized relative to each other so two attempts never race the same files.
type Scheduler struct {
	doc         policy.Document
	runner      AttemptRunner
	maxParallel int
	warn        func(string)
}

// New builds a scheduler over a policy and an attempt runner.
func New(doc policy.Document, runner AttemptRunner, maxParallel int, warn func(string)) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("attempt runner is required")
	}
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallel
	}
	return &Scheduler{doc: doc, runner: runner, maxParallel: maxParallel, warn: warn}, nil
}

// RunCycle processes the ready branches and returns every outcome. A failed
// attempt never stops the cycle; remaining branches still get their turn.
func (s *Scheduler) RunCycle(ctx context.Context, readyBranches []string) (Summary, error) {
	branches := dedupe(readyBranches)
	if len(branches) == 0 {
		return Summary{}, errors.New("no ready branches")
	}

	waves := s.partition(branches)
	summary := Summary{Results: make([]Result, 0, len(branches))}

	for _, wave := range waves {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("cycle interrupted: %w", err)
		}
		results := s.runWave(ctx, wave)
		for _, result := range results {
			summary.Results = append(summary.Results, result)
			switch {
			case result.Err != nil:
				summary.Aborted++
			case result.Attempt.Outcome == engine.OutcomePublished:
				summary.Published++
			case result.Attempt.Outcome == engine.OutcomeQuarantined:
				summary.Quarantined++
			default:
				summary.Aborted++
			}
		}
	}
	return summary, nil
}

// PlanWaves previews the wave partition for a set of ready branches without
// running any attempts.
func PlanWaves(doc policy.Document, readyBranches []string) [][]string {
	s := &Scheduler{doc: doc}
	return s.partition(dedupe(readyBranches))
}

// partition groups branches into waves whose members are pairwise
// fence-disjoint. Higher-priority branches are placed first so they land in
// the earliest possible wave; within equal priority the ready order holds.
func (s *Scheduler) partition(branches []string) [][]string {
	ordered := make([]string, len(branches))
	copy(ordered, branches)
	sort.SliceStable(ordered, func(i, j int) bool {
		return s.doc.PriorityFor(ordered[i]) > s.doc.PriorityFor(ordered[j])
	})

	var waves [][]string
next:
	for _, branch := range ordered {
		for i, wave := range waves {
			if s.disjointFromAll(branch, wave) {
				waves[i] = append(wave, branch)
				continue next
			}
		}
		waves = append(waves, []string{branch})
	}
	return waves
}

// disjointFromAll reports whether a branch may run alongside an entire wave.
func (s *Scheduler) disjointFromAll(branch string, wave []string) bool {
	for _, other := range wave {
		if !fence.Disjoint(s.doc, branch, other) {
			return false
		}
	}
	return true
}

// runWave executes one wave's attempts in parallel, bounded by the pool size.
func (s *Scheduler) runWave(ctx context.Context, wave []string) []Result {
	results := make([]Result, len(wave))
	group := new(errgroup.Group)
	group.SetLimit(s.maxParallel)

	for i, branch := range wave {
		i, branch := i, branch
		group.Go(func() error {
			attempt, err := s.runner.Run(ctx, branch)
			if err != nil {
				s.warnf("attempt for %s failed to run: %v", branch, err)
			}
			results[i] = Result{Branch: branch, Attempt: attempt, Err: err}
			return nil
		})
	}
	// Goroutines never return errors; Wait only synchronizes the wave.
	_ = group.Wait()
	return results
}

// warnf sends an operational warning to the configured sink.
func (s *Scheduler) warnf(format string, args ...any) {
	if s.warn != nil {
		s.warn(fmt.Sprintf(format, args...))
	}
}

// dedupe drops empty and repeated branch names, preserving first occurrence.
func dedupe(branches []string) []string {
	seen := make(map[string]struct{}, len(branches))
	var out []string
	for _, branch := range branches {
		name := strings.TrimSpace(branch)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
