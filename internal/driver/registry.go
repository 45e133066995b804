package driver

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/calebmills/mergetrain/internal/hunk"
)

// Built-in strategy names.
const (
	StrategyOurs       = "ours"
	StrategyTheirs     = "theirs"
	StrategyUnion      = "union"
	StrategyStructural = "structural-merge"
	StrategyBinary     = "binary"
	StrategyManual     = "manual"
	// StrategyCache labels resolutions replayed from the resolution cache.
	// It is not a registered driver.
	StrategyCache = "cache"
)

// Driver resolves one conflict hunk into merged content.
type Driver interface {
	Resolve(ctx context.Context, conflict hunk.ConflictHunk, params map[string]string) (string, error)
}

// DriverFunc adapts a function into a Driver.
type DriverFunc func(ctx context.Context, conflict hunk.ConflictHunk, params map[string]string) (string, error)

// Resolve invokes the wrapped function.
func (f DriverFunc) Resolve(ctx context.Context, conflict hunk.ConflictHunk, params map[string]string) (string, error) {
	return f(ctx, conflict, params)
}

// Registry maps strategy names to drivers.
type Registry struct {
	drivers map[string]Driver
}

// NewRegistry builds a registry with all built-in strategies registered.
func NewRegistry() *Registry {
	registry := &Registry{drivers: map[string]Driver{}}
	registry.register(StrategyOurs, DriverFunc(resolveOurs))
	registry.register(StrategyTheirs, DriverFunc(resolveTheirs))
	registry.register(StrategyUnion, DriverFunc(resolveUnion))
	registry.register(StrategyStructural, DriverFunc(resolveStructural))
	registry.register(StrategyBinary, DriverFunc(resolveBinary))
	registry.register(StrategyManual, DriverFunc(resolveManual))
	return registry
}

// register installs a driver under the given strategy name.
func (r *Registry) register(name string, driver Driver) {
	r.drivers[name] = driver
}

// RegisterTool installs an external-tool driver under a custom strategy name.
func (r *Registry) RegisterTool(name string, command []string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("strategy name is required")
	}
	if _, exists := r.drivers[name]; exists {
		return errors.New("strategy " + name + " is already registered")
	}
	if len(command) == 0 {
		return errors.New("tool command is required")
	}
	r.drivers[name] = &toolDriver{strategy: name, command: command}
	return nil
}

// Known reports whether a strategy name is registered. Satisfies the policy
// store's load-time validation contract.
func (r *Registry) Known(name string) bool {
	_, ok := r.drivers[name]
	return ok
}

// Names lists registered strategy names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve runs the named strategy against the hunk.
func (r *Registry) Resolve(ctx context.Context, conflict hunk.ConflictHunk, strategy string, params map[string]string) (string, error) {
	driver, ok := r.drivers[strategy]
	if !ok {
		return "", toolMissingf(strategy, "strategy is not registered")
	}
	return driver.Resolve(ctx, conflict, params)
}
