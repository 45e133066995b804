package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/calebmills/mergetrain/internal/pathglob"
)

// DefaultGateTimeoutSeconds bounds gate commands that declare no timeout.
const DefaultGateTimeoutSeconds = 300

// StrategySet reports which strategy names are registered with the
// resolution driver registry. Path strategies are validated against it at
// load time so misconfiguration fails fast instead of at merge time.
type StrategySet interface {
	Known(name string) bool
}

// document is the raw YAML shape of a policy file.
type document struct {
	Version        int                  `yaml:"version"`
	BranchPriority []branchPriorityRule `yaml:"branch_priority"`
	PathStrategies []pathStrategyRule   `yaml:"path_strategies"`
	AuthorPriority []string             `yaml:"author_priority"`
	Gates          []gateRule           `yaml:"gates"`
	Fences         []fenceRule          `yaml:"fences"`
}

type branchPriorityRule struct {
	Pattern  string `yaml:"pattern"`
	Priority int    `yaml:"priority"`
}

type pathStrategyRule struct {
	Pattern  string            `yaml:"pattern"`
	Strategy string            `yaml:"strategy"`
	Params   map[string]string `yaml:"params"`
}

type gateRule struct {
	Name           string `yaml:"name"`
	Command        string `yaml:"command"`
	Blocking       bool   `yaml:"blocking"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type fenceRule struct {
	Workstream string   `yaml:"workstream"`
	Paths      []string `yaml:"paths"`
}

// Load reads, parses, and validates a policy file.
func Load(path string, strategies StrategySet) (Document, error) {
	if strings.TrimSpace(path) == "" {
		return Document{}, malformedf("policy path is required")
	}
	if strategies == nil {
		return Document{}, malformedf("strategy set is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, malformedf("read policy %s: %v", path, err)
	}
	return Parse(data, strategies)
}

// Parse validates a policy document from raw YAML bytes.
func Parse(data []byte, strategies StrategySet) (Document, error) {
	var raw document
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil {
		return Document{}, malformedf("parse policy yaml: %v", err)
	}

	if raw.Version != SupportedVersion {
		return Document{}, malformedf("unsupported policy version %d (want %d)", raw.Version, SupportedVersion)
	}

	doc := Document{Version: raw.Version}

	seen := map[string]string{}
	record := func(section string, key string) error {
		if previous, ok := seen[section+":"+key]; ok {
			return duplicatef("%s declares duplicate entry %s", section, previous)
		}
		seen[section+":"+key] = strings.ReplaceAll(key, "\x00", " ")
		return nil
	}

	for i, rule := range raw.BranchPriority {
		pattern, err := compileField(rule.Pattern, "branch_priority", i)
		if err != nil {
			return Document{}, err
		}
		if err := record("branch_priority", normalizeKey(rule.Pattern)); err != nil {
			return Document{}, err
		}
		doc.BranchPriority = append(doc.BranchPriority, BranchPriorityRule{
			Pattern:  pattern,
			Priority: rule.Priority,
		})
	}

	for i, rule := range raw.PathStrategies {
		pattern, err := compileField(rule.Pattern, "path_strategies", i)
		if err != nil {
			return Document{}, err
		}
		name := strings.TrimSpace(rule.Strategy)
		if name == "" {
			return Document{}, malformedf("path_strategies[%d] is missing a strategy name", i)
		}
		if !strategies.Known(name) {
			return Document{}, unknownStrategyf("path_strategies[%d] names unregistered strategy %q", i, name)
		}
		if err := record("path_strategies", normalizeKey(rule.Pattern, name)); err != nil {
			return Document{}, err
		}
		doc.PathStrategies = append(doc.PathStrategies, PathStrategy{
			Pattern:  pattern,
			Strategy: name,
			Params:   rule.Params,
		})
	}

	for i, author := range raw.AuthorPriority {
		identity := strings.TrimSpace(author)
		if identity == "" {
			return Document{}, malformedf("author_priority[%d] is empty", i)
		}
		if err := record("author_priority", normalizeKey(identity)); err != nil {
			return Document{}, err
		}
		doc.AuthorPriority = append(doc.AuthorPriority, identity)
	}

	for i, rule := range raw.Gates {
		name := strings.TrimSpace(rule.Name)
		if name == "" {
			return Document{}, malformedf("gates[%d] is missing a name", i)
		}
		if strings.TrimSpace(rule.Command) == "" {
			return Document{}, malformedf("gate %q is missing a command", name)
		}
		if err := record("gates", normalizeKey(name)); err != nil {
			return Document{}, err
		}
		timeout := rule.TimeoutSeconds
		if timeout <= 0 {
			timeout = DefaultGateTimeoutSeconds
		}
		doc.Gates = append(doc.Gates, Gate{
			Name:           name,
			Command:        rule.Command,
			Blocking:       rule.Blocking,
			TimeoutSeconds: timeout,
		})
	}

	for i, rule := range raw.Fences {
		workstream, err := compileField(rule.Workstream, "fences", i)
		if err != nil {
			return Document{}, err
		}
		if len(rule.Paths) == 0 {
			return Document{}, malformedf("fence %q declares no allowed paths", rule.Workstream)
		}
		if err := record("fences", normalizeKey(rule.Workstream)); err != nil {
			return Document{}, err
		}
		fence := Fence{Workstream: workstream}
		for j, allowed := range rule.Paths {
			compiled, err := compileField(allowed, fmt.Sprintf("fences[%d].paths", i), j)
			if err != nil {
				return Document{}, err
			}
			fence.Allowed = append(fence.Allowed, compiled)
		}
		doc.Fences = append(doc.Fences, fence)
	}

	return doc, nil
}

// compileField compiles one glob field, reporting its location on failure.
func compileField(pattern string, section string, index int) (pathglob.Pattern, error) {
	compiled, err := pathglob.Compile(pattern)
	if err != nil {
		return pathglob.Pattern{}, malformedf("%s[%d]: %v", section, index, err)
	}
	return compiled, nil
}
