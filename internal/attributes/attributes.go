// Package attributes keeps the repository's .gitattributes merge declarations
// in sync with the policy's path strategies.
package attributes

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/calebmills/mergetrain/internal/driver"
	"github.com/calebmills/mergetrain/internal/policy"
	"github.com/calebmills/mergetrain/internal/slug"
)

const (
	// FileName is the attribute file consumed by git at merge time.
	FileName = ".gitattributes"
	// beginMarker and endMarker bracket the managed block. Lines outside the
	// block belong to the repository and are never touched.
	beginMarker = "# mergetrain:begin managed merge strategies"
	endMarker   = "# mergetrain:end"
	// attributeFileMode defines permissions for the attribute file.
	attributeFileMode = 0o644
)

// attributeFor maps a resolution strategy to its git attribute declaration.
// Strategies git implements natively use the builtin driver name; everything
// else declares a namespaced custom driver so git defers to the engine.
func attributeFor(strategy string) string {
	switch strategy {
	case driver.StrategyOurs:
		return "merge=ours"
	case driver.StrategyUnion:
		return "merge=union"
	case driver.StrategyBinary:
		return "binary"
	case driver.StrategyManual:
		return "-merge"
	default:
		return "merge=mergetrain-" + slug.Slugify(strategy)
	}
}

// Render produces the managed block for a policy document, one line per path
// strategy in declaration order.
func Render(doc policy.Document) string {
	var builder strings.Builder
	builder.WriteString(beginMarker + "\n")
	for _, entry := range doc.PathStrategies {
		fmt.Fprintf(&builder, "%s %s\n", entry.Pattern.String(), attributeFor(entry.Strategy))
	}
	builder.WriteString(endMarker + "\n")
	return builder.String()
}

// Sync rewrites the managed block inside the attribute file, creating the
// file when absent and preserving every unmanaged line.
func Sync(path string, doc policy.Document) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("attribute file path is required")
	}

	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read attribute file %s: %w", path, err)
	}

	merged, err := spliceManagedBlock(string(existing), Render(doc))
	if err != nil {
		return fmt.Errorf("update attribute file %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(merged), attributeFileMode); err != nil {
		return fmt.Errorf("write attribute file %s: %w", path, err)
	}
	return nil
}

// spliceManagedBlock replaces the managed block in existing content, or
// appends one when the file has none.
func spliceManagedBlock(existing string, block string) (string, error) {
	if strings.TrimSpace(existing) == "" {
		return block, nil
	}

	lines := strings.Split(existing, "\n")
	begin, end := -1, -1
	for i, line := range lines {
		switch strings.TrimSpace(line) {
		case beginMarker:
			if begin >= 0 {
				return "", errors.New("duplicate managed block begin marker")
			}
			begin = i
		case endMarker:
			if begin < 0 {
				return "", errors.New("managed block end marker before begin")
			}
			if end >= 0 {
				return "", errors.New("duplicate managed block end marker")
			}
			end = i
		}
	}

	if begin < 0 {
		out := strings.TrimRight(existing, "\n")
		return out + "\n\n" + block, nil
	}
	if end < 0 {
		return "", errors.New("managed block begin marker without end")
	}

	var builder strings.Builder
	for _, line := range lines[:begin] {
		builder.WriteString(line + "\n")
	}
	builder.WriteString(strings.TrimRight(block, "\n") + "\n")
	tail := strings.Join(lines[end+1:], "\n")
	if strings.TrimSpace(tail) != "" {
		builder.WriteString(tail)
		if !strings.HasSuffix(tail, "\n") {
			builder.WriteString("\n")
		}
	}
	return builder.String(), nil
}
