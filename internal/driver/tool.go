package driver

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/calebmills/mergetrain/internal/hunk"
)

// toolDriver shells out to an external merge tool. The command receives the
// base, ours, and theirs contents as file path arguments (placeholders %base,
// %ours, %theirs) and must print the resolved content to stdout.
type toolDriver struct {
	strategy string
	command  []string
}

// Resolve materializes the hunk sides to temp files and runs the tool.
func (d *toolDriver) Resolve(ctx context.Context, conflict hunk.ConflictHunk, _ map[string]string) (string, error) {
	if _, err := exec.LookPath(d.command[0]); err != nil {
		return "", toolMissingf(d.strategy, "tool %s is not installed: %v", d.command[0], err)
	}

	dir, err := os.MkdirTemp("", "mergetrain-tool-*")
	if err != nil {
		return "", malformedf(d.strategy, "create tool scratch dir: %v", err)
	}
	defer os.RemoveAll(dir)

	sides := map[string]string{
		"%base":   conflict.BaseContent,
		"%ours":   conflict.OursContent,
		"%theirs": conflict.TheirsContent,
	}
	paths := map[string]string{}
	for placeholder, content := range sides {
		path := filepath.Join(dir, strings.TrimPrefix(placeholder, "%"))
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return "", malformedf(d.strategy, "write tool input %s: %v", path, err)
		}
		paths[placeholder] = path
	}

	args := make([]string, 0, len(d.command)-1)
	for _, arg := range d.command[1:] {
		if path, ok := paths[arg]; ok {
			arg = path
		}
		args = append(args, arg)
	}

	cmd := exec.CommandContext(ctx, d.command[0], args...)
	output, err := cmd.Output()
	if err != nil {
		return "", manualf(d.strategy, "tool %s declined %s: %v", d.command[0], conflict.FilePath, err)
	}
	return string(output), nil
}
