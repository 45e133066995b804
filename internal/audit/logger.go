// Package audit provides the append-only decision record for merge-train runs.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// logFileName is the audit log file under the engine state directory.
	logFileName = "audit.log"
	// logFileMode defines permissions for the audit log file.
	logFileMode = 0o644
	// logDirMode defines permissions for the audit log directory.
	logDirMode = 0o755
)

// LogPath returns the audit log location under an engine state directory.
func LogPath(stateDir string) string {
	return filepath.Join(stateDir, logFileName)
}

// Result values recorded on audit events.
const (
	ResultSuccess     = "success"
	ResultResolved    = "resolved"
	ResultUnresolved  = "unresolved"
	ResultGatePass    = "gate-pass"
	ResultGateFail    = "gate-fail"
	ResultQuarantined = "quarantined"
	ResultAborted     = "aborted"
	ResultCritical    = "critical"
	ResultPredicted   = "predicted"
)

// Event is one append-only audit record: one JSON object per line, ordered
// by timestamp plus sequence, never mutated or deleted.
type Event struct {
	Timestamp    time.Time `json:"ts"`
	Sequence     uint64    `json:"seq"`
	Branch       string    `json:"branch"`
	File         string    `json:"file,omitempty"`
	ConflictType string    `json:"conflict_type,omitempty"`
	RuleApplied  string    `json:"rule_applied,omitempty"`
	Gate         string    `json:"gate,omitempty"`
	Result       string    `json:"result"`
	Notes        string    `json:"notes,omitempty"`
	DryRun       bool      `json:"dry_run,omitempty"`
}

// Logger appends audit events to a JSONL file. Safe for concurrent use; the
// mutex also serializes sequence assignment so ordering is total.
type Logger struct {
	path     string
	warnings io.Writer
	now      func() time.Time
	mu       sync.Mutex
	seq      uint64
}

// NewLogger opens an audit logger writing to the given file path. The
// sequence counter continues after any events already on disk.
func NewLogger(path string, warnings io.Writer) (*Logger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("audit log path is required")
	}
	if warnings == nil {
		warnings = os.Stderr
	}
	logger := &Logger{path: path, warnings: warnings, now: time.Now}

	existing, err := countLines(path)
	if err != nil {
		return nil, err
	}
	logger.seq = existing
	return logger, nil
}

// Append writes one event. Timestamp and sequence are assigned here; any
// values the caller set are overwritten.
func (logger *Logger) Append(event Event) error {
	if logger == nil {
		return errors.New("audit logger is nil")
	}
	if strings.TrimSpace(event.Branch) == "" {
		return errors.New("audit event branch is required")
	}
	if strings.TrimSpace(event.Result) == "" {
		return errors.New("audit event result is required")
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()

	logger.seq++
	event.Sequence = logger.seq
	event.Timestamp = logger.now().UTC()

	line, err := json.Marshal(event)
	if err != nil {
		logger.warnf("audit event rejected: %v", err)
		return fmt.Errorf("encode audit event: %w", err)
	}
	if err := logger.appendLine(line); err != nil {
		logger.warnf("audit log write failed for %s: %v", logger.path, err)
		return err
	}
	return nil
}

// appendLine writes one encoded event line to the audit log file.
func (logger *Logger) appendLine(line []byte) error {
	if err := os.MkdirAll(filepath.Dir(logger.path), logDirMode); err != nil {
		return fmt.Errorf("create audit log directory %s: %w", filepath.Dir(logger.path), err)
	}
	file, err := os.OpenFile(logger.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, logFileMode)
	if err != nil {
		return fmt.Errorf("open audit log %s: %w", logger.path, err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		_ = file.Close()
		return fmt.Errorf("write audit log %s: %w", logger.path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close audit log %s: %w", logger.path, err)
	}
	return nil
}

// warnf writes a warning to the configured warnings writer.
func (logger *Logger) warnf(format string, args ...any) {
	if logger == nil || logger.warnings == nil {
		return
	}
	_, _ = fmt.Fprintf(logger.warnings, format+"\n", args...)
}

// countLines counts events already present in an existing audit log.
func countLines(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read audit log %s: %w", path, err)
	}
	var count uint64
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count, nil
}
