// Package bootstrap scaffolds the _mergetrain workspace in a repository.
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/calebmills/mergetrain/internal/templates"
)

const (
	workspaceDirName = "_mergetrain"
	templatesDirName = "_mergetrain/templates"
	ignoreFileName   = ".gitignore"
	// ignoreContent keeps transient engine state out of version control.
	ignoreContent    = "_local-state/\n"
	workspaceDirMode = 0o755
	artifactFileMode = 0o644
)

// Artifact describes a scaffolded workspace file and its template lookup key.
type Artifact struct {
	Name     string
	Template string
	Required bool
}

// Options configures scaffolding behavior.
type Options struct {
	Force bool
}

// Result captures which artifacts were written or skipped.
type Result struct {
	Written []string
	Skipped []string
}

// Artifacts returns the workspace artifacts in stable order.
func Artifacts() []Artifact {
	return []Artifact{
		{Name: "policy.yaml", Template: "seed/policy.yaml", Required: true},
		{Name: "README.md", Template: "seed/README.md", Required: false},
	}
}

// Run ensures the _mergetrain workspace exists with a starter policy.
func Run(repoRoot string, options Options) (Result, error) {
	if strings.TrimSpace(repoRoot) == "" {
		return Result{}, errors.New("repo root is required")
	}

	result, err := writeArtifacts(repoRoot, Artifacts(), options)
	if err != nil {
		return Result{}, err
	}

	ignorePath := filepath.Join(repoRoot, workspaceDirName, ignoreFileName)
	wrote, err := ensureIgnoreFile(ignorePath)
	if err != nil {
		return Result{}, err
	}
	rel := repoRelativePath(repoRoot, ignorePath)
	if wrote {
		result.Written = append(result.Written, rel)
	} else {
		result.Skipped = append(result.Skipped, rel)
	}
	return result, nil
}

// PolicyPath returns the repository's policy file location.
func PolicyPath(repoRoot string) string {
	return filepath.Join(repoRoot, workspaceDirName, "policy.yaml")
}

// writeArtifacts writes the provided artifacts to disk using templates.
func writeArtifacts(repoRoot string, artifacts []Artifact, options Options) (Result, error) {
	if len(artifacts) == 0 {
		return Result{}, errors.New("artifacts are required")
	}

	workspaceDir := filepath.Join(repoRoot, workspaceDirName)
	if err := os.MkdirAll(workspaceDir, workspaceDirMode); err != nil {
		return Result{}, fmt.Errorf("create workspace directory %s: %w", workspaceDir, err)
	}

	result := Result{}
	for _, artifact := range artifacts {
		if strings.TrimSpace(artifact.Name) == "" {
			return Result{}, errors.New("artifact name is required")
		}
		if strings.TrimSpace(artifact.Template) == "" {
			return Result{}, errors.New("artifact template is required")
		}
		path := filepath.Join(workspaceDir, artifact.Name)
		if !options.Force {
			if _, err := os.Stat(path); err == nil {
				result.Skipped = append(result.Skipped, repoRelativePath(repoRoot, path))
				continue
			} else if !errors.Is(err, os.ErrNotExist) {
				return Result{}, fmt.Errorf("stat artifact %s: %w", path, err)
			}
		}

		data, err := loadTemplate(repoRoot, artifact.Template)
		if err != nil {
			return Result{}, fmt.Errorf("load template %s: %w", artifact.Template, err)
		}
		if err := os.WriteFile(path, data, artifactFileMode); err != nil {
			return Result{}, fmt.Errorf("write artifact %s: %w", path, err)
		}
		result.Written = append(result.Written, repoRelativePath(repoRoot, path))
	}

	return result, nil
}

// ensureIgnoreFile writes the state-dir ignore file if absent. Reports
// whether the file was written.
func ensureIgnoreFile(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat ignore file %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(ignoreContent), artifactFileMode); err != nil {
		return false, fmt.Errorf("write ignore file %s: %w", path, err)
	}
	return true, nil
}

// loadTemplate reads a template, preferring repo-local overrides when present.
func loadTemplate(repoRoot string, name string) ([]byte, error) {
	if strings.TrimSpace(repoRoot) == "" {
		return nil, errors.New("repo root is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("template name is required")
	}

	localPath := filepath.Join(repoRoot, templatesDirName, filepath.FromSlash(name))
	info, err := os.Stat(localPath)
	if err == nil {
		if info.IsDir() {
			return nil, fmt.Errorf("template path is a directory: %s", localPath)
		}
		data, readErr := os.ReadFile(localPath)
		if readErr != nil {
			return nil, fmt.Errorf("read local template %s: %w", localPath, readErr)
		}
		return data, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat local template %s: %w", localPath, err)
	}

	return templates.Read(name)
}

// repoRelativePath returns a repository-relative path using forward slashes.
func repoRelativePath(repoRoot string, path string) string {
	rel, err := filepath.Rel(repoRoot, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
