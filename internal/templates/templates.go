// Package templates provides embedded seed assets for workspace scaffolding.
package templates

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

const seedRoot = "seed"

//go:embed seed/*.yaml seed/*.md
var embeddedFS embed.FS

var requiredTemplates = []string{
	"seed/policy.yaml",
	"seed/README.md",
}

// Required returns the template lookup keys required by workspace scaffolding.
func Required() []string {
	return append([]string(nil), requiredTemplates...)
}

// Read returns the embedded template contents for the provided lookup key.
func Read(name string) ([]byte, error) {
	cleaned, err := sanitizeName(name)
	if err != nil {
		return nil, err
	}

	data, err := fs.ReadFile(embeddedFS, cleaned)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", cleaned, err)
	}
	return data, nil
}

// sanitizeName validates and normalizes template lookup keys.
func sanitizeName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", errors.New("template name is required")
	}
	if strings.HasPrefix(trimmed, "/") {
		return "", errors.New("template name must be relative")
	}
	if strings.Contains(trimmed, "\\") {
		return "", errors.New("template name must use forward slashes")
	}
	segments := strings.Split(trimmed, "/")
	for _, segment := range segments {
		if segment == "" {
			return "", errors.New("template name must not contain empty segments")
		}
		if segment == "." || segment == ".." {
			return "", errors.New("template name must not include dot segments")
		}
	}

	cleaned := path.Clean(trimmed)
	if !strings.HasPrefix(cleaned, seedRoot+"/") {
		return "", errors.New("template name must start with seed/")
	}
	return cleaned, nil
}
