package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/calebmills/mergetrain/internal/hunk"
)

// identityKeyParam configures the member key used to identify objects when
// unioning lists of objects during a structural merge.
const identityKeyParam = "identity_key"

// resolveStructural parses both sides as a structured key-value document
// (JSON or YAML) and deep-merges them with theirs taking precedence on
// scalar collisions.
func resolveStructural(_ context.Context, conflict hunk.ConflictHunk, params map[string]string) (string, error) {
	ours, oursJSON, err := parseTree(conflict.OursContent)
	if err != nil {
		return "", malformedf(StrategyStructural, "parse ours side of %s: %v", conflict.FilePath, err)
	}
	theirs, theirsJSON, err := parseTree(conflict.TheirsContent)
	if err != nil {
		return "", malformedf(StrategyStructural, "parse theirs side of %s: %v", conflict.FilePath, err)
	}

	identityKey := ""
	if params != nil {
		identityKey = strings.TrimSpace(params[identityKeyParam])
	}
	merged := mergeValues(ours, theirs, identityKey)

	if oursJSON && theirsJSON {
		return encodeJSON(merged)
	}
	return encodeYAML(merged)
}

// parseTree decodes content as JSON when possible, falling back to YAML.
// The second return reports whether the JSON decoder accepted the input.
func parseTree(content string) (any, bool, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return map[string]any{}, true, nil
	}

	decoder := json.NewDecoder(strings.NewReader(trimmed))
	decoder.UseNumber()
	var viaJSON any
	if err := decoder.Decode(&viaJSON); err == nil && !decoder.More() {
		if _, ok := viaJSON.(map[string]any); ok {
			return viaJSON, true, nil
		}
	}

	var viaYAML any
	if err := yaml.Unmarshal([]byte(content), &viaYAML); err != nil {
		return nil, false, err
	}
	if _, ok := viaYAML.(map[string]any); !ok {
		return nil, false, errStructure(content)
	}
	return viaYAML, false, nil
}

// errStructure reports content that parsed but is not a key-value tree.
func errStructure(content string) error {
	preview := strings.TrimSpace(content)
	if len(preview) > 40 {
		preview = preview[:40] + "..."
	}
	return &Error{Kind: KindMalformedInput, Strategy: StrategyStructural,
		Detail: "document is not a key-value tree: " + preview}
}

// mergeValues deep-merges two parsed values with theirs winning on scalar
// collisions. Lists of objects union by identity key when one is configured.
func mergeValues(ours any, theirs any, identityKey string) any {
	oursMap, oursIsMap := ours.(map[string]any)
	theirsMap, theirsIsMap := theirs.(map[string]any)
	if oursIsMap && theirsIsMap {
		merged := make(map[string]any, len(oursMap)+len(theirsMap))
		for key, value := range oursMap {
			merged[key] = value
		}
		for key, theirsValue := range theirsMap {
			if oursValue, exists := merged[key]; exists {
				merged[key] = mergeValues(oursValue, theirsValue, identityKey)
			} else {
				merged[key] = theirsValue
			}
		}
		return merged
	}

	if identityKey != "" {
		oursList, oursIsList := ours.([]any)
		theirsList, theirsIsList := theirs.([]any)
		if oursIsList && theirsIsList {
			if union, ok := unionByIdentity(oursList, theirsList, identityKey); ok {
				return union
			}
		}
	}

	// Scalar collision, or mismatched shapes: theirs takes precedence.
	return theirs
}

// unionByIdentity merges two object lists keyed by the identity member,
// keeping ours order and appending unseen theirs entries. Returns false when
// either list contains entries without the identity key.
func unionByIdentity(ours []any, theirs []any, identityKey string) ([]any, bool) {
	index := map[string]int{}
	merged := make([]any, 0, len(ours)+len(theirs))

	for _, entry := range ours {
		identity, ok := identityOf(entry, identityKey)
		if !ok {
			return nil, false
		}
		index[identity] = len(merged)
		merged = append(merged, entry)
	}
	for _, entry := range theirs {
		identity, ok := identityOf(entry, identityKey)
		if !ok {
			return nil, false
		}
		if at, exists := index[identity]; exists {
			merged[at] = mergeValues(merged[at], entry, identityKey)
			continue
		}
		index[identity] = len(merged)
		merged = append(merged, entry)
	}
	return merged, true
}

// identityOf extracts the identity value from a list member.
func identityOf(entry any, identityKey string) (string, bool) {
	object, ok := entry.(map[string]any)
	if !ok {
		return "", false
	}
	value, exists := object[identityKey]
	if !exists {
		return "", false
	}
	switch typed := value.(type) {
	case string:
		return typed, true
	case json.Number:
		return typed.String(), true
	case int, int64, uint64, float64, bool:
		return fmt.Sprint(typed), true
	default:
		return "", false
	}
}

// encodeJSON renders the merged tree as compact JSON with stable key order.
func encodeJSON(value any) (string, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return "", malformedf(StrategyStructural, "encode merged json: %v", err)
	}
	return buffer.String(), nil
}

// encodeYAML renders the merged tree as YAML.
func encodeYAML(value any) (string, error) {
	encoded, err := yaml.Marshal(value)
	if err != nil {
		return "", malformedf(StrategyStructural, "encode merged yaml: %v", err)
	}
	return string(encoded), nil
}
