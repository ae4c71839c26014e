// Package yamlform validates questionnaire structures before a session
// accepts them. It is a gate, not a transformer: inputs are never mutated.
package yamlform

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ValidationError describes why a questionnaire was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid questionnaire: " + e.Reason
}

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Validate accepts a nested mapping only if it carries a string title and
// description plus a non-empty sections list, each section a mapping with
// at minimum an icon, a title, and a questions list. Individual questions
// are not deeply validated.
func Validate(config map[string]any) error {
	if config == nil {
		return invalid("config is empty")
	}
	if err := requireString(config, "title"); err != nil {
		return err
	}
	if err := requireString(config, "description"); err != nil {
		return err
	}

	raw, ok := config["sections"]
	if !ok {
		return invalid("sections is required")
	}
	sections, ok := raw.([]any)
	if !ok {
		return invalid("sections must be a list")
	}
	if len(sections) == 0 {
		return invalid("sections must not be empty")
	}

	for i, entry := range sections {
		section, ok := entry.(map[string]any)
		if !ok {
			return invalid("section %d must be a mapping", i)
		}
		if err := requireStringAt(section, "icon", i); err != nil {
			return err
		}
		if err := requireStringAt(section, "title", i); err != nil {
			return err
		}
		questionsRaw, ok := section["questions"]
		if !ok {
			return invalid("section %d is missing questions", i)
		}
		if _, ok := questionsRaw.([]any); !ok {
			return invalid("section %d questions must be a list", i)
		}
	}
	return nil
}

// ParseString parses a raw YAML document and validates the result, so
// callers can submit the questionnaire either as a JSON object or as the
// YAML text they were handed.
func ParseString(source string) (map[string]any, error) {
	var config map[string]any
	if err := yaml.Unmarshal([]byte(source), &config); err != nil {
		return nil, invalid("yaml parse error: %v", err)
	}
	config = normalizeKeys(config)
	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

func requireString(config map[string]any, key string) error {
	raw, ok := config[key]
	if !ok {
		return invalid("%s is required", key)
	}
	value, ok := raw.(string)
	if !ok {
		return invalid("%s must be a string", key)
	}
	if value == "" {
		return invalid("%s must not be empty", key)
	}
	return nil
}

func requireStringAt(section map[string]any, key string, index int) error {
	raw, ok := section[key]
	if !ok {
		return invalid("section %d is missing %s", index, key)
	}
	if _, ok := raw.(string); !ok {
		return invalid("section %d %s must be a string", index, key)
	}
	return nil
}

// normalizeKeys rewrites yaml.v3's map[any]any nodes (produced for nested
// mappings with non-string keys) into map[string]any so parsed documents
// look the same as JSON-decoded ones.
func normalizeKeys(value map[string]any) map[string]any {
	out := make(map[string]any, len(value))
	for k, v := range value {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return normalizeKeys(v)
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			out[fmt.Sprint(k)] = normalizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = normalizeValue(inner)
		}
		return out
	default:
		return v
	}
}
