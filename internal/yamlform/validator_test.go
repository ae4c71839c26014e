package yamlform

import (
	"encoding/json"
	"errors"
	"testing"
)

func validConfig() map[string]any {
	return map[string]any{
		"title":       "Deployment - E-commerce",
		"description": "Answer these questions about your deployment.",
		"sections": []any{
			map[string]any{
				"icon":  "cloud",
				"title": "Infrastructure",
				"questions": []any{
					map[string]any{"id": "cloudProvider", "type": "checkbox", "label": "Cloud provider"},
				},
			},
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing title", func(c map[string]any) { delete(c, "title") }},
		{"empty title", func(c map[string]any) { c["title"] = "" }},
		{"non-string title", func(c map[string]any) { c["title"] = 7 }},
		{"missing description", func(c map[string]any) { delete(c, "description") }},
		{"missing sections", func(c map[string]any) { delete(c, "sections") }},
		{"empty sections", func(c map[string]any) { c["sections"] = []any{} }},
		{"sections not a list", func(c map[string]any) { c["sections"] = "nope" }},
		{"section not a mapping", func(c map[string]any) { c["sections"] = []any{"nope"} }},
		{"section missing icon", func(c map[string]any) {
			c["sections"] = []any{map[string]any{"title": "x", "questions": []any{}}}
		}},
		{"section missing questions", func(c map[string]any) {
			c["sections"] = []any{map[string]any{"icon": "a", "title": "x"}}
		}},
		{"questions not a list", func(c map[string]any) {
			c["sections"] = []any{map[string]any{"icon": "a", "title": "x", "questions": "nope"}}
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			config := validConfig()
			tc.mutate(config)
			err := Validate(config)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
		})
	}
}

func TestValidateDoesNotMutate(t *testing.T) {
	config := validConfig()
	before, _ := json.Marshal(config)
	_ = Validate(config)
	after, _ := json.Marshal(config)
	if string(before) != string(after) {
		t.Fatal("Validate mutated its input")
	}
}

func TestParseString(t *testing.T) {
	source := `
title: Deployment Questions
description: Tell us about your infrastructure.
sections:
  - icon: cloud
    title: Hosting
    questions:
      - id: provider
        type: select
        label: Which cloud provider?
`
	config, err := ParseString(source)
	if err != nil {
		t.Fatalf("ParseString failed: %v", err)
	}
	if config["title"] != "Deployment Questions" {
		t.Fatalf("unexpected title: %v", config["title"])
	}
	sections, ok := config["sections"].([]any)
	if !ok || len(sections) != 1 {
		t.Fatalf("expected one section, got %v", config["sections"])
	}
	if err := Validate(config); err != nil {
		t.Fatalf("parsed config failed validation: %v", err)
	}
}

func TestParseStringRejectsMalformed(t *testing.T) {
	if _, err := ParseString("title: [unclosed"); err == nil {
		t.Fatal("expected parse error for malformed yaml")
	}
	if _, err := ParseString("title: only a title"); err == nil {
		t.Fatal("expected validation error for incomplete document")
	}
}
