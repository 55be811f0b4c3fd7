// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package intake

import (
	"testing"
)

const testCatalog = `{
	// Annotated for operators: ordering here is display ordering.
	"questions": [
		{"id": "goal", "prompt": "What decision are you facing?", "required": true},
		{"id": "horizon", "prompt": "What is your time horizon?", "required": true, "section": "context"},
		{"id": "notes", "prompt": "Anything else we should know?", "required": false},
	],
}`

func TestParseCatalogJSONC(t *testing.T) {
	catalog, err := ParseCatalog([]byte(testCatalog))
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	if len(catalog.Questions) != 3 {
		t.Fatalf("parsed %d questions, want 3", len(catalog.Questions))
	}

	question, ok := catalog.Question("horizon")
	if !ok || !question.Required || question.Section != "context" {
		t.Errorf("Question(horizon) = %+v, %v", question, ok)
	}
	if _, ok := catalog.Question("absent"); ok {
		t.Error("Question(absent) reported present")
	}
}

func TestParseCatalogRejectsBadDefinitions(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", `{"questions": []}`},
		{"missing id", `{"questions": [{"prompt": "p", "required": true}]}`},
		{"duplicate id", `{"questions": [{"id": "a", "prompt": "p"}, {"id": "a", "prompt": "q"}]}`},
		{"malformed", `{"questions": [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCatalog([]byte(tt.raw)); err == nil {
				t.Error("ParseCatalog accepted bad catalog")
			}
		})
	}
}

func TestMissingRequired(t *testing.T) {
	catalog, err := ParseCatalog([]byte(testCatalog))
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}

	session := &Session{ID: "s"}
	if missing := catalog.MissingRequired(session); len(missing) != 2 {
		t.Errorf("missing on empty session = %v, want both required IDs", missing)
	}

	session.Answers = append(session.Answers, Answer{QuestionID: "goal", Value: "expand"})
	if missing := catalog.MissingRequired(session); len(missing) != 1 || missing[0] != "horizon" {
		t.Errorf("missing = %v, want [horizon]", missing)
	}

	// Optional questions never block completeness.
	session.Answers = append(session.Answers, Answer{QuestionID: "horizon", Value: "5y"})
	if missing := catalog.MissingRequired(session); missing != nil {
		t.Errorf("missing after required answered = %v, want none", missing)
	}
}
