// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package intake

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// Question is one entry in the intake questionnaire catalog.
type Question struct {
	ID       string `json:"id"`
	Prompt   string `json:"prompt"`
	Required bool   `json:"required"`

	// Section groups questions for display. Purely presentational;
	// completeness only cares about Required.
	Section string `json:"section,omitempty"`
}

// Catalog is the ordered questionnaire definition. The catalog file is
// JSONC so operators can annotate questions in place.
type Catalog struct {
	Questions []Question `json:"questions"`
}

// LoadCatalog reads and parses a questionnaire catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("intake: reading catalog: %w", err)
	}
	return ParseCatalog(raw)
}

// ParseCatalog parses JSONC catalog bytes, validating that question
// IDs are present and unique.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var catalog Catalog
	if err := json.Unmarshal(jsonc.ToJSON(raw), &catalog); err != nil {
		return nil, fmt.Errorf("intake: parsing catalog: %w", err)
	}
	if len(catalog.Questions) == 0 {
		return nil, fmt.Errorf("intake: catalog defines no questions")
	}

	seen := make(map[string]struct{}, len(catalog.Questions))
	for i, question := range catalog.Questions {
		if question.ID == "" {
			return nil, fmt.Errorf("intake: catalog question %d has no id", i)
		}
		if _, dup := seen[question.ID]; dup {
			return nil, fmt.Errorf("intake: duplicate catalog question id %q", question.ID)
		}
		seen[question.ID] = struct{}{}
	}
	return &catalog, nil
}

// Question returns the catalog entry for an ID, with a presence flag.
func (c *Catalog) Question(id string) (Question, bool) {
	for _, question := range c.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// MissingRequired returns the IDs of required questions the session
// has not answered yet, in catalog order. An empty result means the
// questionnaire is complete.
func (c *Catalog) MissingRequired(session *Session) []string {
	var missing []string
	for _, question := range c.Questions {
		if !question.Required {
			continue
		}
		if _, answered := session.AnswerValue(question.ID); !answered {
			missing = append(missing, question.ID)
		}
	}
	return missing
}
