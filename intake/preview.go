// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package intake

// Preview is the instant summary computed the moment the
// questionnaire completes. It is derived entirely from state already
// on the session; building one performs no I/O and never blocks on
// the memo backend.
type Preview struct {
	IntakeID string `json:"intake_id"`

	// Findings counts discoveries by type.
	Findings map[DiscoveryType]int `json:"findings"`

	// Headlines are short teasers drawn from the most recent
	// discoveries, newest first, capped at previewHeadlines.
	Headlines []string `json:"headlines"`

	AnsweredQuestions int  `json:"answered_questions"`
	RequiredComplete  bool `json:"required_complete"`
}

const previewHeadlines = 3

// BuildPreview derives the instant preview from a session's recorded
// answers and discoveries.
func BuildPreview(session *Session, catalog *Catalog) *Preview {
	preview := &Preview{
		IntakeID:          session.ID,
		Findings:          make(map[DiscoveryType]int),
		AnsweredQuestions: len(session.Answers),
		RequiredComplete:  len(catalog.MissingRequired(session)) == 0,
	}

	for _, discovery := range session.Discoveries {
		preview.Findings[discovery.Type]++
	}

	for i := len(session.Discoveries) - 1; i >= 0 && len(preview.Headlines) < previewHeadlines; i-- {
		if headline, ok := session.Discoveries[i].Payload["headline"].(string); ok && headline != "" {
			preview.Headlines = append(preview.Headlines, headline)
		}
	}

	return preview
}
