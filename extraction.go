package memory

import (
	"context"
	"encoding/json"
)

// extractionSchema is the JSON schema forced on the language model for
// entity extraction: each entity is a name plus an entity_type.
var extractionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"entities": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":        map[string]any{"type": "string"},
					"entity_type": map[string]any{"type": "string"},
				},
				"required":             []string{"name", "entity_type"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"entities"},
	"additionalProperties": false,
}

const extractionPrompt = `Extract every proper-noun entity mentioned in the text below: people, places, organizations, products, and other named things. Do not extract common nouns, dates, or numbers.

Normalize any first-person reference ("I", "me", "my") to the literal entity name "User".

For each entity, classify its entity_type using a short lowercase label (e.g. "person", "place", "organization", "product").

Respond with a JSON object: {"entities": [{"name": "...", "entity_type": "..."}]}. If there are no entities, respond with {"entities": []}.`

// ExtractedEntity is one (name, type) pair surfaced by extraction.
type ExtractedEntity struct {
	Name       string `json:"name"`
	EntityType string `json:"entity_type"`
}

// ExtractionResult is the output of Extract.
type ExtractionResult struct {
	Entities []ExtractedEntity
}

type extractionResponse struct {
	Entities []ExtractedEntity `json:"entities"`
}

// Extract delegates entity extraction to the language model with a fixed,
// deterministic-temperature prompt (§4.5). A malformed or failed response
// yields an empty result; callers are expected to log this, not fail the
// enclosing operation, because a fact is still valuable without entities.
func Extract(ctx context.Context, gen Generator, model, text string) ExtractionResult {
	messages := []ChatMessage{
		{Role: "system", Content: extractionPrompt},
		{Role: "user", Content: text},
	}

	content, err := gen.Complete(ctx, model, messages, extractionSchema, 0)
	if err != nil {
		return ExtractionResult{}
	}

	var resp extractionResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return ExtractionResult{}
	}

	entities := make([]ExtractedEntity, 0, len(resp.Entities))
	for _, e := range resp.Entities {
		if e.Name == "" || e.EntityType == "" {
			continue
		}
		entities = append(entities, e)
	}
	return ExtractionResult{Entities: entities}
}

// extractLogged is Extract plus a debug-level notice whenever the result is
// empty, matching the façade's explicit-logging exception for the
// extraction path. A failed or malformed response and a response with no
// entities log the same notice.
func extractLogged(ctx context.Context, gen Generator, model, text string, log Logger) ExtractionResult {
	result := Extract(ctx, gen, model, text)
	if len(result.Entities) == 0 {
		log.Debug("extraction produced no entities", "text_len", len(text))
	}
	return result
}
