// Package card imports SillyTavern character cards into character
// profiles.
package card

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/uzuki-dev/palmtalk/internal/types"
	"github.com/uzuki-dev/palmtalk/internal/utils"
)

// cardSchema validates the fields we map. V2 cards nest them under
// "data"; V1 cards keep them flat. Both shapes need a non-empty name.
const cardSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "$defs": {
    "fields": {
      "type": "object",
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "description": {"type": "string"},
        "personality": {"type": "string"},
        "scenario": {"type": "string"},
        "first_mes": {"type": "string"},
        "mes_example": {"type": "string"},
        "system_prompt": {"type": "string"},
        "avatar": {"type": "string"}
      },
      "required": ["name"]
    }
  },
  "anyOf": [
    {
      "properties": {
        "data": {"$ref": "#/$defs/fields"}
      },
      "required": ["data"]
    },
    {"$ref": "#/$defs/fields"}
  ]
}`

var schema = jsonschema.MustCompileString("card.json", cardSchema)

type cardFields struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Personality  string `json:"personality"`
	Scenario     string `json:"scenario"`
	FirstMes     string `json:"first_mes"`
	MesExample   string `json:"mes_example"`
	SystemPrompt string `json:"system_prompt"`
	Avatar       string `json:"avatar"`
}

type cardEnvelope struct {
	Data *cardFields `json:"data"`
	cardFields
}

// Parse decodes and validates a character card, returning a new character
// profile. userName substitutes {{user}} placeholders in the card texts.
func Parse(data []byte, userName string) (*types.Character, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode card: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid character card: %w", err)
	}

	var envelope cardEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode card: %w", err)
	}
	fields := envelope.cardFields
	if envelope.Data != nil {
		fields = *envelope.Data
	}

	normalize := func(text string) string {
		return strings.TrimSpace(utils.NormalizePromptText(text, fields.Name, userName))
	}

	char := &types.Character{
		ID:             uuid.NewString(),
		Name:           fields.Name,
		Avatar:         fields.Avatar,
		CorePrompt:     normalize(fields.SystemPrompt),
		RawPersona:     normalize(fields.Description),
		Personality:    normalize(fields.Personality),
		Background:     normalize(fields.Scenario),
		DialogExamples: parseExamples(fields.MesExample, fields.Name, userName),
	}
	return char, nil
}

// parseExamples best-effort extracts user/reply pairs from a SillyTavern
// mes_example block. Blocks are separated by <START>; lines are prefixed
// with {{user}}: or {{char}}:.
func parseExamples(raw, charName, userName string) []types.DialogExample {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var examples []types.DialogExample
	for _, block := range strings.Split(raw, "<START>") {
		var pending string
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "{{user}}:"):
				pending = strings.TrimSpace(strings.TrimPrefix(line, "{{user}}:"))
			case strings.HasPrefix(line, "{{char}}:"):
				reply := strings.TrimSpace(strings.TrimPrefix(line, "{{char}}:"))
				if pending == "" && reply == "" {
					continue
				}
				examples = append(examples, types.DialogExample{
					User:  utils.NormalizePromptText(pending, charName, userName),
					Reply: utils.NormalizePromptText(reply, charName, userName),
				})
				pending = ""
			}
		}
	}
	return examples
}
