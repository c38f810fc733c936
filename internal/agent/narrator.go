// Package agent wraps the provider invoker in role-specific adapters: one for
// narrative generation, one for action suggestions.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/talefold/talefold/internal/llm"
	"github.com/talefold/talefold/internal/story"
)

// SourceNarrator tags state changes extracted from the narrator's output.
const SourceNarrator = "narrator"

// DefaultMaxAttempts is the shared retry budget for agent invocations.
const DefaultMaxAttempts = 3

// Invoker is the slice of *llm.Client the adapters need. Tests substitute a
// scripted fake.
type Invoker interface {
	InvokeJSON(ctx context.Context, credential, model string, msgs []llm.Message, params llm.GenParams, required []string, maxAttempts int) (map[string]json.RawMessage, error)
}

// TurnOutput is the narrator's validated response, append-ready for a new
// story turn.
type TurnOutput struct {
	Narrative   string
	Dialogue    []story.DialogueLine
	SceneTags   []string
	SystemNotes []string
}

// Narrator generates free-form scene and dialogue continuations.
type Narrator struct {
	Client      Invoker
	MaxAttempts int
}

// Generate invokes the provider and validates the response shape. The
// narrative field is mandatory; an empty one after the invoker's retries is a
// hard format failure. Dialogue, scene tags, and system notes default to
// empty rather than failing.
func (n *Narrator) Generate(ctx context.Context, credential, model string, msgs []llm.Message, params llm.GenParams) (*TurnOutput, error) {
	if params.Temperature == 0 {
		params.Temperature = 0.8
	}
	if params.TopP == 0 {
		params.TopP = 0.9
	}
	if params.MaxTokens == 0 {
		params.MaxTokens = 1024
	}
	attempts := n.MaxAttempts
	if attempts == 0 {
		attempts = DefaultMaxAttempts
	}

	obj, err := n.Client.InvokeJSON(ctx, credential, model, msgs, params, []string{"narrative"}, attempts)
	if err != nil {
		return nil, fmt.Errorf("narrative generation: %w", err)
	}

	var narrative string
	if err := json.Unmarshal(obj["narrative"], &narrative); err != nil {
		return nil, &llm.InvokeError{Kind: llm.KindFormat, Attempts: attempts,
			Err: fmt.Errorf("narrative field: %w", err)}
	}
	if strings.TrimSpace(narrative) == "" {
		return nil, &llm.InvokeError{Kind: llm.KindFormat, Attempts: attempts,
			Err: fmt.Errorf("narrative field is empty")}
	}

	out := &TurnOutput{
		Narrative:   strings.TrimSpace(narrative),
		Dialogue:    []story.DialogueLine{},
		SceneTags:   []string{},
		SystemNotes: []string{},
	}

	// Optional fields: malformed entries are dropped, never fatal.
	if raw, ok := obj["dialogue"]; ok {
		var lines []story.DialogueLine
		if err := json.Unmarshal(raw, &lines); err == nil {
			for _, l := range lines {
				if l.Speaker != "" && l.Text != "" {
					out.Dialogue = append(out.Dialogue, l)
				}
			}
		}
	}
	out.SceneTags = optionalStrings(obj, "sceneTags")
	out.SystemNotes = optionalStrings(obj, "systemNotes")

	return out, nil
}

// optionalStrings decodes an optional string-array field, returning an empty
// slice when the field is absent or malformed.
func optionalStrings(obj map[string]json.RawMessage, key string) []string {
	raw, ok := obj[key]
	if !ok {
		return []string{}
	}
	var vals []string
	if err := json.Unmarshal(raw, &vals); err != nil {
		return []string{}
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}
