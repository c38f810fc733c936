package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/talefold/talefold/internal/llm"
)

// Suggester produces short candidate next-actions for the player. Purely
// advisory: nothing it returns is persisted.
type Suggester struct {
	Client      Invoker
	MaxAttempts int
}

// Suggest invokes the provider for 2-4 concise action suggestions. Same retry
// discipline as the narrator, scaled down: lower temperature, small output
// budget. An empty suggestion list is a valid result.
func (s *Suggester) Suggest(ctx context.Context, credential, model string, msgs []llm.Message, params llm.GenParams) ([]string, error) {
	if params.Temperature == 0 {
		params.Temperature = 0.5
	}
	if params.TopP == 0 {
		params.TopP = 0.9
	}
	if params.MaxTokens == 0 {
		params.MaxTokens = 300
	}
	attempts := s.MaxAttempts
	if attempts == 0 {
		attempts = DefaultMaxAttempts
	}

	msgs = append(msgs, llm.Message{
		Role: llm.RoleUser,
		Content: `Suggest what the player might do next. Respond ONLY with a JSON object:
- "suggestions": array of 2-4 short, actionable phrasings (each under 15 words)`,
	})

	obj, err := s.Client.InvokeJSON(ctx, credential, model, msgs, params, []string{"suggestions"}, attempts)
	if err != nil {
		return nil, fmt.Errorf("suggestion generation: %w", err)
	}

	suggestions := optionalStrings(obj, "suggestions")
	for i, sug := range suggestions {
		suggestions[i] = strings.TrimSuffix(sug, ".")
	}
	return suggestions, nil
}
