package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talefold/talefold/internal/llm"
)

func TestSuggesterSuggest(t *testing.T) {
	fake := &fakeInvoker{obj: rawObject(t, `{
		"suggestions": ["Open the crate.", "Ask Mira about the map", "  "]
	}`)}

	s := &Suggester{Client: fake}
	got, err := s.Suggest(context.Background(), "key", "model", nil, llm.GenParams{})

	require.NoError(t, err)
	assert.Equal(t, []string{"Open the crate", "Ask Mira about the map"}, got)
	assert.Equal(t, []string{"suggestions"}, fake.required)
	assert.Equal(t, 0.5, fake.params.Temperature)
	assert.Equal(t, 300, fake.params.MaxTokens)
}

func TestSuggesterAppendsInstruction(t *testing.T) {
	fake := &recordingInvoker{fakeInvoker: fakeInvoker{obj: rawObject(t, `{"suggestions": []}`)}}

	s := &Suggester{Client: fake}
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: "narrate"}}
	got, err := s.Suggest(context.Background(), "key", "model", msgs, llm.GenParams{})

	require.NoError(t, err)
	assert.Empty(t, got)
	require.Len(t, fake.msgs, 2)
	assert.Equal(t, llm.RoleUser, fake.msgs[1].Role)
	assert.Contains(t, fake.msgs[1].Content, "suggestions")
}

func TestSuggesterPropagatesError(t *testing.T) {
	fake := &fakeInvoker{err: &llm.InvokeError{Kind: llm.KindFormat, Attempts: 3}}

	s := &Suggester{Client: fake}
	_, err := s.Suggest(context.Background(), "key", "model", nil, llm.GenParams{})

	var invokeErr *llm.InvokeError
	require.ErrorAs(t, err, &invokeErr)
	assert.Equal(t, llm.KindFormat, invokeErr.Kind)
}

// recordingInvoker additionally captures the message list.
type recordingInvoker struct {
	fakeInvoker
	msgs []llm.Message
}

func (r *recordingInvoker) InvokeJSON(ctx context.Context, credential, model string, msgs []llm.Message, params llm.GenParams, required []string, maxAttempts int) (map[string]json.RawMessage, error) {
	r.msgs = msgs
	return r.fakeInvoker.InvokeJSON(ctx, credential, model, msgs, params, required, maxAttempts)
}
