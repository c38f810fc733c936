package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talefold/talefold/internal/llm"
	"github.com/talefold/talefold/internal/story"
)

// fakeInvoker returns a scripted object and records the call parameters.
type fakeInvoker struct {
	obj      map[string]json.RawMessage
	err      error
	params   llm.GenParams
	required []string
	attempts int
	calls    int
}

func (f *fakeInvoker) InvokeJSON(ctx context.Context, credential, model string, msgs []llm.Message, params llm.GenParams, required []string, maxAttempts int) (map[string]json.RawMessage, error) {
	f.calls++
	f.params = params
	f.required = required
	f.attempts = maxAttempts
	if f.err != nil {
		return nil, f.err
	}
	return f.obj, nil
}

func rawObject(t *testing.T, src string) map[string]json.RawMessage {
	t.Helper()
	var obj map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(src), &obj))
	return obj
}

func TestNarratorGenerate(t *testing.T) {
	fake := &fakeInvoker{obj: rawObject(t, `{
		"narrative": "  The door gives way.  ",
		"dialogue": [
			{"speaker": "Mira", "text": "Careful now."},
			{"speaker": "", "text": "orphan line"}
		],
		"sceneTags": ["tense", " dark "],
		"systemNotes": ["hp: 40"]
	}`)}

	n := &Narrator{Client: fake}
	out, err := n.Generate(context.Background(), "key", "model", nil, llm.GenParams{})

	require.NoError(t, err)
	assert.Equal(t, "The door gives way.", out.Narrative)
	require.Len(t, out.Dialogue, 1)
	assert.Equal(t, story.DialogueLine{Speaker: "Mira", Text: "Careful now."}, out.Dialogue[0])
	assert.Equal(t, []string{"tense", "dark"}, out.SceneTags)
	assert.Equal(t, []string{"hp: 40"}, out.SystemNotes)
}

func TestNarratorDefaults(t *testing.T) {
	fake := &fakeInvoker{obj: rawObject(t, `{"narrative": "ok"}`)}

	n := &Narrator{Client: fake}
	out, err := n.Generate(context.Background(), "key", "model", nil, llm.GenParams{})

	require.NoError(t, err)
	assert.Equal(t, 0.8, fake.params.Temperature)
	assert.Equal(t, 0.9, fake.params.TopP)
	assert.Equal(t, 1024, fake.params.MaxTokens)
	assert.Equal(t, []string{"narrative"}, fake.required)
	assert.Equal(t, DefaultMaxAttempts, fake.attempts)

	// Optional fields come back empty, never nil.
	assert.NotNil(t, out.Dialogue)
	assert.NotNil(t, out.SceneTags)
	assert.NotNil(t, out.SystemNotes)
	assert.Empty(t, out.Dialogue)
}

func TestNarratorCallerParamsKept(t *testing.T) {
	fake := &fakeInvoker{obj: rawObject(t, `{"narrative": "ok"}`)}

	n := &Narrator{Client: fake, MaxAttempts: 5}
	_, err := n.Generate(context.Background(), "key", "model", nil, llm.GenParams{Temperature: 0.2, MaxTokens: 64})

	require.NoError(t, err)
	assert.Equal(t, 0.2, fake.params.Temperature)
	assert.Equal(t, 64, fake.params.MaxTokens)
	assert.Equal(t, 5, fake.attempts)
}

func TestNarratorEmptyNarrativeIsFormatError(t *testing.T) {
	fake := &fakeInvoker{obj: rawObject(t, `{"narrative": "   "}`)}

	n := &Narrator{Client: fake}
	_, err := n.Generate(context.Background(), "key", "model", nil, llm.GenParams{})

	var invokeErr *llm.InvokeError
	require.ErrorAs(t, err, &invokeErr)
	assert.Equal(t, llm.KindFormat, invokeErr.Kind)
}

func TestNarratorMalformedOptionalFieldsDropped(t *testing.T) {
	fake := &fakeInvoker{obj: rawObject(t, `{
		"narrative": "ok",
		"dialogue": "not an array",
		"sceneTags": 42
	}`)}

	n := &Narrator{Client: fake}
	out, err := n.Generate(context.Background(), "key", "model", nil, llm.GenParams{})

	require.NoError(t, err)
	assert.Empty(t, out.Dialogue)
	assert.Empty(t, out.SceneTags)
}

func TestNarratorPropagatesInvokerError(t *testing.T) {
	wrapped := &llm.InvokeError{Kind: llm.KindTransient, Attempts: 3, Err: errors.New("overloaded")}
	fake := &fakeInvoker{err: wrapped}

	n := &Narrator{Client: fake}
	_, err := n.Generate(context.Background(), "key", "model", nil, llm.GenParams{})

	var invokeErr *llm.InvokeError
	require.ErrorAs(t, err, &invokeErr)
	assert.Equal(t, llm.KindTransient, invokeErr.Kind)
}
