package turn

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/talefold/talefold/internal/agent"
	"github.com/talefold/talefold/internal/llm"
	"github.com/talefold/talefold/internal/story"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeStore serves a canned snapshot and records what gets persisted.
type fakeStore struct {
	snapshot    *Snapshot
	settings    *story.ProviderSettings
	settingsErr error
	persistErr  error

	persistedTurn  *story.StoryTurn
	persistedState []story.StateValue
	persistedLog   []story.ChangeLogEntry
	window         int
}

func (f *fakeStore) LoadSnapshot(ctx context.Context, ownerID, storyID string, window int) (*Snapshot, error) {
	f.window = window
	if f.snapshot == nil {
		return nil, story.ErrNotFound
	}
	return f.snapshot, nil
}

func (f *fakeStore) ProviderSettings(ctx context.Context, ownerID string) (*story.ProviderSettings, error) {
	if f.settingsErr != nil {
		return nil, f.settingsErr
	}
	return f.settings, nil
}

func (f *fakeStore) PersistTurn(ctx context.Context, turn *story.StoryTurn, state []story.StateValue, log []story.ChangeLogEntry) error {
	if f.persistErr != nil {
		return f.persistErr
	}
	f.persistedTurn = turn
	f.persistedState = state
	f.persistedLog = log
	return nil
}

// scriptedInvoker satisfies agent.Invoker with a fixed response.
type scriptedInvoker struct {
	obj   map[string]json.RawMessage
	err   error
	model string
	cred  string
}

func (s *scriptedInvoker) InvokeJSON(ctx context.Context, credential, model string, msgs []llm.Message, params llm.GenParams, required []string, maxAttempts int) (map[string]json.RawMessage, error) {
	s.cred = credential
	s.model = model
	if s.err != nil {
		return nil, s.err
	}
	return s.obj, nil
}

func scriptReply(t *testing.T, src string) map[string]json.RawMessage {
	t.Helper()
	var obj map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(src), &obj))
	return obj
}

func ptr(f float64) *float64 { return &f }

func testSnapshot() *Snapshot {
	return &Snapshot{
		Story: story.Story{ID: "story-1", WorldID: "world-1", Title: "The Long Night"},
		World: story.World{
			ID:   "world-1",
			Name: "Emberfall",
			Schema: []story.SchemaField{
				{Key: "hp", Type: story.FieldNumber, Min: ptr(0), Max: ptr(100), Default: float64(100)},
				{Key: "location", Type: story.FieldText, Default: "village"},
			},
		},
		Cast: []story.StoryCharacter{
			{ID: "c1", Name: "Mira", Profile: "a scholar"},
		},
		State:   map[string]any{"hp": float64(80)},
		NextSeq: 4,
	}
}

func testSettings() *story.ProviderSettings {
	return &story.ProviderSettings{
		OwnerID:      "owner",
		Provider:     "anthropic",
		Credential:   "sk-test",
		DefaultModel: "default-model",
		Temperature:  0.7,
		MaxTokens:    512,
	}
}

func testEngine(store *fakeStore, inv agent.Invoker) *Engine {
	return &Engine{
		Store:     store,
		Narrator:  &agent.Narrator{Client: inv},
		Suggester: &agent.Suggester{Client: inv},
		Now:       func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestExecuteHappyPath(t *testing.T) {
	store := &fakeStore{snapshot: testSnapshot(), settings: testSettings()}
	inv := &scriptedInvoker{obj: scriptReply(t, `{
		"narrative": "You limp into the mill.",
		"dialogue": [{"speaker": "Mira", "text": "You look awful."}],
		"sceneTags": ["night"],
		"systemNotes": ["hp: 55", "location: the old mill"]
	}`)}

	engine := testEngine(store, inv)
	res, err := engine.Execute(context.Background(), ExecuteRequest{
		UserID: "owner", StoryID: "story-1", Input: "  stumble to the mill  ",
	})

	require.NoError(t, err)
	assert.Equal(t, "You limp into the mill.", res.Turn.Narrative)
	assert.Equal(t, 4, res.Turn.Seq)
	assert.Equal(t, "stumble to the mill", res.Turn.UserInput)
	assert.NotEmpty(t, res.Turn.ID)

	// Both notes resolve to changes, emitted in schema order.
	require.Len(t, res.Changes, 2)
	assert.Equal(t, "hp", res.Changes[0].Key)
	assert.Equal(t, float64(55), res.Changes[0].New)
	assert.Equal(t, float64(80), res.Changes[0].Previous)
	assert.Equal(t, "location", res.Changes[1].Key)
	assert.Equal(t, "the old mill", res.Changes[1].New)

	// Persisted rows mirror the result.
	require.NotNil(t, store.persistedTurn)
	assert.Equal(t, res.Turn.ID, store.persistedTurn.ID)
	require.Len(t, store.persistedState, 2)
	assert.Equal(t, story.StateValue{StoryID: "story-1", Key: "hp", Value: float64(55)}, store.persistedState[0])
	require.Len(t, store.persistedLog, 2)
	assert.Equal(t, res.Turn.ID, store.persistedLog[0].TurnID)
	assert.Equal(t, "narrator", store.persistedLog[0].Source)

	// Provider credentials and default model from stored settings.
	assert.Equal(t, "sk-test", inv.cred)
	assert.Equal(t, "default-model", inv.model)
}

func TestExecuteEmptyInput(t *testing.T) {
	engine := testEngine(&fakeStore{}, &scriptedInvoker{})
	_, err := engine.Execute(context.Background(), ExecuteRequest{
		UserID: "owner", StoryID: "story-1", Input: "   \n\t ",
	})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestExecuteNotConfigured(t *testing.T) {
	store := &fakeStore{snapshot: testSnapshot(), settingsErr: story.ErrNotFound}
	engine := testEngine(store, &scriptedInvoker{})

	_, err := engine.Execute(context.Background(), ExecuteRequest{
		UserID: "owner", StoryID: "story-1", Input: "go",
	})
	assert.ErrorIs(t, err, llm.ErrNotConfigured)
}

func TestExecuteUnknownStory(t *testing.T) {
	store := &fakeStore{settings: testSettings()}
	engine := testEngine(store, &scriptedInvoker{})

	_, err := engine.Execute(context.Background(), ExecuteRequest{
		UserID: "owner", StoryID: "missing", Input: "go",
	})

	var phaseErr *Error
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, PhaseAssembling, phaseErr.Phase)
	assert.ErrorIs(t, err, story.ErrNotFound)
}

func TestExecuteGenerationFailureWrapped(t *testing.T) {
	store := &fakeStore{snapshot: testSnapshot(), settings: testSettings()}
	inv := &scriptedInvoker{err: &llm.InvokeError{Kind: llm.KindFormat, Attempts: 3, Err: errors.New("no json")}}
	engine := testEngine(store, inv)

	_, err := engine.Execute(context.Background(), ExecuteRequest{
		UserID: "owner", StoryID: "story-1", Input: "go",
	})

	var phaseErr *Error
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, PhaseGenerating, phaseErr.Phase)

	var invokeErr *llm.InvokeError
	assert.ErrorAs(t, err, &invokeErr)
	assert.Nil(t, store.persistedTurn, "nothing may be persisted after a generation failure")
}

func TestExecutePersistFailureWrapped(t *testing.T) {
	store := &fakeStore{
		snapshot:   testSnapshot(),
		settings:   testSettings(),
		persistErr: &PersistError{Step: "state", Err: errors.New("disk full")},
	}
	inv := &scriptedInvoker{obj: scriptReply(t, `{"narrative": "ok"}`)}
	engine := testEngine(store, inv)

	_, err := engine.Execute(context.Background(), ExecuteRequest{
		UserID: "owner", StoryID: "story-1", Input: "go",
	})

	var phaseErr *Error
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, PhasePersisting, phaseErr.Phase)

	var persistErr *PersistError
	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, "state", persistErr.Step)
}

func TestExecuteWarningsNotPersisted(t *testing.T) {
	store := &fakeStore{snapshot: testSnapshot(), settings: testSettings()}
	inv := &scriptedInvoker{obj: scriptReply(t, `{
		"narrative": "ok",
		"systemNotes": ["mana: 30", "hp: 200"]
	}`)}
	engine := testEngine(store, inv)

	res, err := engine.Execute(context.Background(), ExecuteRequest{
		UserID: "owner", StoryID: "story-1", Input: "go",
	})

	require.NoError(t, err)
	// mana is unknown; hp clamps to 100 and still changes from 80.
	require.Len(t, res.Changes, 1)
	assert.Equal(t, float64(100), res.Changes[0].New)
	require.Len(t, res.Warnings, 2)
	require.Len(t, store.persistedState, 1)
}

func TestExecuteWindowOverride(t *testing.T) {
	store := &fakeStore{snapshot: testSnapshot(), settings: testSettings()}
	inv := &scriptedInvoker{obj: scriptReply(t, `{"narrative": "ok"}`)}
	engine := testEngine(store, inv)

	_, err := engine.Execute(context.Background(), ExecuteRequest{
		UserID: "owner", StoryID: "story-1", Input: "go", Window: 12,
	})
	require.NoError(t, err)
	assert.Equal(t, 12, store.window)

	_, err = engine.Execute(context.Background(), ExecuteRequest{
		UserID: "owner", StoryID: "story-1", Input: "go",
	})
	require.NoError(t, err)
	assert.Equal(t, 5, store.window)
}

func TestSuggest(t *testing.T) {
	store := &fakeStore{snapshot: testSnapshot(), settings: testSettings()}
	inv := &scriptedInvoker{obj: scriptReply(t, `{"suggestions": ["Search the shelves", "Rest by the fire."]}`)}
	engine := testEngine(store, inv)

	got, err := engine.Suggest(context.Background(), ExecuteRequest{
		UserID: "owner", StoryID: "story-1",
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"Search the shelves", "Rest by the fire"}, got)
	assert.Nil(t, store.persistedTurn)
}

func TestSuggestNotConfigured(t *testing.T) {
	store := &fakeStore{snapshot: testSnapshot(), settingsErr: story.ErrNotFound}
	engine := testEngine(store, &scriptedInvoker{})

	_, err := engine.Suggest(context.Background(), ExecuteRequest{UserID: "owner", StoryID: "story-1"})
	assert.ErrorIs(t, err, llm.ErrNotConfigured)
}
