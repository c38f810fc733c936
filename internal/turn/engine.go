// Package turn sequences the full turn execution pipeline: context assembly,
// narrative generation, delta extraction, and transactional persistence.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talefold/talefold/internal/agent"
	"github.com/talefold/talefold/internal/delta"
	"github.com/talefold/talefold/internal/llm"
	"github.com/talefold/talefold/internal/prompt"
	"github.com/talefold/talefold/internal/story"
)

// Phase names the pipeline stages. A turn moves Assembling → Generating →
// Extracting → Persisting → Complete; Failed is terminal from any of the
// first three.
type Phase string

const (
	PhaseAssembling Phase = "assembling"
	PhaseGenerating Phase = "generating"
	PhaseExtracting Phase = "extracting"
	PhasePersisting Phase = "persisting"
)

// ErrEmptyInput rejects a turn whose user input is blank after trimming.
var ErrEmptyInput = errors.New("user input is empty")

// Error wraps a pipeline failure with the phase it occurred in.
type Error struct {
	Phase Phase
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Phase, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// PersistError reports which write step failed during the persistence phase,
// so callers can tell whether a partial write occurred. Steps, in write
// order: "turn", "state", "log", "marker".
type PersistError struct {
	Step string
	Err  error
}

func (e *PersistError) Error() string { return fmt.Sprintf("persist %s: %v", e.Step, e.Err) }
func (e *PersistError) Unwrap() error { return e.Err }

// Snapshot is everything the pipeline reads about a story, loaded in one
// store call before any provider work begins.
type Snapshot struct {
	Story         story.Story
	World         story.World
	Cast          []story.StoryCharacter
	Relationships []story.Relationship
	Turns         []story.StoryTurn // Most recent turns, storage order
	State         map[string]any    // Stored state rows, keyed by schema key
	NextSeq       int
}

// Store is the narrow persistence boundary the pipeline depends on. The
// sqlite implementation lives in internal/store.
type Store interface {
	// LoadSnapshot reads the story, its world and schema, cast,
	// relationships, the last window turns, and current state rows,
	// enforcing owner scope. Returns story.ErrNotFound when the story does
	// not exist or belongs to someone else.
	LoadSnapshot(ctx context.Context, ownerID, storyID string, window int) (*Snapshot, error)

	// ProviderSettings resolves the owner's AI provider configuration.
	// Returns story.ErrNotFound when none is configured.
	ProviderSettings(ctx context.Context, ownerID string) (*story.ProviderSettings, error)

	// PersistTurn writes the turn row, state upserts, change-log rows, and
	// the story's last-modified marker in that fixed order, atomically
	// where the store allows. Failures are reported as *PersistError.
	PersistTurn(ctx context.Context, turn *story.StoryTurn, state []story.StateValue, log []story.ChangeLogEntry) error
}

// ExecuteRequest is the caller-facing input for one turn.
type ExecuteRequest struct {
	UserID  string
	StoryID string
	Input   string

	// Optional overrides; zero values use the owner's provider defaults.
	Model       string
	Params      llm.GenParams
	Window      int
	MaxAttempts int
}

// Result is the outcome of a completed turn: the appended turn plus the
// state changes that were applied and any non-fatal schema warnings.
type Result struct {
	Turn     story.StoryTurn `json:"turn"`
	Changes  []delta.Change  `json:"changes"`
	Warnings []delta.Warning `json:"warnings,omitempty"`
}

// Engine executes turns. It does not serialize concurrent turns for the same
// story; callers must submit per-story turns one at a time (two interleaved
// persistence phases are last-write-wins on state rows).
type Engine struct {
	Store     Store
	Narrator  *agent.Narrator
	Suggester *agent.Suggester

	// Now is the clock, overridable in tests. Defaults to time.Now.
	Now func() time.Time
}

// Execute runs one turn end to end. Before the persistence phase begins no
// state is changed, so cancellation up to that point is safe to abandon.
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest) (*Result, error) {
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	// ── Assembling ────────────────────────────────────────────────────
	settings, err := e.Store.ProviderSettings(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, story.ErrNotFound) {
			return nil, llm.ErrNotConfigured
		}
		return nil, &Error{Phase: PhaseAssembling, Err: err}
	}

	snap, err := e.Store.LoadSnapshot(ctx, req.UserID, req.StoryID, e.window(req.Window))
	if err != nil {
		return nil, &Error{Phase: PhaseAssembling, Err: err}
	}

	msgs := prompt.Assemble(&snap.World, snap.Cast, snap.Relationships, snap.Turns, input, e.window(req.Window))

	model := req.Model
	if model == "" {
		model = settings.DefaultModel
	}
	params := mergeParams(req.Params, settings)

	slog.Info("turn assembling complete",
		"story", req.StoryID,
		"history_turns", len(snap.Turns),
		"cast", len(snap.Cast),
	)

	// ── Generating ────────────────────────────────────────────────────
	out, err := e.Narrator.Generate(ctx, settings.Credential, model, msgs, params)
	if err != nil {
		return nil, &Error{Phase: PhaseGenerating, Err: err}
	}

	// ── Extracting ────────────────────────────────────────────────────
	proposals := delta.ParseNotes(out.SystemNotes, agent.SourceNarrator)
	computed := delta.Compute(snap.World.Schema, snap.State, proposals)
	for _, w := range computed.Warnings {
		slog.Warn("state proposal rejected", "story", req.StoryID, "key", w.Key, "reason", w.Reason)
	}

	// ── Persisting ────────────────────────────────────────────────────
	now := e.now()
	turnRow := story.StoryTurn{
		ID:          uuid.NewString(),
		StoryID:     snap.Story.ID,
		Seq:         snap.NextSeq,
		UserInput:   input,
		Narrative:   out.Narrative,
		Dialogue:    out.Dialogue,
		SceneTags:   out.SceneTags,
		SystemNotes: out.SystemNotes,
		CreatedAt:   now,
	}

	stateRows := make([]story.StateValue, 0, len(computed.Changes))
	logRows := make([]story.ChangeLogEntry, 0, len(computed.Changes))
	for _, ch := range computed.Changes {
		stateRows = append(stateRows, story.StateValue{
			StoryID: snap.Story.ID,
			Key:     ch.Key,
			Value:   ch.New,
		})
		logRows = append(logRows, story.ChangeLogEntry{
			ID:        uuid.NewString(),
			TurnID:    turnRow.ID,
			StoryID:   snap.Story.ID,
			Key:       ch.Key,
			Previous:  ch.Previous,
			New:       ch.New,
			Source:    ch.Source,
			CreatedAt: now,
		})
	}

	if err := e.Store.PersistTurn(ctx, &turnRow, stateRows, logRows); err != nil {
		return nil, &Error{Phase: PhasePersisting, Err: err}
	}

	slog.Info("turn complete",
		"story", req.StoryID,
		"turn", turnRow.ID,
		"seq", turnRow.Seq,
		"changes", len(computed.Changes),
	)

	return &Result{
		Turn:     turnRow,
		Changes:  computed.Changes,
		Warnings: computed.Warnings,
	}, nil
}

// Suggest generates candidate next-actions from the same assembled context a
// turn would use. Nothing is persisted; safe to run concurrently with other
// stories' turns.
func (e *Engine) Suggest(ctx context.Context, req ExecuteRequest) ([]string, error) {
	settings, err := e.Store.ProviderSettings(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, story.ErrNotFound) {
			return nil, llm.ErrNotConfigured
		}
		return nil, err
	}

	snap, err := e.Store.LoadSnapshot(ctx, req.UserID, req.StoryID, e.window(req.Window))
	if err != nil {
		return nil, err
	}

	input := strings.TrimSpace(req.Input)
	if input == "" {
		input = "What happens next?"
	}
	msgs := prompt.Assemble(&snap.World, snap.Cast, snap.Relationships, snap.Turns, input, e.window(req.Window))

	model := req.Model
	if model == "" {
		model = settings.DefaultModel
	}

	return e.Suggester.Suggest(ctx, settings.Credential, model, msgs, req.Params)
}

func (e *Engine) window(override int) int {
	if override > 0 {
		return override
	}
	return prompt.DefaultWindow
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

// mergeParams fills request overrides from the owner's stored defaults.
// Anything still zero is left for the adapter's built-in defaults.
func mergeParams(p llm.GenParams, s *story.ProviderSettings) llm.GenParams {
	if p.Temperature == 0 {
		p.Temperature = s.Temperature
	}
	if p.TopP == 0 {
		p.TopP = s.TopP
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = s.MaxTokens
	}
	return p
}
