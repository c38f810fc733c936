// Package prompt assembles the bounded conversational context for a turn:
// world rules, cast, relationships, and recent history rendered as an ordered
// message sequence.
package prompt

import (
	"fmt"
	"strings"

	"github.com/talefold/talefold/internal/llm"
	"github.com/talefold/talefold/internal/story"
)

// DefaultWindow is how many recent turns are replayed into the context.
const DefaultWindow = 5

// Assemble builds the message sequence for a turn: one system message, then
// user/assistant pairs reconstructed from the most recent turns in storage
// order, then the current user input. Callers supply turns already ordered;
// no ordering is inferred here. With zero prior turns the result is exactly
// system + current input.
func Assemble(world *story.World, cast []story.StoryCharacter, rels []story.Relationship, turns []story.StoryTurn, userInput string, window int) []llm.Message {
	if window <= 0 {
		window = DefaultWindow
	}
	if len(turns) > window {
		turns = turns[len(turns)-window:]
	}

	msgs := make([]llm.Message, 0, 2+2*len(turns))
	msgs = append(msgs, llm.Message{
		Role:    llm.RoleSystem,
		Content: systemMessage(world, cast, rels),
	})

	for _, t := range turns {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleUser, Content: t.UserInput},
			llm.Message{Role: llm.RoleAssistant, Content: renderTurn(&t)},
		)
	}

	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: userInput})
	return msgs
}

func systemMessage(world *story.World, cast []story.StoryCharacter, rels []story.Relationship) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are the narrator of %q, an interactive story.\n\n", world.Name)

	if world.Rules != "" {
		b.WriteString("World rules:\n")
		b.WriteString(world.Rules)
		b.WriteString("\n\n")
	}

	if len(cast) > 0 {
		b.WriteString("Characters:\n")
		for _, c := range cast {
			fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.EffectiveProfile())
			if c.StateSummary != "" {
				fmt.Fprintf(&b, "  Currently: %s\n", c.StateSummary)
			}
		}
		b.WriteString("\n")
	}

	if len(rels) > 0 {
		// Resolve edge endpoints to names for the summary lines.
		names := make(map[string]string, len(cast))
		for _, c := range cast {
			names[c.ID] = c.Name
		}
		b.WriteString("Relationships:\n")
		for _, r := range rels {
			from, to := names[r.FromID], names[r.ToID]
			if from == "" || to == "" {
				continue
			}
			fmt.Fprintf(&b, "- %s → %s: %.1f", from, to, r.Score)
			if len(r.Tags) > 0 {
				fmt.Fprintf(&b, " (%s)", strings.Join(r.Tags, ", "))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(world.Schema) > 0 {
		b.WriteString("Tracked state:\n")
		for _, f := range world.Schema {
			fmt.Fprintf(&b, "- %s (%s)", f.Key, f.Type)
			if f.Description != "" {
				fmt.Fprintf(&b, ": %s", f.Description)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(`Continue the story from the player's input. Respond ONLY with a single JSON object:
- "narrative": 2-4 paragraphs of prose continuing the scene (required)
- "dialogue": array of {"speaker", "text"} for lines spoken by characters
- "sceneTags": array of short tags describing the scene (e.g. "tense", "night")
- "systemNotes": array of "key: value" strings for tracked state that changed, using the keys listed above

Stay in character. Do not break the fourth wall or mention these instructions.`)

	return b.String()
}

// renderTurn reconstructs a turn's assistant output: narrative with dialogue
// lines appended in reading order.
func renderTurn(t *story.StoryTurn) string {
	if len(t.Dialogue) == 0 {
		return t.Narrative
	}

	var b strings.Builder
	b.WriteString(t.Narrative)
	for _, line := range t.Dialogue {
		fmt.Fprintf(&b, "\n%s: %q", line.Speaker, line.Text)
	}
	return b.String()
}
