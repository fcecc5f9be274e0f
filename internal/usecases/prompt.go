package usecases

import (
	"commercebot/internal/entities"
	"fmt"
	"strings"
)

const retrievalPreamble = "Please use the following information for answering.\n"

type PromptInput struct {
	SystemBase    string
	Language      string
	Snippets      []string
	History       []entities.Message
	ReasoningOnly bool
}

// Prompt is what a provider receives: an optional system turn and the
// ordered messages.
type Prompt struct {
	System   string
	Messages []entities.Message
}

func systemPrompt(base, language string) string {
	return strings.TrimSpace(fmt.Sprintf("%s You must respond in %s language only.", strings.TrimSpace(base), language))
}

func retrievalTurn(snippets []string) (entities.Message, bool) {
	if len(snippets) == 0 {
		return entities.Message{}, false
	}
	return entities.Message{
		Role:    entities.RoleUser,
		Content: retrievalPreamble + strings.Join(snippets, "\n"),
	}, true
}

// BuildPrompt assembles system prompt, retrieved context and history.
// Reasoning-only models take no system role: system and context become the
// leading user turn and same-role runs are merged.
func BuildPrompt(in PromptInput) Prompt {
	system := systemPrompt(in.SystemBase, in.Language)
	history := make([]entities.Message, 0, len(in.History))
	for _, m := range in.History {
		history = append(history, entities.Message{Role: m.Role, Content: m.Content})
	}

	if !in.ReasoningOnly {
		msgs := make([]entities.Message, 0, len(history)+1)
		if turn, ok := retrievalTurn(in.Snippets); ok {
			msgs = append(msgs, turn)
		}
		return Prompt{System: system, Messages: append(msgs, history...)}
	}

	lead := system
	if turn, ok := retrievalTurn(in.Snippets); ok {
		lead += "\n" + turn.Content
	}
	msgs := make([]entities.Message, 0, len(history)+1)
	msgs = append(msgs, entities.Message{Role: entities.RoleUser, Content: lead})
	msgs = append(msgs, history...)
	return Prompt{Messages: MergeConsecutiveRoles(msgs)}
}

// MergeConsecutiveRoles joins runs of same-role turns with a newline.
func MergeConsecutiveRoles(msgs []entities.Message) []entities.Message {
	out := make([]entities.Message, 0, len(msgs))
	for _, m := range msgs {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n" + m.Content
			continue
		}
		out = append(out, entities.Message{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp})
	}
	return out
}
