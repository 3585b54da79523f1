package conversation

import (
	"mindmate-be/pkg/llm"
)

// DefaultWindowSize is how many persisted messages are replayed to the model.
const DefaultWindowSize = 20

// Turn is one persisted message as the window builder sees it.
type Turn struct {
	Role    string
	Content string
}

// WindowBuilder assembles the prompt sent to the completion provider:
// the system instructions, the most recent history oldest-first, then the new message.
type WindowBuilder struct {
	systemPrompt string
	size         int
}

func NewWindowBuilder(systemPrompt string, size int) *WindowBuilder {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &WindowBuilder{systemPrompt: systemPrompt, size: size}
}

func (b *WindowBuilder) Size() int {
	return b.size
}

// Build never mutates history. Anything older than the last b.size turns is dropped.
func (b *WindowBuilder) Build(history []Turn, newMessage string) []llm.Message {
	recent := history
	if len(recent) > b.size {
		recent = recent[len(recent)-b.size:]
	}

	messages := make([]llm.Message, 0, len(recent)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: b.systemPrompt})
	for _, t := range recent {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: newMessage})
	return messages
}
