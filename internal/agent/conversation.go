package agent

import (
	"slices"

	"github.com/chris/wattwise/internal/llm"
)

// Conversation is the message log threaded through one Run. Entries are only
// ever appended.
type Conversation struct {
	msgs []llm.Message
}

// NewConversation seeds a conversation with the system prompt followed by
// the caller's history. A blank system prompt is omitted.
func NewConversation(system string, history []llm.Message) *Conversation {
	c := &Conversation{msgs: make([]llm.Message, 0, len(history)+1)}
	if system != "" {
		c.msgs = append(c.msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	c.msgs = append(c.msgs, history...)
	return c
}

// Append adds messages to the end of the log.
func (c *Conversation) Append(msgs ...llm.Message) {
	c.msgs = append(c.msgs, msgs...)
}

// Messages returns a copy of the log, safe to hand to a provider.
func (c *Conversation) Messages() []llm.Message {
	return slices.Clone(c.msgs)
}

// Len is the number of messages, system prompt included.
func (c *Conversation) Len() int { return len(c.msgs) }
