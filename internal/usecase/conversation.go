package usecase

import (
	"sync"

	"mediro-bff/internal/domain"
)

const (
	DefaultPreviewLimit = 600
	previewEllipsis     = "..."
)

// DisplayMessage is a message as the chat widget renders it.
type DisplayMessage struct {
	domain.Message
	DisplayText string `json:"displayText"`
	Truncated   bool   `json:"truncated"`
	Expanded    bool   `json:"expanded"`
	// Expandable is true when the message has a "show more" toggle.
	Expandable bool `json:"expandable"`
}

// Conversation is the ordered message log of one chat view plus the
// per-message expansion flags. Messages are kept in insertion order, which
// is not necessarily timestamp order.
type Conversation struct {
	mu           sync.RWMutex
	messages     []domain.Message
	index        map[string]int
	expanded     map[string]bool
	previewLimit int
}

// NewConversation creates an empty conversation. previewLimit is the number
// of characters shown before a long assistant reply is collapsed.
func NewConversation(previewLimit int) *Conversation {
	if previewLimit <= 0 {
		previewLimit = DefaultPreviewLimit
	}
	return &Conversation{
		index:        make(map[string]int),
		expanded:     make(map[string]bool),
		previewLimit: previewLimit,
	}
}

func (c *Conversation) Append(msg domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index[msg.ID] = len(c.messages)
	c.messages = append(c.messages, msg)
}

// Reset drops every message and every expansion flag in one step.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.index = make(map[string]int)
	c.expanded = make(map[string]bool)
}

// ToggleExpanded flips the expansion flag of a message and returns the new
// value. Unknown ids are ignored.
func (c *Conversation) ToggleExpanded(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.index[id]; !ok {
		return false
	}
	c.expanded[id] = !c.expanded[id]
	return c.expanded[id]
}

func (c *Conversation) IsExpanded(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expanded[id]
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Messages returns a copy of the log.
func (c *Conversation) Messages() []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Render returns the log with display text applied.
func (c *Conversation) Render() []DisplayMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]DisplayMessage, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, preview(m, c.expanded[m.ID], c.previewLimit))
	}
	return out
}

// Lookup renders a single message.
func (c *Conversation) Lookup(id string) (DisplayMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[id]
	if !ok {
		return DisplayMessage{}, false
	}
	m := c.messages[i]
	return preview(m, c.expanded[m.ID], c.previewLimit), true
}

func preview(m domain.Message, expanded bool, limit int) DisplayMessage {
	d := DisplayMessage{Message: m, DisplayText: m.Text, Expanded: expanded}
	if m.Sender != domain.SenderAssistant {
		return d
	}
	runes := []rune(m.Text)
	if len(runes) <= limit {
		return d
	}
	d.Expandable = true
	if !expanded {
		d.DisplayText = string(runes[:limit]) + previewEllipsis
		d.Truncated = true
	}
	return d
}
