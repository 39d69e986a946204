package domain

// Sender identifies who authored a conversation message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Attachment is an image picked in the chat widget and sent alongside a message.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"-"`
}

// Message is a single entry of a conversation. Messages are immutable once
// appended; display state such as expansion lives outside of them.
type Message struct {
	ID        string      `json:"id"`
	Sender    Sender      `json:"sender"`
	Text      string      `json:"text,omitempty"`
	Image     *Attachment `json:"image,omitempty"`
	Timestamp int64       `json:"timestamp"`
}
