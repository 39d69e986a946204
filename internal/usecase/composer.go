package usecase

import (
	"context"
	"strings"
	"sync"

	"mediro-bff/internal/domain"
)

// Features lists the optional capabilities of the chat widget.
type Features struct {
	ImageAttach bool `json:"imageAttach"`
	Voice       bool `json:"voice"`
	Reset       bool `json:"reset"`
}

// AllFeatures enables everything.
func AllFeatures() Features {
	return Features{ImageAttach: true, Voice: true, Reset: true}
}

// ParseFeatures builds Features from names such as "image", "voice", "reset".
// Unknown names are ignored.
func ParseFeatures(names []string) Features {
	var f Features
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "image":
			f.ImageAttach = true
		case "voice":
			f.Voice = true
		case "reset":
			f.Reset = true
		}
	}
	return f
}

// Recognizer is an optional speech-to-text capability. Transcripts are
// delivered through the callback passed to Start.
type Recognizer interface {
	Start(ctx context.Context, onTranscript func(transcript string)) error
	Stop() error
}

// Composer holds what the user is about to send: draft text and at most one
// pending image.
type Composer struct {
	mu         sync.Mutex
	text       string
	image      *domain.Attachment
	features   Features
	recognizer Recognizer
	dictating  bool
}

// NewComposer creates a composer. recognizer may be nil.
func NewComposer(features Features, recognizer Recognizer) *Composer {
	return &Composer{features: features, recognizer: recognizer}
}

func (c *Composer) SetText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
}

func (c *Composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// Attach sets the pending image, replacing any previous one.
func (c *Composer) Attach(img domain.Attachment) error {
	if !c.features.ImageAttach {
		return newError(ErrorFeatureDisabled, "image_attach_disabled", nil)
	}
	if len(img.Data) == 0 {
		return newError(ErrorValidation, "empty_image", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.image = &img
	return nil
}

func (c *Composer) PendingImage() *domain.Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.image
}

func (c *Composer) ClearImage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.image = nil
}

// AppendTranscript adds recognized speech to the draft, separated by a space.
func (c *Composer) AppendTranscript(transcript string) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.text == "" {
		c.text = transcript
		return
	}
	c.text += " " + transcript
}

// DictationAvailable reports whether voice input can be started. A missing
// recognizer is a normal configuration, not an error.
func (c *Composer) DictationAvailable() bool {
	return c.features.Voice && c.recognizer != nil
}

// StartDictation starts the recognizer if available. It returns false when
// dictation is unavailable.
func (c *Composer) StartDictation(ctx context.Context) (bool, error) {
	if !c.DictationAvailable() {
		return false, nil
	}
	c.mu.Lock()
	if c.dictating {
		c.mu.Unlock()
		return true, nil
	}
	c.dictating = true
	c.mu.Unlock()

	if err := c.recognizer.Start(ctx, c.AppendTranscript); err != nil {
		c.mu.Lock()
		c.dictating = false
		c.mu.Unlock()
		return false, newError(ErrorInternal, "dictation_start_error", err)
	}
	return true, nil
}

func (c *Composer) StopDictation() error {
	c.mu.Lock()
	if !c.dictating {
		c.mu.Unlock()
		return nil
	}
	c.dictating = false
	c.mu.Unlock()
	if err := c.recognizer.Stop(); err != nil {
		return newError(ErrorInternal, "dictation_stop_error", err)
	}
	return nil
}

// snapshot returns the draft as it is about to be sent.
func (c *Composer) snapshot() (string, *domain.Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text, c.image
}

// consumeText clears the draft text if it still equals sent.
func (c *Composer) consumeText(sent string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.text == sent {
		c.text = ""
	}
}

// releaseImage clears the pending image if it is still the one that was sent.
func (c *Composer) releaseImage(sent *domain.Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sent != nil && c.image == sent {
		c.image = nil
	}
}
