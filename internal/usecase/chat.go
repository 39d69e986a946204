package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"mediro-bff/internal/domain"
	"mediro-bff/internal/integrations/backend"
)

const (
	DefaultFallbackReply = "⚠️ Sorry, something went wrong. Please try again."
	// ImagePlaceholder is sent as the message text when only an image is attached.
	ImagePlaceholder = "[image]"
)

type ChatAPI interface {
	Chat(ctx context.Context, creds backend.Credentials, in backend.ChatRequest) (string, error)
}

// ChatView is the state of one open chat widget.
type ChatView struct {
	Conversation *Conversation
	Composer     *Composer
}

type ChatService struct {
	api      ChatAPI
	features Features
	fallback string
	now      func() time.Time
}

type ChatOption func(*ChatService)

func WithFallbackReply(text string) ChatOption {
	return func(s *ChatService) {
		if strings.TrimSpace(text) != "" {
			s.fallback = text
		}
	}
}

func NewChatService(api ChatAPI, features Features, opts ...ChatOption) (*ChatService, error) {
	if api == nil {
		return nil, errors.New("usecase: chat api must not be nil")
	}
	s := &ChatService{
		api:      api,
		features: features,
		fallback: DefaultFallbackReply,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *ChatService) Features() Features {
	return s.features
}

// Draft is one message about to be sent.
type Draft struct {
	Text  string
	Image *domain.Attachment
}

// Send delivers the composer's draft. On acceptance the draft text is
// consumed and, once the call finished, the pending image released.
func (s *ChatService) Send(ctx context.Context, creds backend.Credentials, view *ChatView) (domain.Message, error) {
	if view == nil || view.Composer == nil {
		return domain.Message{}, newError(ErrorInternal, "chat_view_incomplete", nil)
	}
	text, img := view.Composer.snapshot()
	accepted := false
	msg, err := s.deliver(ctx, creds, view.Conversation, Draft{Text: text, Image: img}, func() {
		accepted = true
		view.Composer.consumeText(text)
	})
	if accepted {
		view.Composer.releaseImage(img)
	}
	return msg, err
}

// SendDraft delivers a draft carried by the request itself, leaving the
// view's composer untouched. Overlapping sends on one view stay independent.
func (s *ChatService) SendDraft(ctx context.Context, creds backend.Credentials, view *ChatView, d Draft) (domain.Message, error) {
	if view == nil {
		return domain.Message{}, newError(ErrorInternal, "chat_view_incomplete", nil)
	}
	return s.deliver(ctx, creds, view.Conversation, d, nil)
}

// deliver appends exactly one user and one assistant message once the draft
// passes validation and the session holds a token: a failed call yields the
// fallback reply. The returned error is non-nil only when nothing was
// appended, or when the session expired during the call (the fallback is
// still appended).
func (s *ChatService) deliver(ctx context.Context, creds backend.Credentials, conv *Conversation, d Draft, onAccepted func()) (domain.Message, error) {
	if creds == nil || conv == nil {
		return domain.Message{}, newError(ErrorInternal, "chat_view_incomplete", nil)
	}
	text := strings.TrimSpace(d.Text)
	img := d.Image
	if text == "" && img == nil {
		return domain.Message{}, newError(ErrorValidation, "empty_message", nil)
	}
	if img != nil {
		if !s.features.ImageAttach {
			return domain.Message{}, newError(ErrorFeatureDisabled, "image_attach_disabled", nil)
		}
		if len(img.Data) == 0 {
			return domain.Message{}, newError(ErrorValidation, "empty_image", nil)
		}
	}
	if text == "" {
		text = ImagePlaceholder
	}

	if _, err := creds.AccessToken(ctx); err != nil {
		if CodeOf(err) == ErrorNotAuthenticated {
			return domain.Message{}, err
		}
		return domain.Message{}, newError(ErrorInternal, "token_lookup_error", err)
	}

	conv.Append(domain.Message{
		ID:        newUUID(),
		Sender:    domain.SenderUser,
		Text:      text,
		Image:     img,
		Timestamp: s.now().UnixMilli(),
	})
	if onAccepted != nil {
		onAccepted()
	}

	reply, err := s.api.Chat(ctx, creds, backend.ChatRequest{Message: text, Image: img})
	if err != nil {
		slog.WarnContext(ctx, "chat send failed", "err", err)
		reply = s.fallback
	}
	msg := domain.Message{
		ID:        newUUID(),
		Sender:    domain.SenderAssistant,
		Text:      reply,
		Timestamp: s.now().UnixMilli(),
	}
	conv.Append(msg)

	if err != nil && IsSessionExpired(err) {
		return msg, err
	}
	return msg, nil
}

// Reset clears the conversation if the widget allows it.
func (s *ChatService) Reset(view *ChatView) error {
	if !s.features.Reset {
		return newError(ErrorFeatureDisabled, "reset_disabled", nil)
	}
	view.Conversation.Reset()
	return nil
}

// ViewCache keeps the chat views of recently active sessions. An evicted
// view is simply gone; a new empty one is created on next access.
type ViewCache struct {
	mu      sync.Mutex
	cache   *lru.Cache[string, *ChatView]
	newView func() *ChatView
}

func NewViewCache(size int, newView func() *ChatView) (*ViewCache, error) {
	if newView == nil {
		return nil, errors.New("usecase: view constructor must not be nil")
	}
	cache, err := lru.New[string, *ChatView](size)
	if err != nil {
		return nil, err
	}
	return &ViewCache{cache: cache, newView: newView}, nil
}

// Get returns the view of a session, creating it on first use.
func (c *ViewCache) Get(sessionID string) *ChatView {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.cache.Get(sessionID); ok {
		return v
	}
	v := c.newView()
	c.cache.Add(sessionID, v)
	return v
}

// Drop forgets the view of a session.
func (c *ViewCache) Drop(sessionID string) {
	c.cache.Remove(sessionID)
}

func (c *ViewCache) Len() int {
	return c.cache.Len()
}

var newUUID = func() string {
	return uuid.NewString()
}
