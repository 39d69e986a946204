package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mediro-bff/internal/domain"
	"mediro-bff/internal/integrations/backend"
	"mediro-bff/internal/kvstore"
)

type mockChatAPI struct {
	calls int
	last  backend.ChatRequest
	reply string
	err   error
}

func (m *mockChatAPI) Chat(ctx context.Context, creds backend.Credentials, in backend.ChatRequest) (string, error) {
	m.calls++
	m.last = in
	if _, err := creds.AccessToken(ctx); err != nil {
		return "", err
	}
	return m.reply, m.err
}

func newTestView(features Features) *ChatView {
	return &ChatView{
		Conversation: NewConversation(DefaultPreviewLimit),
		Composer:     NewComposer(features, nil),
	}
}

func signedInAuth(t *testing.T) *AuthManager {
	t.Helper()
	m, store := newTestAuth(t, &mockAuthAPI{})
	require.NoError(t, store.Set(context.Background(), kvstore.KeyAccessToken, "tok123"))
	return m
}

func newTestChat(t *testing.T, api ChatAPI, features Features, opts ...ChatOption) *ChatService {
	t.Helper()
	s, err := NewChatService(api, features, opts...)
	require.NoError(t, err)
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return s
}

func TestSend_AppendsUserAndAssistant(t *testing.T) {
	api := &mockChatAPI{reply: "Try resting and hydrating."}
	s := newTestChat(t, api, AllFeatures())
	view := newTestView(AllFeatures())
	view.Composer.SetText("I have a headache")

	msg, err := s.Send(context.Background(), signedInAuth(t), view)
	require.NoError(t, err)
	require.Equal(t, domain.SenderAssistant, msg.Sender)
	require.Equal(t, "Try resting and hydrating.", msg.Text)
	require.Equal(t, "I have a headache", api.last.Message)

	msgs := view.Conversation.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, domain.SenderUser, msgs[0].Sender)
	require.Equal(t, "I have a headache", msgs[0].Text)
	require.Equal(t, domain.SenderAssistant, msgs[1].Sender)
	require.Equal(t, "Try resting and hydrating.", msgs[1].Text)
	require.NotEqual(t, msgs[0].ID, msgs[1].ID)
	require.Equal(t, int64(1700000000000), msgs[0].Timestamp)
	require.Empty(t, view.Composer.Text())
}

func TestSend_BackendFailureYieldsFallback(t *testing.T) {
	api := &mockChatAPI{err: &backend.HTTPStatusError{StatusCode: http.StatusInternalServerError}}
	s := newTestChat(t, api, AllFeatures())
	view := newTestView(AllFeatures())
	view.Composer.SetText("Hello")

	msg, err := s.Send(context.Background(), signedInAuth(t), view)
	require.NoError(t, err)
	require.Equal(t, DefaultFallbackReply, msg.Text)

	msgs := view.Conversation.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "Hello", msgs[0].Text)
	require.Equal(t, "⚠️ Sorry, something went wrong. Please try again.", msgs[1].Text)
}

func TestSend_CustomFallback(t *testing.T) {
	api := &mockChatAPI{err: errors.New("timeout")}
	s := newTestChat(t, api, AllFeatures(), WithFallbackReply("try later"), WithFallbackReply("  "))
	view := newTestView(AllFeatures())
	view.Composer.SetText("Hello")

	msg, err := s.Send(context.Background(), signedInAuth(t), view)
	require.NoError(t, err)
	require.Equal(t, "try later", msg.Text)
}

func TestSend_EmptyDraftRejected(t *testing.T) {
	api := &mockChatAPI{}
	s := newTestChat(t, api, AllFeatures())
	view := newTestView(AllFeatures())
	view.Composer.SetText("   ")

	_, err := s.Send(context.Background(), signedInAuth(t), view)
	expectCode(t, err, ErrorValidation, "empty_message")
	require.Zero(t, api.calls)
	require.Zero(t, view.Conversation.Len())
}

func TestSend_WithoutTokenAppendsNothing(t *testing.T) {
	api := &mockChatAPI{}
	s := newTestChat(t, api, AllFeatures())
	view := newTestView(AllFeatures())
	view.Composer.SetText("Hello")
	anon, _ := newTestAuth(t, &mockAuthAPI{})

	_, err := s.Send(context.Background(), anon, view)
	expectCode(t, err, ErrorNotAuthenticated, "missing_access_token")
	require.Zero(t, api.calls)
	require.Zero(t, view.Conversation.Len())
	require.Equal(t, "Hello", view.Composer.Text(), "draft is kept for the retry after sign-in")
}

func TestSend_LengthGrowsByTwoPerSend(t *testing.T) {
	api := &mockChatAPI{reply: "ok"}
	s := newTestChat(t, api, AllFeatures())
	view := newTestView(AllFeatures())
	auth := signedInAuth(t)

	for i := 1; i <= 3; i++ {
		view.Composer.SetText("ping")
		_, err := s.Send(context.Background(), auth, view)
		require.NoError(t, err)
		require.Equal(t, 2*i, view.Conversation.Len())
	}
}

func TestSend_ImageIsClearedAfterSend(t *testing.T) {
	api := &mockChatAPI{err: errors.New("boom")}
	s := newTestChat(t, api, AllFeatures())
	view := newTestView(AllFeatures())
	require.NoError(t, view.Composer.Attach(domain.Attachment{Filename: "rash.png", ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}))

	_, err := s.Send(context.Background(), signedInAuth(t), view)
	require.NoError(t, err)
	require.Nil(t, view.Composer.PendingImage(), "the image is released even when the call fails")
	require.Equal(t, ImagePlaceholder, api.last.Message)
	require.NotNil(t, api.last.Image)

	msgs := view.Conversation.Messages()
	require.Len(t, msgs, 2)
	require.NotNil(t, msgs[0].Image)
	require.Equal(t, "rash.png", msgs[0].Image.Filename)
}

func TestSend_ImageRequiresFeature(t *testing.T) {
	api := &mockChatAPI{}
	s := newTestChat(t, api, Features{Reset: true})
	view := newTestView(AllFeatures())
	require.NoError(t, view.Composer.Attach(domain.Attachment{Data: []byte("x")}))

	_, err := s.Send(context.Background(), signedInAuth(t), view)
	expectCode(t, err, ErrorFeatureDisabled, "image_attach_disabled")
	require.Zero(t, api.calls)
}

func TestSend_SessionExpiredStillAppendsFallback(t *testing.T) {
	expired := newError(ErrorRefreshFailed, "refresh_rejected", nil)
	api := &mockChatAPI{err: expired}
	s := newTestChat(t, api, AllFeatures())
	view := newTestView(AllFeatures())
	view.Composer.SetText("Hello")

	msg, err := s.Send(context.Background(), signedInAuth(t), view)
	require.Error(t, err)
	require.True(t, IsSessionExpired(err))
	require.Equal(t, DefaultFallbackReply, msg.Text)
	require.Equal(t, 2, view.Conversation.Len())
}

// The chat call is rejected once, the refresh succeeds and the replay
// carries the new token.
func TestSend_RefreshesAndReplaysThroughBackend(t *testing.T) {
	var chatAuth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat":
			chatAuth = append(chatAuth, r.Header.Get("Authorization"))
			if r.Header.Get("Authorization") != "Bearer tok456" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"message":"jwt expired"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"reply": "Try resting and hydrating."})
		case "/auth/refresh":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["refreshToken"] != "ref1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"data":{"accessToken":"tok456"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := backend.NewClient(srv.URL)
	require.NoError(t, err)

	store := kvstore.NewMemory().ForSession("s1")
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, kvstore.KeyAccessToken, "tok123"))
	require.NoError(t, store.Set(ctx, kvstore.KeyRefreshToken, "ref1"))
	auth, err := NewAuthManager(client, store)
	require.NoError(t, err)

	s := newTestChat(t, client, AllFeatures())
	view := newTestView(AllFeatures())
	view.Composer.SetText("I have a headache")

	msg, err := s.Send(ctx, auth, view)
	require.NoError(t, err)
	require.Equal(t, "Try resting and hydrating.", msg.Text)
	require.Equal(t, []string{"Bearer tok123", "Bearer tok456"}, chatAuth)

	tok, _, _ := store.Get(ctx, kvstore.KeyAccessToken)
	require.Equal(t, "tok456", tok)
	ref, _, _ := store.Get(ctx, kvstore.KeyRefreshToken)
	require.Equal(t, "ref1", ref)
}

func TestSend_RefreshRejectedThroughBackendEndsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := backend.NewClient(srv.URL)
	require.NoError(t, err)
	store := kvstore.NewMemory().ForSession("s1")
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, kvstore.KeyAccessToken, "tok123"))
	require.NoError(t, store.Set(ctx, kvstore.KeyRefreshToken, "ref1"))
	auth, err := NewAuthManager(client, store)
	require.NoError(t, err)

	s := newTestChat(t, client, AllFeatures())
	view := newTestView(AllFeatures())
	view.Composer.SetText("Hello")

	msg, err := s.Send(ctx, auth, view)
	require.True(t, IsSessionExpired(err))
	require.Equal(t, DefaultFallbackReply, msg.Text)

	ok, err := auth.IsAuthenticated(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

type echoChatAPI struct{}

func (echoChatAPI) Chat(_ context.Context, _ backend.Credentials, in backend.ChatRequest) (string, error) {
	return "echo: " + in.Message, nil
}

func TestSendDraft_OverlappingSendsStayIndependent(t *testing.T) {
	s := newTestChat(t, echoChatAPI{}, AllFeatures())
	view := newTestView(AllFeatures())
	auth := signedInAuth(t)

	const n = 50
	var wg sync.WaitGroup
	replies := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg, err := s.SendDraft(context.Background(), auth, view, Draft{Text: fmt.Sprintf("m-%d", i)})
			replies[i], errs[i] = msg.Text, err
		}(i)
	}
	wg.Wait()

	sent := make(map[string]bool)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, fmt.Sprintf("echo: m-%d", i), replies[i])
	}
	for _, m := range view.Conversation.Messages() {
		if m.Sender == domain.SenderUser {
			sent[m.Text] = true
		}
	}
	require.Len(t, sent, n)
	require.Equal(t, 2*n, view.Conversation.Len())
	require.Empty(t, view.Composer.Text(), "request drafts never touch the composer")
}

func TestSendDraft_Validation(t *testing.T) {
	api := &mockChatAPI{}
	s := newTestChat(t, api, AllFeatures())
	view := newTestView(AllFeatures())

	_, err := s.SendDraft(context.Background(), signedInAuth(t), view, Draft{Image: &domain.Attachment{}})
	expectCode(t, err, ErrorValidation, "empty_image")
	_, err = s.SendDraft(context.Background(), signedInAuth(t), view, Draft{Text: "  "})
	expectCode(t, err, ErrorValidation, "empty_message")
	require.Zero(t, api.calls)
	require.Zero(t, view.Conversation.Len())
}

func TestReset(t *testing.T) {
	api := &mockChatAPI{reply: "ok"}
	s := newTestChat(t, api, AllFeatures())
	view := newTestView(AllFeatures())
	view.Composer.SetText("Hello")
	_, err := s.Send(context.Background(), signedInAuth(t), view)
	require.NoError(t, err)

	require.NoError(t, s.Reset(view))
	require.Zero(t, view.Conversation.Len())

	noReset := newTestChat(t, api, Features{ImageAttach: true})
	expectCode(t, noReset.Reset(view), ErrorFeatureDisabled, "reset_disabled")
}

func TestViewCache(t *testing.T) {
	cache, err := NewViewCache(2, func() *ChatView { return newTestView(AllFeatures()) })
	require.NoError(t, err)

	a := cache.Get("a")
	require.Same(t, a, cache.Get("a"))
	cache.Get("b")
	cache.Get("c")
	require.Equal(t, 2, cache.Len())
	require.NotSame(t, a, cache.Get("a"), "evicted views are recreated empty")

	cache.Drop("a")
	require.Equal(t, 1, cache.Len())

	_, err = NewViewCache(0, func() *ChatView { return nil })
	require.Error(t, err)
	_, err = NewViewCache(1, nil)
	require.Error(t, err)
}

func TestParseFeatures(t *testing.T) {
	require.Equal(t, AllFeatures(), ParseFeatures([]string{"image", " Voice ", "reset", "bogus"}))
	require.Equal(t, Features{}, ParseFeatures(nil))
	require.True(t, ParseFeatures(strings.Split("reset", ",")).Reset)
}
