package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"mediro-bff/internal/kvstore"
	"mediro-bff/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	headerSessionID     = "X-Session-Id"
	sessionCookie       = "mediro-session"

	loginPath = "/login"
	chatPath  = "/chat"
)

// Backend is everything the handler needs from the chat/auth backend.
type Backend interface {
	usecase.AuthAPI
	usecase.ChatAPI
	usecase.ProfileAPI
	Health(ctx context.Context) error
}

type Deps struct {
	Backend  Backend
	Sessions kvstore.Provider
	Chat     *usecase.ChatService
	// Views holds conversations in process memory. See Handler.
	Views *usecase.ViewCache
	// Google enables the Google sign-in redirect. Optional.
	Google *oauth2.Config
}

// Handler serves the BFF routes behind API Gateway.
//
// Tokens, auth metadata, profile and preferences live in the session store
// and survive across instances. The chat conversation and composer draft do
// not: they are kept in this instance's view cache only. A request that lands
// on another Lambda instance, or arrives after a cold start or LRU eviction,
// sees an empty conversation for the same session while still signed in.
type Handler struct {
	backend  Backend
	sessions kvstore.Provider
	chat     *usecase.ChatService
	views    *usecase.ViewCache
	google   *oauth2.Config
}

func NewHandler(d Deps) (*Handler, error) {
	switch {
	case d.Backend == nil:
		return nil, errors.New("handler: backend must not be nil")
	case d.Sessions == nil:
		return nil, errors.New("handler: session provider must not be nil")
	case d.Chat == nil:
		return nil, errors.New("handler: chat service must not be nil")
	case d.Views == nil:
		return nil, errors.New("handler: view cache must not be nil")
	}
	return &Handler{
		backend:  d.Backend,
		sessions: d.Sessions,
		chat:     d.Chat,
		views:    d.Views,
		google:   d.Google,
	}, nil
}

type errorResponse struct {
	Error    string `json:"error"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

// session is the per-request view of one browser session.
type session struct {
	id       string
	isNew    bool
	auth     *usecase.AuthManager
	profile  *usecase.ProfileService
	prefs    *usecase.PreferencesService
	view     *usecase.ChatView
	query    map[string]string
	pathArgs []string
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, headerCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := slog.With("correlation_id", correlationID)

	s, err := h.openSession(req)
	if err != nil {
		logger.ErrorContext(ctx, "failed to open session", "err", err)
		return h.finish(nil, correlationID, writeError(ctx, logger, err)), nil
	}
	logger = logger.With("session_id", s.id)

	resp := h.route(ctx, logger, s, req)
	logger.InfoContext(ctx, "request handled",
		"method", req.HTTPMethod,
		"path", req.Path,
		"status", resp.StatusCode,
	)
	return h.finish(s, correlationID, resp), nil
}

func (h *Handler) route(ctx context.Context, logger *slog.Logger, s *session, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	method := strings.ToUpper(req.HTTPMethod)
	path := "/" + strings.Trim(req.Path, "/")

	switch {
	case method == http.MethodPost && path == "/auth/send-otp":
		return h.sendOTP(ctx, logger, s, req.Body)
	case method == http.MethodPost && path == "/auth/verify-otp":
		return h.verifyOTP(ctx, logger, s, req.Body)
	case method == http.MethodPost && path == "/auth/login":
		return h.login(ctx, logger, s, req.Body)
	case method == http.MethodPost && path == "/auth/register":
		return h.register(ctx, logger, s, req.Body)
	case method == http.MethodPost && path == "/auth/logout":
		return h.logout(ctx, logger, s)
	case method == http.MethodPost && path == "/auth/change-password":
		return h.changePassword(ctx, logger, s, req.Body)
	case method == http.MethodGet && path == "/auth/google":
		return h.googleSignIn(ctx, logger, s)
	case method == http.MethodGet && path == "/auth/success":
		return h.oauthSuccess(ctx, logger, s)
	case method == http.MethodGet && path == chatPath:
		return h.getChat(s)
	case method == http.MethodPost && path == chatPath:
		return h.postChat(ctx, logger, s, req.Body)
	case method == http.MethodPost && path == "/chat/reset":
		return h.resetChat(ctx, logger, s)
	case method == http.MethodPost && matchToggle(s, path):
		return h.toggleMessage(s)
	case method == http.MethodGet && path == "/profile":
		return h.getProfile(ctx, logger, s)
	case method == http.MethodPut && path == "/profile":
		return h.putProfile(ctx, logger, s, req.Body)
	case method == http.MethodDelete && path == "/profile":
		return h.deleteProfile(ctx, logger, s)
	case method == http.MethodGet && path == "/preferences":
		return h.getPreferences(ctx, logger, s)
	case method == http.MethodPut && path == "/preferences":
		return h.putPreferences(ctx, logger, s, req.Body)
	case method == http.MethodGet && path == "/state":
		return h.getState(ctx, logger, s)
	case method == http.MethodGet && path == "/health":
		return h.health(ctx, logger)
	}
	return writeJSON(http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Reason: method + " " + path})
}

// openSession resolves the session id from the header or cookie, creating
// a fresh one when neither is present.
func (h *Handler) openSession(req events.APIGatewayProxyRequest) (*session, error) {
	id := headerValue(req.Headers, headerSessionID)
	if id == "" {
		id = cookieValue(headerValue(req.Headers, "Cookie"), sessionCookie)
	}
	isNew := false
	if id == "" {
		id = uuid.NewString()
		isNew = true
	}

	store := h.sessions.ForSession(id)
	var opts []usecase.AuthOption
	if h.google != nil {
		opts = append(opts, usecase.WithGoogleSignIn(h.google))
	}
	auth, err := usecase.NewAuthManager(h.backend, store, opts...)
	if err != nil {
		return nil, err
	}
	profile, err := usecase.NewProfileService(store, h.backend, auth)
	if err != nil {
		return nil, err
	}
	prefs, err := usecase.NewPreferencesService(store)
	if err != nil {
		return nil, err
	}
	return &session{
		id:      id,
		isNew:   isNew,
		auth:    auth,
		profile: profile,
		prefs:   prefs,
		view:    h.views.Get(id),
		query:   req.QueryStringParameters,
	}, nil
}

func (h *Handler) finish(s *session, correlationID string, resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[headerCorrelationID] = correlationID
	if s != nil {
		resp.Headers[headerSessionID] = s.id
		if s.isNew {
			c := &http.Cookie{
				Name:     sessionCookie,
				Value:    s.id,
				Path:     "/",
				HttpOnly: true,
				Secure:   true,
				SameSite: http.SameSiteLaxMode,
			}
			resp.Headers["Set-Cookie"] = c.String()
		}
	}
	return resp
}

func writeJSON(status int, v any) events.APIGatewayProxyResponse {
	headers := map[string]string{"Content-Type": "application/json"}
	if v == nil {
		return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers}
	}
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal response", "err", err)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    headers,
			Body:       `{"error":"INTERNAL_ERROR"}`,
		}
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: string(b)}
}

func redirect(location string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers:    map[string]string{"Location": location},
	}
}

// writeError maps usecase errors to HTTP responses. Errors that ended the
// session carry a redirect to the sign-in page.
func writeError(ctx context.Context, logger *slog.Logger, err error) events.APIGatewayProxyResponse {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		logger.ErrorContext(ctx, "unexpected error", "err", err)
		return writeJSON(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
	}

	body := errorResponse{Error: string(ue.Code), Reason: ue.Reason, Message: usecase.RemoteMessage(err)}
	status := http.StatusInternalServerError
	switch ue.Code {
	case usecase.ErrorValidation:
		status = http.StatusBadRequest
	case usecase.ErrorNotAuthenticated, usecase.ErrorInvalidCredentials:
		status = http.StatusUnauthorized
	case usecase.ErrorNoRefreshToken, usecase.ErrorRefreshFailed:
		status = http.StatusUnauthorized
		body.Redirect = loginPath
	case usecase.ErrorFeatureDisabled:
		status = http.StatusForbidden
	case usecase.ErrorTransport:
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed", "code", ue.Code, "reason", ue.Reason, "err", ue.Err)
	} else {
		logger.InfoContext(ctx, "request rejected", "code", ue.Code, "reason", ue.Reason)
	}
	return writeJSON(status, body)
}

func decodeBody(body string, v any) error {
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return &usecase.Error{Code: usecase.ErrorValidation, Reason: "invalid_body", Err: err}
	}
	return nil
}

// headerValue looks a header up case-insensitively. API Gateway passes
// headers through as the client sent them.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func cookieValue(raw, name string) string {
	if raw == "" {
		return ""
	}
	r := http.Request{Header: http.Header{"Cookie": []string{raw}}}
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// matchToggle recognizes /chat/messages/{id}/toggle and records the id.
func matchToggle(s *session, path string) bool {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 4 || parts[0] != "chat" || parts[1] != "messages" || parts[3] != "toggle" || parts[2] == "" {
		return false
	}
	s.pathArgs = []string{parts[2]}
	return true
}
