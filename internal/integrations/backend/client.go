package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"mediro-bff/internal/domain"
)

const defaultTimeout = 10 * time.Second

// Credentials supplies the bearer token for authorized calls. Refresh is
// called at most once per request, after the backend answered 401.
type Credentials interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Identifier is the OTP target. Exactly one of Email or Phone is set.
type Identifier struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// ChatRequest is one user turn sent to the chat endpoint.
type ChatRequest struct {
	Message string
	Image   *domain.Attachment
}

// RegisterRequest is the body of /auth/register.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Phone       string `json:"phone,omitempty"`
	DateOfBirth string `json:"dateOfBirth,omitempty"`
	Gender      string `json:"gender,omitempty"`
}

// AuthResult is what password login and registration return.
type AuthResult struct {
	User   domain.User
	Tokens domain.Tokens
}

type verifyOTPRequest struct {
	Identifier
	OTP string `json:"otp"`
}

type verifyOTPResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

type authEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		User         domain.User `json:"user"`
		AccessToken  string      `json:"accessToken"`
		RefreshToken string      `json:"refreshToken"`
	} `json:"data"`
	Message string `json:"message"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Data struct {
		AccessToken string `json:"accessToken"`
	} `json:"data"`
}

type chatJSONRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply *string `json:"reply"`
}

type profileResponse struct {
	Data domain.User `json:"data"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type errorBody struct {
	Message string `json:"message"`
}

// HTTPStatusError captures non-2xx responses. Message is the backend's
// {"message"} field when present.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Message    string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Message)
	}
	return fmt.Sprintf("backend: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to the chat/auth REST backend.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// Concurrent 401s carrying the same refresh token share one /auth/refresh call.
	refreshFlight singleflight.Group
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("backend: base URL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the backend root, used to build browser redirects.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

func (c *Client) requestTimeout() time.Duration {
	if t := c.resolvedHTTPClient().Timeout; t > 0 {
		return t
	}
	return defaultTimeout
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

// SendOTP asks the backend to deliver a one-time code to the identifier.
func (c *Client) SendOTP(ctx context.Context, id Identifier) error {
	url := c.url("/auth/send-otp")
	if _, err := c.postJSON(ctx, url, id); err != nil {
		return fmt.Errorf("backend: send otp: %w", err)
	}
	return nil
}

// VerifyOTP exchanges a code for tokens. A 2xx without a token is a failure.
func (c *Client) VerifyOTP(ctx context.Context, id Identifier, code string) (domain.Tokens, error) {
	url := c.url("/auth/verify-otp")
	raw, err := c.postJSON(ctx, url, verifyOTPRequest{Identifier: id, OTP: code})
	if err != nil {
		return domain.Tokens{}, fmt.Errorf("backend: verify otp: %w", err)
	}
	var payload verifyOTPResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.Tokens{}, fmt.Errorf("backend: decode verify otp response: %w", err)
	}
	if payload.Token == "" {
		return domain.Tokens{}, errors.New("backend: verify otp response has no token")
	}
	return domain.Tokens{AccessToken: payload.Token, RefreshToken: payload.RefreshToken}, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (AuthResult, error) {
	body := map[string]string{"email": email, "password": password}
	return c.authenticate(ctx, "/auth/login", body)
}

func (c *Client) Register(ctx context.Context, in RegisterRequest) (AuthResult, error) {
	return c.authenticate(ctx, "/auth/register", in)
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (AuthResult, error) {
	url := c.url(path)
	raw, err := c.postJSON(ctx, url, body)
	if err != nil {
		return AuthResult{}, fmt.Errorf("backend: %s: %w", path, err)
	}
	var payload authEnvelope
	if err := json.Unmarshal(raw, &payload); err != nil {
		return AuthResult{}, fmt.Errorf("backend: decode %s response: %w", path, err)
	}
	if payload.Data.AccessToken == "" {
		return AuthResult{}, fmt.Errorf("backend: %s response has no access token", path)
	}
	return AuthResult{
		User: payload.Data.User,
		Tokens: domain.Tokens{
			AccessToken:  payload.Data.AccessToken,
			RefreshToken: payload.Data.RefreshToken,
		},
	}, nil
}

// RefreshToken trades a refresh token for a new access token. The refresh
// token itself is not rotated.
//
// Concurrent callers with the same refresh token share one request. The
// shared request is detached from every caller's context and bounded by the
// client timeout; each caller stops waiting when its own ctx is done.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	ch := c.refreshFlight.DoChan(refreshToken, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.requestTimeout())
		defer cancel()
		return c.refresh(flightCtx, refreshToken)
	})
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("backend: refresh: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (string, error) {
	url := c.url("/auth/refresh")
	raw, err := c.postJSON(ctx, url, refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", fmt.Errorf("backend: refresh: %w", err)
	}
	var payload refreshResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("backend: decode refresh response: %w", err)
	}
	if payload.Data.AccessToken == "" {
		return "", errors.New("backend: refresh response has no access token")
	}
	return payload.Data.AccessToken, nil
}

// Logout notifies the backend. Callers treat failures as best-effort.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	url := c.url("/auth/logout")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("backend: create logout request: %w", err)
	}
	if accessToken != "" {
		setBearer(req, accessToken)
	}
	if _, err := c.doRequest(req, url); err != nil {
		return fmt.Errorf("backend: logout: %w", err)
	}
	return nil
}

// Chat sends one user message and returns the reply text. With an image the
// body is multipart form data, otherwise JSON.
func (c *Client) Chat(ctx context.Context, creds Credentials, in ChatRequest) (string, error) {
	url := c.url("/chat")
	build := func() (*http.Request, error) {
		if in.Image != nil {
			return newMultipartChatRequest(ctx, url, in)
		}
		return newJSONRequest(ctx, http.MethodPost, url, chatJSONRequest{Message: in.Message})
	}

	raw, err := c.doAuthorized(ctx, creds, url, build)
	if err != nil {
		return "", fmt.Errorf("backend: chat: %w", err)
	}
	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("backend: decode chat response: %w", err)
	}
	if payload.Reply == nil {
		return "", errors.New("backend: chat response has no reply")
	}
	return *payload.Reply, nil
}

func (c *Client) GetProfile(ctx context.Context, creds Credentials) (domain.User, error) {
	url := c.url("/auth/profile")
	raw, err := c.doAuthorized(ctx, creds, url, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("backend: get profile: %w", err)
	}
	var payload profileResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.User{}, fmt.Errorf("backend: decode profile response: %w", err)
	}
	return payload.Data, nil
}

func (c *Client) UpdateProfile(ctx context.Context, creds Credentials, p domain.Profile) error {
	url := c.url("/auth/profile")
	_, err := c.doAuthorized(ctx, creds, url, func() (*http.Request, error) {
		return newJSONRequest(ctx, http.MethodPut, url, p)
	})
	if err != nil {
		return fmt.Errorf("backend: update profile: %w", err)
	}
	return nil
}

func (c *Client) ChangePassword(ctx context.Context, creds Credentials, current, next string) error {
	url := c.url("/auth/change-password")
	_, err := c.doAuthorized(ctx, creds, url, func() (*http.Request, error) {
		return newJSONRequest(ctx, http.MethodPut, url, changePasswordRequest{CurrentPassword: current, NewPassword: next})
	})
	if err != nil {
		return fmt.Errorf("backend: change password: %w", err)
	}
	return nil
}

// Health reports whether the backend answers its health check.
func (c *Client) Health(ctx context.Context) error {
	url := c.url("/health")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("backend: create health request: %w", err)
	}
	if _, err := c.doRequest(req, url); err != nil {
		return fmt.Errorf("backend: health: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, url string, body any) ([]byte, error) {
	req, err := newJSONRequest(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	return c.doRequest(req, url)
}

// doAuthorized attaches the current access token and, when the backend
// answers 401, refreshes once and replays the request. build is invoked per
// attempt because request bodies cannot be re-read.
func (c *Client) doAuthorized(ctx context.Context, creds Credentials, url string, build func() (*http.Request, error)) ([]byte, error) {
	if creds == nil {
		return nil, errors.New("credentials must not be nil")
	}
	token, err := creds.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	retried := false
	for {
		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		setBearer(req, token)

		raw, err := c.doRequest(req, url)
		var statusErr *HTTPStatusError
		if err == nil || retried || !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
			return raw, err
		}

		retried = true
		token, err = creds.Refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("refresh after 401: %w", err)
		}
	}
}

func (c *Client) doRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		var eb errorBody
		_ = json.Unmarshal(buf, &eb)
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Message:    eb.Message,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func setBearer(req *http.Request, token string) {
	(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
}

func newJSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func newMultipartChatRequest(ctx context.Context, url string, in ChatRequest) (*http.Request, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("message", in.Message); err != nil {
		return nil, fmt.Errorf("write message field: %w", err)
	}

	filename := in.Image.Filename
	if filename == "" {
		filename = "image"
	}
	contentType := in.Image.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(in.Image.Data); err != nil {
		return nil, fmt.Errorf("write image part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}
