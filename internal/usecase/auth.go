package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"mediro-bff/internal/domain"
	"mediro-bff/internal/integrations/backend"
	"mediro-bff/internal/kvstore"
)

var (
	otpPattern   = regexp.MustCompile(`^[0-9]{6}$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()-]{5,19}$`)
)

// sessionKeys are cleared together on logout and on refresh failure.
var sessionKeys = []string{
	kvstore.KeyAccessToken,
	kvstore.KeyRefreshToken,
	kvstore.KeyAuth,
	kvstore.KeyOTPPending,
	kvstore.KeyOAuthState,
}

type AuthAPI interface {
	SendOTP(ctx context.Context, id backend.Identifier) error
	VerifyOTP(ctx context.Context, id backend.Identifier, code string) (domain.Tokens, error)
	Login(ctx context.Context, email, password string) (backend.AuthResult, error)
	Register(ctx context.Context, in backend.RegisterRequest) (backend.AuthResult, error)
	RefreshToken(ctx context.Context, refreshToken string) (string, error)
	Logout(ctx context.Context, accessToken string) error
	ChangePassword(ctx context.Context, creds backend.Credentials, current, next string) error
}

// AuthManager owns the tokens of one session. All state lives in the
// session's store, so a manager is cheap to build per request.
type AuthManager struct {
	api    AuthAPI
	store  kvstore.Store
	google *oauth2.Config
	now    func() time.Time
}

type AuthOption func(*AuthManager)

// WithGoogleSignIn enables the Google redirect flow. The config's AuthURL is
// the backend's /auth/google endpoint.
func WithGoogleSignIn(cfg *oauth2.Config) AuthOption {
	return func(m *AuthManager) {
		m.google = cfg
	}
}

func NewAuthManager(api AuthAPI, store kvstore.Store, opts ...AuthOption) (*AuthManager, error) {
	if api == nil {
		return nil, errors.New("usecase: auth api must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	m := &AuthManager{api: api, store: store, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// State derives the sign-in state from what is stored.
func (m *AuthManager) State(ctx context.Context) (domain.SessionState, error) {
	_, ok, err := m.store.Get(ctx, kvstore.KeyAccessToken)
	if err != nil {
		return "", newError(ErrorInternal, "store_read_error", err)
	}
	if ok {
		return domain.StateAuthenticated, nil
	}
	_, pending, err := m.store.Get(ctx, kvstore.KeyOTPPending)
	if err != nil {
		return "", newError(ErrorInternal, "store_read_error", err)
	}
	if pending {
		return domain.StateOTPPending, nil
	}
	return domain.StateAnonymous, nil
}

// IsAuthenticated reports whether an access token is stored.
func (m *AuthManager) IsAuthenticated(ctx context.Context) (bool, error) {
	tok, ok, err := m.store.Get(ctx, kvstore.KeyAccessToken)
	if err != nil {
		return false, newError(ErrorInternal, "store_read_error", err)
	}
	return ok && tok != "", nil
}

// SendOTP requests a code for an email or phone number. Starting over while
// a code is pending replaces the pending attempt.
func (m *AuthManager) SendOTP(ctx context.Context, identifier string) error {
	id, err := parseIdentifier(identifier)
	if err != nil {
		return err
	}
	if err := m.api.SendOTP(ctx, id); err != nil {
		return remoteAuthError("otp_send_rejected", "otp_send_error", err)
	}
	if err := m.store.Set(ctx, kvstore.KeyOTPPending, strings.TrimSpace(identifier)); err != nil {
		return newError(ErrorInternal, "store_write_error", err)
	}
	return nil
}

// VerifyOTP exchanges a 6 digit code for tokens. An empty identifier falls
// back to the one the pending code was sent to.
func (m *AuthManager) VerifyOTP(ctx context.Context, identifier, code string) error {
	code = strings.TrimSpace(code)
	if !otpPattern.MatchString(code) {
		return newError(ErrorValidation, "invalid_otp", nil)
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		pending, ok, err := m.store.Get(ctx, kvstore.KeyOTPPending)
		if err != nil {
			return newError(ErrorInternal, "store_read_error", err)
		}
		if !ok {
			return newError(ErrorValidation, "empty_identifier", nil)
		}
		identifier = pending
	}
	id, err := parseIdentifier(identifier)
	if err != nil {
		return err
	}

	tokens, err := m.api.VerifyOTP(ctx, id, code)
	if err != nil {
		return remoteAuthError("otp_rejected", "otp_verify_error", err)
	}
	meta := domain.AuthMeta{
		LoggedIn:   true,
		Method:     domain.AuthMethodOTP,
		Identifier: identifier,
		LoggedInAt: m.now().UnixMilli(),
	}
	if err := m.storeSession(ctx, tokens, meta); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, kvstore.KeyOTPPending); err != nil {
		return newError(ErrorInternal, "store_write_error", err)
	}
	return nil
}

// Login signs in with email and password.
func (m *AuthManager) Login(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return newError(ErrorValidation, "missing_credentials", nil)
	}
	res, err := m.api.Login(ctx, email, password)
	if err != nil {
		return remoteAuthError("login_rejected", "login_error", err)
	}
	return m.storePasswordSession(ctx, email, res)
}

// Register creates an account and signs it in.
func (m *AuthManager) Register(ctx context.Context, in backend.RegisterRequest) error {
	in.Email = strings.TrimSpace(in.Email)
	if in.Email == "" || in.Password == "" || strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "" {
		return newError(ErrorValidation, "missing_registration_fields", nil)
	}
	if _, err := parseIdentifier(in.Email); err != nil {
		return err
	}
	res, err := m.api.Register(ctx, in)
	if err != nil {
		return remoteAuthError("registration_rejected", "registration_error", err)
	}
	return m.storePasswordSession(ctx, in.Email, res)
}

func (m *AuthManager) storePasswordSession(ctx context.Context, email string, res backend.AuthResult) error {
	user := res.User
	meta := domain.AuthMeta{
		LoggedIn:   true,
		Method:     domain.AuthMethodPassword,
		Identifier: email,
		LoggedInAt: m.now().UnixMilli(),
		User:       &user,
	}
	return m.storeSession(ctx, res.Tokens, meta)
}

// ChangePassword updates the password of the signed-in account.
func (m *AuthManager) ChangePassword(ctx context.Context, current, next string) error {
	if current == "" || next == "" {
		return newError(ErrorValidation, "missing_password", nil)
	}
	if err := m.api.ChangePassword(ctx, m, current, next); err != nil {
		var ue *Error
		if errors.As(err, &ue) {
			return ue
		}
		return remoteAuthError("password_change_rejected", "password_change_error", err)
	}
	return nil
}

// GoogleSignInURL returns where to send the browser to start Google sign-in.
// The state it embeds is checked again by CompleteOAuth.
func (m *AuthManager) GoogleSignInURL(ctx context.Context) (string, error) {
	if m.google == nil {
		return "", newError(ErrorFeatureDisabled, "google_signin_disabled", nil)
	}
	state := newUUID()
	if err := m.store.Set(ctx, kvstore.KeyOAuthState, state); err != nil {
		return "", newError(ErrorInternal, "store_write_error", err)
	}
	return m.google.AuthCodeURL(state), nil
}

// CompleteOAuth finishes the redirect flow: the backend sends the browser
// back with the bearer token in the query string. The callback is only
// accepted with the state issued by GoogleSignInURL.
func (m *AuthManager) CompleteOAuth(ctx context.Context, token, state string) error {
	if m.google == nil {
		return newError(ErrorFeatureDisabled, "google_signin_disabled", nil)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return newError(ErrorValidation, "missing_token", nil)
	}
	want, ok, err := m.store.Get(ctx, kvstore.KeyOAuthState)
	if err != nil {
		return newError(ErrorInternal, "store_read_error", err)
	}
	if !ok || want == "" || want != state {
		return newError(ErrorInvalidCredentials, "oauth_state_mismatch", nil)
	}
	if err := m.store.Delete(ctx, kvstore.KeyOAuthState); err != nil {
		return newError(ErrorInternal, "store_write_error", err)
	}
	meta := domain.AuthMeta{
		LoggedIn:   true,
		Method:     domain.AuthMethodGoogle,
		LoggedInAt: m.now().UnixMilli(),
	}
	return m.storeSession(ctx, domain.Tokens{AccessToken: token}, meta)
}

// AccessToken reads the current token from the store on every call so a
// refreshed token is used immediately.
func (m *AuthManager) AccessToken(ctx context.Context) (string, error) {
	tok, ok, err := m.store.Get(ctx, kvstore.KeyAccessToken)
	if err != nil {
		return "", newError(ErrorInternal, "store_read_error", err)
	}
	if !ok || tok == "" {
		return "", newError(ErrorNotAuthenticated, "missing_access_token", nil)
	}
	return tok, nil
}

// Refresh renews the access token after the backend rejected it. Only the
// access token is replaced. Any failure ends the session.
func (m *AuthManager) Refresh(ctx context.Context) (string, error) {
	refreshToken, ok, err := m.store.Get(ctx, kvstore.KeyRefreshToken)
	if err != nil {
		return "", newError(ErrorInternal, "store_read_error", err)
	}
	if !ok || refreshToken == "" {
		m.clearSession(ctx)
		return "", newError(ErrorNoRefreshToken, "missing_refresh_token", nil)
	}

	accessToken, err := m.api.RefreshToken(ctx, refreshToken)
	if err != nil {
		if ctx.Err() != nil {
			// The caller gave up; the token may still be valid for others.
			return "", newError(ErrorTransport, "refresh_abandoned", err)
		}
		m.clearSession(ctx)
		return "", newError(ErrorRefreshFailed, "refresh_rejected", err)
	}
	if err := m.store.Set(ctx, kvstore.KeyAccessToken, accessToken); err != nil {
		return "", newError(ErrorInternal, "store_write_error", err)
	}
	return accessToken, nil
}

// Logout clears the session locally. The backend is told about it
// best-effort; its answer never blocks the local clear.
func (m *AuthManager) Logout(ctx context.Context) error {
	tok, ok, err := m.store.Get(ctx, kvstore.KeyAccessToken)
	if err == nil && ok {
		if err := m.api.Logout(ctx, tok); err != nil {
			slog.WarnContext(ctx, "backend logout failed", "err", err)
		}
	}
	if err := m.store.Delete(ctx, sessionKeys...); err != nil {
		return newError(ErrorInternal, "store_write_error", err)
	}
	return nil
}

// Meta returns the cached metadata about the signed-in user, if any.
func (m *AuthManager) Meta(ctx context.Context) (domain.AuthMeta, bool, error) {
	raw, ok, err := m.store.Get(ctx, kvstore.KeyAuth)
	if err != nil {
		return domain.AuthMeta{}, false, newError(ErrorInternal, "store_read_error", err)
	}
	if !ok {
		return domain.AuthMeta{}, false, nil
	}
	var meta domain.AuthMeta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return domain.AuthMeta{}, false, nil
	}
	return meta, true, nil
}

func (m *AuthManager) storeSession(ctx context.Context, tokens domain.Tokens, meta domain.AuthMeta) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return newError(ErrorInternal, "marshal_auth_meta", err)
	}
	if err := m.store.Set(ctx, kvstore.KeyAccessToken, tokens.AccessToken); err != nil {
		return newError(ErrorInternal, "store_write_error", err)
	}
	if tokens.RefreshToken != "" {
		err = m.store.Set(ctx, kvstore.KeyRefreshToken, tokens.RefreshToken)
	} else {
		// Never pair a new access token with a previous session's refresh token.
		err = m.store.Delete(ctx, kvstore.KeyRefreshToken)
	}
	if err != nil {
		return newError(ErrorInternal, "store_write_error", err)
	}
	if err := m.store.Set(ctx, kvstore.KeyAuth, string(metaJSON)); err != nil {
		return newError(ErrorInternal, "store_write_error", err)
	}
	return nil
}

func (m *AuthManager) clearSession(ctx context.Context) {
	if err := m.store.Delete(ctx, sessionKeys...); err != nil {
		slog.ErrorContext(ctx, "failed to clear session", "err", err)
	}
}

func parseIdentifier(identifier string) (backend.Identifier, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return backend.Identifier{}, newError(ErrorValidation, "empty_identifier", nil)
	}
	if strings.Contains(identifier, "@") {
		addr, err := mail.ParseAddress(identifier)
		if err != nil || addr.Address != identifier {
			return backend.Identifier{}, newError(ErrorValidation, "invalid_email", err)
		}
		return backend.Identifier{Email: identifier}, nil
	}
	if !phonePattern.MatchString(identifier) {
		return backend.Identifier{}, newError(ErrorValidation, "invalid_phone", nil)
	}
	return backend.Identifier{Phone: identifier}, nil
}

// remoteAuthError classifies a backend failure in an auth flow: a 4xx is the
// backend rejecting the input, anything else is a transport failure.
func remoteAuthError(rejected, failed string, err error) error {
	if status, ok := upstreamStatusCode(err); ok && status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return newError(ErrorInvalidCredentials, rejected, err)
	}
	return newError(ErrorTransport, failed, err)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// RemoteMessage returns the backend's message for an auth failure, suitable
// for inline display.
func RemoteMessage(err error) string {
	var statusErr *backend.HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Message
	}
	return ""
}
