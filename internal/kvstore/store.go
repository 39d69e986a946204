// Package kvstore holds the per-session key/value storage that backs tokens,
// auth metadata, the profile form and UI preferences.
package kvstore

import "context"

// Keys persisted for a session. Values are always strings; structured values
// are stored as JSON.
const (
	KeyAccessToken  = "mediro-access-token"
	KeyRefreshToken = "mediro-refresh-token"
	KeyAuth         = "mediro-auth"
	KeyOTPPending   = "mediro-otp-pending"
	KeyOAuthState   = "mediro-oauth-state"
	KeyProfile      = "mediro-profile"
	KeyTheme        = "mediro-theme"
	KeyLanguage     = "mediro-language"
)

// Store is a string key/value store scoped to one browser session.
// Implementations must be safe for concurrent use and a Set must be visible
// to the next Get.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes all given keys together. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}

// Provider hands out the Store of a given session.
type Provider interface {
	ForSession(sessionID string) Store
}
