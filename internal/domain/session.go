package domain

// AuthMethod records how the current session was established.
type AuthMethod string

const (
	AuthMethodOTP      AuthMethod = "otp"
	AuthMethodPassword AuthMethod = "password"
	AuthMethodGoogle   AuthMethod = "google"
)

// SessionState is the position of a session in the sign-in state machine.
type SessionState string

const (
	StateAnonymous     SessionState = "anonymous"
	StateOTPPending    SessionState = "otp_pending"
	StateAuthenticated SessionState = "authenticated"
)

// User is the account shape returned by the backend on password login,
// registration and profile reads.
type User struct {
	ID        string `json:"_id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone,omitempty"`
	Role      string `json:"role,omitempty"`
}

// AuthMeta is the cached metadata about the signed-in user.
type AuthMeta struct {
	LoggedIn   bool       `json:"loggedIn"`
	Method     AuthMethod `json:"method"`
	Identifier string     `json:"identifier,omitempty"`
	LoggedInAt int64      `json:"loggedInAt"`
	User       *User      `json:"user,omitempty"`
}

// Tokens is the credential pair issued by the backend. RefreshToken may be
// empty when the sign-in flow does not issue one.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// UIState is what the widgets restore on startup.
type UIState struct {
	LoggedIn bool   `json:"loggedIn"`
	Theme    string `json:"theme"`
	Language string `json:"language"`
}
