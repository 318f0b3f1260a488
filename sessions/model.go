package sessions

// Session is one live authentication session. Instances are written once
// at login and treated as immutable afterwards.
type Session struct {
	SessionID string
	UserID    string
	Role      string

	CreatedAt int64
	ExpiresAt int64
}
