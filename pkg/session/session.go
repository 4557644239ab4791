package session

import "time"

// Status is the authentication lifecycle state.
type Status string

const (
	StatusNotAuthenticated Status = "not_authenticated"
	StatusAuthenticating   Status = "authenticating"
	StatusAuthenticated    Status = "authenticated"
	StatusExpired          Status = "expired"
	StatusFailed           Status = "failed"
)

// Method selects how a session is established.
type Method string

const (
	MethodCookie      Method = "cookie"
	MethodCredentials Method = "credentials"
	MethodAuto        Method = "auto"
)

// Credentials is the username/password pair kept sealed in the vault.
// The password only ever exists in memory as part of this struct.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Info is the observable session state. It never contains secrets.
type Info struct {
	Status       Status    `json:"status"`
	AuthMethod   Method    `json:"auth_method"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	Verified     bool      `json:"verified"`
	LoginTime    time.Time `json:"login_time"`
	LastActivity time.Time `json:"last_activity"`
	CookieCount  int       `json:"cookie_count"`
}

// Active reports whether the session is authenticated and within ttl of
// its login time.
func (i Info) Active(ttl time.Duration, now time.Time) bool {
	return i.Status == StatusAuthenticated && now.Before(i.LoginTime.Add(ttl))
}
