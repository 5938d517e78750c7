package docauth

import (
	"context"
	"time"
)

// Role is the privilege level embedded in session tokens.
type Role string

const (
	// RoleUser is granted to every self-registered account.
	RoleUser Role = "user"
	// RoleAdmin is only honoured for identities listed in AdminConfig.AllowedIdentities.
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Credential is the durable identity record kept by a [CredentialStore].
//
// SessionVersion only ever increases. A session token is honoured only while
// its embedded version equals the value stored here.
type Credential struct {
	ID             string
	Identity       string
	Email          string
	Mobile         string
	PasswordHash   string
	Role           Role
	SessionVersion uint64
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CredentialStore is the contract the engine needs from durable user/admin
// storage. Implementations must return [ErrNotFound] for unknown identities and
// [ErrConflict] when Create hits an existing identity. Any other error is
// treated as an internal failure.
//
// IncrementSessionVersion must be atomic with respect to concurrent callers and
// return the new value.
type CredentialStore interface {
	FindByIdentity(ctx context.Context, identity string) (Credential, error)
	Create(ctx context.Context, cred Credential) (Credential, error)
	UpdatePasswordHash(ctx context.Context, identity, hash string) error
	IncrementSessionVersion(ctx context.Context, identity string) (uint64, error)
	SetActive(ctx context.Context, identity string, active bool) error
	Delete(ctx context.Context, identity string) error
}

// Notifier delivers OTP messages. Send must not return before the message was
// handed to the transport; an error means the code was not sent.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// NotifierFunc adapts a plain function to [Notifier].
type NotifierFunc func(ctx context.Context, recipient, subject, body string) error

// Send calls f.
func (f NotifierFunc) Send(ctx context.Context, recipient, subject, body string) error {
	return f(ctx, recipient, subject, body)
}

// Clock supplies wall-clock time for TTL and cooldown decisions.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production [Clock].
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Claims is the decoded session token handed to request handlers after
// [Engine.Validate] succeeds.
type Claims struct {
	Identity       string
	Role           Role
	SessionVersion uint64
	TokenID        string
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// IsAdmin reports whether the claims carry the admin role.
func (c *Claims) IsAdmin() bool {
	return c != nil && c.Role == RoleAdmin
}

// RegisterInput carries the data submitted after a successful OTP verification.
type RegisterInput struct {
	Email             string
	Mobile            string
	Password          string
	VerificationToken string
}

// Session is the result of a successful login or registration.
type Session struct {
	Token     string
	Identity  string
	Role      Role
	ExpiresAt time.Time
}
