package auth

import "context"

// Analyst is an authenticated user of the analytics API.
type Analyst struct {
	ID       uint64 `json:"analyst_id"`
	Username string `json:"username"`
}

// Service is the account/session contract consumed by the gateway and the
// HTTP handlers.
type Service interface {
	Register(ctx context.Context, username, password string) (Analyst, string, error)
	Login(ctx context.Context, username, password string) (Analyst, string, error)
	// Resolve validates token and slides its expiry.
	Resolve(ctx context.Context, token string) (Analyst, bool)
	Logout(ctx context.Context, token string) error
	Close() error
}
