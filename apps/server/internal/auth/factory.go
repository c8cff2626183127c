package auth

import (
	"context"
	"time"

	"playprofile/apps/server/internal/database"
)

// NewService picks the in-memory manager when db is nil and the SQL manager
// otherwise.
func NewService(ctx context.Context, db *database.DB, sessionTTL time.Duration) (Service, error) {
	if db == nil {
		return NewManager(sessionTTL), nil
	}
	return NewSQLManager(ctx, db, sessionTTL)
}
