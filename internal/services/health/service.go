// Package health reports process liveness and dependency status.
package health

import (
	"context"
	"database/sql"
	"time"
)

// Service encapsulates health-related checks.
type Service struct {
	DB *sql.DB
}

// NewService constructs a new health service.
func NewService(db *sql.DB) *Service {
	return &Service{DB: db}
}

// Status pings the database when one is configured. Memory-backed deployments
// report ok without a db section.
func (s *Service) Status(ctx context.Context) map[string]any {
	out := map[string]any{"ok": true}
	if s.DB == nil {
		return out
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.DB.PingContext(pingCtx); err != nil {
		out["ok"] = false
		out["db"] = "unreachable"
		return out
	}
	out["db"] = "ok"
	return out
}
