package kv

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gj2101/boutview/internal/database"
)

// Open picks a backend from dsn: "memory" (or empty), a postgres:// URL, or a SQLite file path
// (optionally prefixed with "sqlite:"). The returned close function releases the backend.
func Open(ctx context.Context, dsn string) (Store, func() error, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "" || dsn == "memory":
		slog.Info("kv: using in-memory store; annotations will not survive a restart")
		return NewMemory(), func() error { return nil }, nil

	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		db, err := database.Connect(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := db.Migrate(dsn); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		slog.Info("kv: using postgres store")
		return NewPostgres(db.Pool), func() error { db.Close(); return nil }, nil

	default:
		path := strings.TrimPrefix(dsn, "sqlite:")
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("kv: using sqlite store", "path", path)
		return s, s.Close, nil
	}
}
