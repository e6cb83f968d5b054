package app

import (
	"fmt"
	"strings"

	"github.com/shrimpsizemoose/semla/internal/store"
	"github.com/shrimpsizemoose/semla/internal/store/memory"
	"github.com/shrimpsizemoose/semla/internal/store/postgres"
	"github.com/shrimpsizemoose/semla/internal/store/sqlite"
)

func dsnKind(dsn string) store.DatabaseType {
	switch {
	case dsn == "memory":
		return store.DBTypeMemory
	case strings.HasPrefix(dsn, "postgres"):
		return store.DBTypePostgres
	default:
		return store.DBTypeSQLite
	}
}

func NewStore(cfg store.DBConfig) (store.SubmissionStore, error) {
	if cfg.Type == "" {
		cfg.Type = dsnKind(cfg.DSN)
	}

	switch cfg.Type {
	case store.DBTypeMemory:
		return memory.NewMemoryStore(), nil
	case store.DBTypePostgres:
		return postgres.NewPostgresStore(cfg.DSN, cfg.MigrationsDir)
	case store.DBTypeSQLite:
		return sqlite.NewSQLiteStore(strings.TrimPrefix(cfg.DSN, "sqlite://"), cfg.MigrationsDir)
	default:
		return nil, fmt.Errorf("unable to determine database type from DSN: %s", cfg.DSN)
	}
}
