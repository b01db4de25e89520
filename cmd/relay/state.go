package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/punchamoorthee/claimrelay/internal/approval"
	"github.com/punchamoorthee/claimrelay/internal/config"
	"github.com/punchamoorthee/claimrelay/internal/correlation"
	"github.com/punchamoorthee/claimrelay/internal/persist"
	"github.com/punchamoorthee/claimrelay/internal/registry"
	"github.com/punchamoorthee/claimrelay/internal/store"
)

// state is everything the relay keeps across restarts.
type state struct {
	assets       store.AssetStore
	backend      persist.Backend
	coord        *persist.Coordinator
	rooms        *registry.Registry
	correlations *correlation.Store
	responses    *correlation.ResponseLog
	approvals    *approval.Store
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Production() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, newLogger(cfg), nil
}

// openState opens the asset store and the snapshot backend for the configured driver and
// restores the in-memory collections from it.
func openState(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*state, error) {
	st := &state{
		rooms:        registry.New(cfg.GlobalAdmins),
		correlations: correlation.NewStore(),
		responses:    correlation.NewResponseLog(),
		approvals:    approval.NewStore(),
	}

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		s, err := store.NewStore(ctx, cfg.DBSource, logger)
		if err != nil {
			return nil, err
		}
		backend, err := persist.NewPostgresBackend(ctx, s.Db)
		if err != nil {
			s.Close()
			return nil, err
		}
		st.assets, st.backend = s, backend
	case config.DriverSQLite:
		db, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s, err := store.NewSQLiteStore(db, logger)
		if err != nil {
			if sqlDB, derr := db.DB(); derr == nil {
				sqlDB.Close()
			}
			return nil, err
		}
		backend, err := persist.NewSQLiteBackend(db)
		if err != nil {
			s.Close()
			return nil, err
		}
		st.assets, st.backend = s, backend
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	st.coord = persist.NewCoordinator(st.backend, logger)
	st.coord.Register(st.rooms, st.correlations, st.responses, st.approvals)
	if err := st.coord.Restore(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("restore state: %w", err)
	}
	return st, nil
}

func (s *state) Close() error {
	s.backend.Close()
	return s.assets.Close()
}
