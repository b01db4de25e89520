package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/claimrelay/internal/domain"
)

const assetsSchema = `
CREATE TABLE IF NOT EXISTS assets (
	id           TEXT PRIMARY KEY,
	group_number INTEGER NOT NULL,
	handle       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'open',
	metadata     TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS assets_status_idx ON assets (status);`

const assetColumns = "id, group_number, handle, status, metadata, created_at"

type Store struct {
	Db  *pgxpool.Pool
	log *slog.Logger
}

func NewStore(ctx context.Context, connString string, logger *slog.Logger) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s := &Store{Db: pool, log: logger.With("component", "store")}
	if _, err := pool.Exec(ctx, assetsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to migrate assets table: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.Db.Close()
	return nil
}

func (s *Store) scanAsset(row pgx.Row) (*domain.Asset, error) {
	var (
		a      domain.Asset
		status string
		meta   string
	)
	if err := row.Scan(&a.ID, &a.GroupNumber, &a.Handle, &status, &meta, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssetNotFound
		}
		return nil, err
	}
	a.Status = domain.AssetStatus(status)
	a.Metadata = decodeMetadata(s.log, a.ID, meta)
	return &a, nil
}

// Create inserts a new open asset.
func (s *Store) Create(ctx context.Context, a domain.Asset) error {
	meta, err := encodeMetadata(a.Metadata)
	if err != nil {
		return err
	}
	if a.Status == "" {
		a.Status = domain.StatusOpen
	}
	tag, err := s.Db.Exec(ctx,
		"INSERT INTO assets (id, group_number, handle, status, metadata) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING",
		a.ID, a.GroupNumber, a.Handle, string(a.Status), meta,
	)
	if err != nil {
		return fmt.Errorf("asset insert failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAssetExists
	}
	return nil
}

// Get retrieves a single asset by ID.
func (s *Store) Get(ctx context.Context, id string) (*domain.Asset, error) {
	return s.scanAsset(s.Db.QueryRow(ctx, "SELECT "+assetColumns+" FROM assets WHERE id = $1", id))
}

func (s *Store) List(ctx context.Context) ([]domain.Asset, error) {
	rows, err := s.Db.Query(ctx, "SELECT "+assetColumns+" FROM assets ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		a, err := s.scanAsset(rows)
		if err != nil {
			s.log.Error("error scanning asset", slog.Any("error", err))
			continue
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

func (s *Store) SetStatus(ctx context.Context, id string, status domain.AssetStatus) error {
	tag, err := s.Db.Exec(ctx, "UPDATE assets SET status = $1 WHERE id = $2", string(status), id)
	if err != nil {
		return fmt.Errorf("status update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAssetNotFound
	}
	return nil
}

func (s *Store) SetMetadata(ctx context.Context, id string, meta domain.AssetMetadata) error {
	raw, err := encodeMetadata(meta)
	if err != nil {
		return err
	}
	tag, err := s.Db.Exec(ctx, "UPDATE assets SET metadata = $1 WHERE id = $2", raw, id)
	if err != nil {
		return fmt.Errorf("metadata update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAssetNotFound
	}
	return nil
}

func (s *Store) RandomOpen(ctx context.Context) (*domain.Asset, error) {
	return s.scanAsset(s.Db.QueryRow(ctx,
		"SELECT "+assetColumns+" FROM assets WHERE status = 'open' ORDER BY random() LIMIT 1"))
}

// DeleteByGroupNumber removes assets with the group number bound to the Target room.
func (s *Store) DeleteByGroupNumber(ctx context.Context, groupNumber int, targetRoomID int64) ([]string, error) {
	return s.deleteWhere(ctx, func(a domain.Asset) bool {
		return a.GroupNumber == groupNumber && a.Metadata.TargetRoomID == targetRoomID
	})
}

func (s *Store) DeleteForTargetRoom(ctx context.Context, targetRoomID int64) ([]string, error) {
	return s.deleteWhere(ctx, func(a domain.Asset) bool {
		return a.Metadata.TargetRoomID == targetRoomID
	})
}

// deleteWhere filters in Go because metadata is free-form text that may not parse.
func (s *Store) deleteWhere(ctx context.Context, keep func(domain.Asset) bool) ([]string, error) {
	assets, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := matchIDs(assets, keep)
	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := s.Db.Exec(ctx, "DELETE FROM assets WHERE id = ANY($1)", ids); err != nil {
		return nil, fmt.Errorf("asset delete failed: %w", err)
	}
	return ids, nil
}

func (s *Store) CountByStatus(ctx context.Context) (int, int, error) {
	var open, closed int
	err := s.Db.QueryRow(ctx,
		"SELECT COUNT(*) FILTER (WHERE status = 'open'), COUNT(*) FILTER (WHERE status = 'closed') FROM assets",
	).Scan(&open, &closed)
	return open, closed, err
}
