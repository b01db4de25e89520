package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const snapshotsSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	name       TEXT PRIMARY KEY,
	body       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresBackend keeps snapshots in the same database as the asset store.
type PostgresBackend struct {
	db *pgxpool.Pool
}

func NewPostgresBackend(ctx context.Context, pool *pgxpool.Pool) (*PostgresBackend, error) {
	if _, err := pool.Exec(ctx, snapshotsSchema); err != nil {
		return nil, fmt.Errorf("unable to migrate snapshots table: %w", err)
	}
	return &PostgresBackend{db: pool}, nil
}

func (b *PostgresBackend) Save(ctx context.Context, name string, body []byte) error {
	_, err := b.db.Exec(ctx, `
		INSERT INTO snapshots (name, body, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		name, body,
	)
	if err != nil {
		return fmt.Errorf("snapshot upsert failed: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Load(ctx context.Context, name string) ([]byte, error) {
	var body []byte
	err := b.db.QueryRow(ctx, "SELECT body FROM snapshots WHERE name = $1", name).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	return body, err
}

// Close is a no-op; the pool belongs to the asset store.
func (b *PostgresBackend) Close() error { return nil }

type snapshotRow struct {
	Name      string `gorm:"primaryKey"`
	Body      []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (snapshotRow) TableName() string { return "snapshots" }

// SQLiteBackend keeps snapshots next to the embedded asset table.
type SQLiteBackend struct {
	db *gorm.DB
}

func NewSQLiteBackend(db *gorm.DB) (*SQLiteBackend, error) {
	if err := db.AutoMigrate(&snapshotRow{}); err != nil {
		return nil, fmt.Errorf("unable to migrate snapshots table: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, name string, body []byte) error {
	row := snapshotRow{Name: name, Body: body, UpdatedAt: time.Now().UTC()}
	err := b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("snapshot upsert failed: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Load(ctx context.Context, name string) ([]byte, error) {
	var row snapshotRow
	err := b.db.WithContext(ctx).Where("name = ?", name).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	return row.Body, nil
}

func (b *SQLiteBackend) Close() error { return nil }

// MemoryBackend is used by tests and the benchmark.
type MemoryBackend struct {
	mu     sync.Mutex
	bodies map[string][]byte
	saves  map[string]int
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{bodies: make(map[string][]byte), saves: make(map[string]int)}
}

func (b *MemoryBackend) Save(_ context.Context, name string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bodies[name] = append([]byte(nil), body...)
	b.saves[name]++
	return nil
}

func (b *MemoryBackend) Load(_ context.Context, name string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	body, ok := b.bodies[name]
	if !ok {
		return nil, ErrNoSnapshot
	}
	return append([]byte(nil), body...), nil
}

// Saves reports how many times name was written.
func (b *MemoryBackend) Saves(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves[name]
}

func (b *MemoryBackend) Close() error { return nil }
