package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/punchamoorthee/claimrelay/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type assetRow struct {
	ID          string `gorm:"primaryKey"`
	GroupNumber int    `gorm:"index;not null"`
	Handle      string `gorm:"not null"`
	Status      string `gorm:"index;not null;default:open"`
	Metadata    string `gorm:"not null;default:''"`
	CreatedAt   time.Time
}

func (assetRow) TableName() string { return "assets" }

// OpenSQLite opens (and creates if needed) the embedded database file.
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	// WAL lets readers proceed while a snapshot or status update is written
	opts := "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(
		sqlite.Open(fmt.Sprintf("file:%s?%s", path, opts)),
		&gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
		},
	)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// SQLiteStore keeps assets in an embedded SQLite database.
type SQLiteStore struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewSQLiteStore(db *gorm.DB, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if err := db.AutoMigrate(&assetRow{}); err != nil {
		return nil, fmt.Errorf("unable to migrate assets table: %w", err)
	}
	return &SQLiteStore{db: db, log: logger.With("component", "store")}, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) toAsset(r assetRow) domain.Asset {
	return domain.Asset{
		ID:          r.ID,
		GroupNumber: r.GroupNumber,
		Handle:      r.Handle,
		Status:      domain.AssetStatus(r.Status),
		Metadata:    decodeMetadata(s.log, r.ID, r.Metadata),
		CreatedAt:   r.CreatedAt,
	}
}

func (s *SQLiteStore) Create(ctx context.Context, a domain.Asset) error {
	meta, err := encodeMetadata(a.Metadata)
	if err != nil {
		return err
	}
	if a.Status == "" {
		a.Status = domain.StatusOpen
	}
	row := assetRow{
		ID:          a.ID,
		GroupNumber: a.GroupNumber,
		Handle:      a.Handle,
		Status:      string(a.Status),
		Metadata:    meta,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("asset insert failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAssetExists
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Asset, error) {
	var row assetRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssetNotFound
		}
		return nil, err
	}
	a := s.toAsset(row)
	return &a, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]domain.Asset, error) {
	var rows []assetRow
	if err := s.db.WithContext(ctx).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	assets := make([]domain.Asset, 0, len(rows))
	for _, r := range rows {
		assets = append(assets, s.toAsset(r))
	}
	return assets, nil
}

func (s *SQLiteStore) update(ctx context.Context, id, column string, value any) error {
	res := s.db.WithContext(ctx).Model(&assetRow{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return fmt.Errorf("%s update failed: %w", column, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAssetNotFound
	}
	return nil
}

func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status domain.AssetStatus) error {
	return s.update(ctx, id, "status", string(status))
}

func (s *SQLiteStore) SetMetadata(ctx context.Context, id string, meta domain.AssetMetadata) error {
	raw, err := encodeMetadata(meta)
	if err != nil {
		return err
	}
	return s.update(ctx, id, "metadata", raw)
}

func (s *SQLiteStore) RandomOpen(ctx context.Context) (*domain.Asset, error) {
	var row assetRow
	err := s.db.WithContext(ctx).
		Where("status = ?", string(domain.StatusOpen)).
		Order("RANDOM()").
		Limit(1).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssetNotFound
		}
		return nil, err
	}
	a := s.toAsset(row)
	return &a, nil
}

func (s *SQLiteStore) DeleteByGroupNumber(ctx context.Context, groupNumber int, targetRoomID int64) ([]string, error) {
	return s.deleteWhere(ctx, func(a domain.Asset) bool {
		return a.GroupNumber == groupNumber && a.Metadata.TargetRoomID == targetRoomID
	})
}

func (s *SQLiteStore) DeleteForTargetRoom(ctx context.Context, targetRoomID int64) ([]string, error) {
	return s.deleteWhere(ctx, func(a domain.Asset) bool {
		return a.Metadata.TargetRoomID == targetRoomID
	})
}

func (s *SQLiteStore) deleteWhere(ctx context.Context, keep func(domain.Asset) bool) ([]string, error) {
	assets, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := matchIDs(assets, keep)
	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&assetRow{}).Error; err != nil {
		return nil, fmt.Errorf("asset delete failed: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (int, int, error) {
	var counts []struct {
		Status string
		N      int
	}
	err := s.db.WithContext(ctx).
		Model(&assetRow{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return 0, 0, err
	}
	var open, closed int
	for _, c := range counts {
		switch domain.AssetStatus(c.Status) {
		case domain.StatusOpen:
			open = c.N
		case domain.StatusClosed:
			closed = c.N
		}
	}
	return open, closed, nil
}
