package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/punchamoorthee/claimrelay/internal/domain"
)

var (
	ErrAssetNotFound = errors.New("asset not found")
	ErrAssetExists   = errors.New("asset already exists")
)

// AssetStore is the data access layer for assets. It carries no business policy.
type AssetStore interface {
	Create(ctx context.Context, a domain.Asset) error
	Get(ctx context.Context, id string) (*domain.Asset, error)
	List(ctx context.Context) ([]domain.Asset, error)
	SetStatus(ctx context.Context, id string, status domain.AssetStatus) error
	SetMetadata(ctx context.Context, id string, meta domain.AssetMetadata) error
	// RandomOpen returns ErrAssetNotFound when no asset is open.
	RandomOpen(ctx context.Context) (*domain.Asset, error)
	DeleteByGroupNumber(ctx context.Context, groupNumber int, targetRoomID int64) ([]string, error)
	DeleteForTargetRoom(ctx context.Context, targetRoomID int64) ([]string, error)
	CountByStatus(ctx context.Context) (open int, closed int, err error)
	Close() error
}

// decodeMetadata treats unparseable metadata as absent.
func decodeMetadata(log *slog.Logger, id, raw string) domain.AssetMetadata {
	var meta domain.AssetMetadata
	if raw == "" {
		return meta
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		log.Error("corrupt asset metadata, treating as unbound",
			slog.String("asset_id", id),
			slog.Any("error", err),
		)
		return domain.AssetMetadata{}
	}
	return meta
}

func encodeMetadata(meta domain.AssetMetadata) (string, error) {
	if meta == (domain.AssetMetadata{}) {
		return "", nil
	}
	buf, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func matchIDs(assets []domain.Asset, keep func(domain.Asset) bool) []string {
	var ids []string
	for _, a := range assets {
		if keep(a) {
			ids = append(ids, a.ID)
		}
	}
	return ids
}
