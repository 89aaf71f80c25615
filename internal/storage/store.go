package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"attune/internal/config"
	"attune/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveClassification(ctx context.Context, c model.Classification) error
	SaveClassifications(ctx context.Context, cs []model.Classification) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
