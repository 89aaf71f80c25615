package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"attune/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/attune?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS classifications (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			session_id TEXT NOT NULL,
			band TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			raw_band TEXT NOT NULL,
			raw_confidence DOUBLE PRECISION NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			source TEXT NOT NULL,
			contributions_json JSONB NOT NULL,
			thresholds_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_classifications_ts ON classifications(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_classifications_session ON classifications(session_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveClassification(ctx context.Context, c model.Classification) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO classifications (id, ts, session_id, band, confidence, raw_band, raw_confidence, score, source, contributions_json, thresholds_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		c.ID,
		c.Timestamp.UTC(),
		c.SessionID,
		c.Band.String(),
		c.Confidence,
		c.RawBand.String(),
		c.RawConfidence,
		c.Score,
		c.Source,
		encodeJSON(c.Contributions),
		encodeJSON(c.Thresholds),
	)
	return err
}

func (s *postgresStore) SaveClassifications(ctx context.Context, cs []model.Classification) error {
	if s.db == nil || len(cs) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO classifications (id, ts, session_id, band, confidence, raw_band, raw_confidence, score, source, contributions_json, thresholds_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, c := range cs {
		if _, err := stmt.ExecContext(ctx,
			c.ID,
			c.Timestamp.UTC(),
			c.SessionID,
			c.Band.String(),
			c.Confidence,
			c.RawBand.String(),
			c.RawConfidence,
			c.Score,
			c.Source,
			encodeJSON(c.Contributions),
			encodeJSON(c.Thresholds),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
