package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"attune/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:attune.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS classifications (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			session_id TEXT NOT NULL,
			band TEXT NOT NULL,
			confidence REAL NOT NULL,
			raw_band TEXT NOT NULL,
			raw_confidence REAL NOT NULL,
			score REAL NOT NULL,
			source TEXT NOT NULL,
			contributions_json TEXT NOT NULL,
			thresholds_json TEXT NOT NULL
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

func (s *sqliteStore) SaveClassification(ctx context.Context, c model.Classification) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO classifications (id, ts, session_id, band, confidence, raw_band, raw_confidence, score, source, contributions_json, thresholds_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

func (s *sqliteStore) SaveClassifications(ctx context.Context, cs []model.Classification) error {
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
		`INSERT OR REPLACE INTO classifications (id, ts, session_id, band, confidence, raw_band, raw_confidence, score, source, contributions_json, thresholds_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
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
