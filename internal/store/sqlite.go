// Package store persists the owner's settings and the recovery audit log
// in SQLite. The retention cache is deliberately not here; cached message
// content never touches disk.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"vaultbot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.ConfigStore and domain.RecoveryLog.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	seed   func(ownerID string) domain.UserConfig
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if logger == nil {
		logger = slog.Default()
	}
	store := &SQLiteStore{db: db, logger: logger, seed: domain.DefaultUserConfig}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

// SetSeed overrides the settings persisted for an owner with no stored row.
func (s *SQLiteStore) SetSeed(seed func(ownerID string) domain.UserConfig) {
	if seed != nil {
		s.seed = seed
	}
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS user_config (
		owner_id    TEXT PRIMARY KEY,
		settings    TEXT NOT NULL,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS recovery_log (
		id              TEXT PRIMARY KEY,
		target_id       TEXT NOT NULL,
		conversation_id TEXT,
		sender_id       TEXT,
		outcome         TEXT NOT NULL,
		reason          TEXT,
		media_kind      TEXT,
		created_at      DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_recovery_time ON recovery_log(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetUserConfig loads the owner's settings, seeding defaults on first run.
func (s *SQLiteStore) GetUserConfig(ctx context.Context, ownerID string) (domain.UserConfig, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT settings FROM user_config WHERE owner_id = ?`, ownerID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		cfg := s.seed(ownerID)
		if err := s.UpdateUserConfig(ctx, cfg); err != nil {
			return domain.UserConfig{}, err
		}
		return cfg, nil
	}
	if err != nil {
		return domain.UserConfig{}, err
	}

	var cfg domain.UserConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return domain.UserConfig{}, fmt.Errorf("corrupt user config for %s: %w", ownerID, err)
	}
	cfg.OwnerID = ownerID
	return cfg, nil
}

func (s *SQLiteStore) UpdateUserConfig(ctx context.Context, cfg domain.UserConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_config (owner_id, settings, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(owner_id) DO UPDATE SET settings = excluded.settings, updated_at = excluded.updated_at`,
		cfg.OwnerID, string(raw), time.Now(),
	)
	return err
}

func (s *SQLiteStore) AppendRecovery(ctx context.Context, rec domain.RecoveryRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recovery_log (id, target_id, conversation_id, sender_id, outcome, reason, media_kind, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TargetID, rec.ConversationID, rec.SenderID, rec.Outcome, rec.Reason, rec.MediaKind, rec.At,
	)
	return err
}

func (s *SQLiteStore) RecentRecoveries(ctx context.Context, limit int) ([]domain.RecoveryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target_id, conversation_id, sender_id, outcome, reason, media_kind, created_at
		 FROM recovery_log ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.RecoveryRecord
	for rows.Next() {
		var r domain.RecoveryRecord
		var convID, senderID, reason, mediaKind sql.NullString
		if err := rows.Scan(&r.ID, &r.TargetID, &convID, &senderID, &r.Outcome, &reason, &mediaKind, &r.At); err != nil {
			return nil, err
		}
		r.ConversationID = convID.String
		r.SenderID = senderID.String
		r.Reason = reason.String
		r.MediaKind = mediaKind.String
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// PruneRecoveries drops audit rows older than the retention window.
func (s *SQLiteStore) PruneRecoveries(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM recovery_log WHERE created_at < ?`, time.Now().Add(-olderThan),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var (
	_ domain.ConfigStore = (*SQLiteStore)(nil)
	_ domain.RecoveryLog = (*SQLiteStore)(nil)
)
