package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"wisefido-vitals/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// changeLogLockKey 变更日志的事务级 advisory lock；写入和发令牌互斥，
// 令牌的 last_seq 不会越过尚未提交的 seq
const changeLogLockKey int64 = 0x76697461

func lockChangeLog(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, changeLogLockKey); err != nil {
		return fmt.Errorf("failed to lock change log: %w", err)
	}
	return nil
}

// PostgresHealthStore health data store backed by PostgreSQL
type PostgresHealthStore struct {
	db       *sql.DB
	logger   *zap.Logger
	tokenTTL time.Duration
	now      func() time.Time
}

// NewPostgresHealthStore creates a new PostgreSQL-backed health store
func NewPostgresHealthStore(db *sql.DB, logger *zap.Logger, tokenTTL time.Duration) *PostgresHealthStore {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &PostgresHealthStore{
		db:       db,
		logger:   logger,
		tokenTTL: tokenTTL,
		now:      time.Now,
	}
}

// EnsureSchema creates the health tables if they do not exist
func (s *PostgresHealthStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure health schema: %w", err)
	}
	return nil
}

// ReadRecords reads records of one category whose start time falls in [Start, End)
func (s *PostgresHealthStore) ReadRecords(ctx context.Context, category models.Category, tr models.TimeRange) ([]models.Record, error) {
	query := `
		SELECT
			record_id,
			category,
			start_time,
			end_time,
			source,
			device,
			manual_entry,
			last_modified,
			payload
		FROM health_records
		WHERE category = $1
		  AND start_time >= $2
		  AND start_time < $3
		ORDER BY start_time
	`

	rows, err := s.db.QueryContext(ctx, query, string(category), tr.Start, tr.End)
	if err != nil {
		return nil, fmt.Errorf("failed to query health_records: %w", err)
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		var rec models.Record
		var cat string
		var payload []byte

		if err := rows.Scan(
			&rec.ID,
			&cat,
			&rec.StartTime,
			&rec.EndTime,
			&rec.Metadata.Source,
			&rec.Metadata.Device,
			&rec.Metadata.ManualEntry,
			&rec.Metadata.LastModified,
			&payload,
		); err != nil {
			return nil, fmt.Errorf("failed to scan health record: %w", err)
		}

		rec.Category = models.Category(cat)
		if err := decodePayload(&rec, payload); err != nil {
			// 单条坏数据不影响整批
			s.logger.Warn("Skipping undecodable health record",
				zap.String("record_id", rec.ID),
				zap.String("category", cat),
				zap.Error(err),
			)
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate health records: %w", err)
	}

	return records, nil
}

// InsertRecords inserts records and appends one change-log row per record in a single transaction
func (s *PostgresHealthStore) InsertRecords(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := lockChangeLog(ctx, tx); err != nil {
		return err
	}

	for _, rec := range records {
		payload, err := encodePayload(rec)
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
		}
		lastModified := rec.Metadata.LastModified
		if lastModified.IsZero() {
			lastModified = s.now()
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO health_records (
				record_id, category, start_time, end_time,
				source, device, manual_entry, last_modified, payload
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			rec.ID,
			string(rec.Category),
			rec.StartTime,
			rec.EndTime,
			rec.Metadata.Source,
			rec.Metadata.Device,
			rec.Metadata.ManualEntry,
			lastModified,
			payload,
		); err != nil {
			return fmt.Errorf("failed to insert health record %s: %w", rec.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO health_changes (category, record_id) VALUES ($1, $2)`,
			string(rec.Category), rec.ID,
		); err != nil {
			return fmt.Errorf("failed to append change log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit health records: %w", err)
	}
	return nil
}

// GetChangesToken issues a token positioned at the current end of the change log
func (s *PostgresHealthStore) GetChangesToken(ctx context.Context, categories []models.Category) (models.ChangesToken, error) {
	token := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// 等待进行中的写入提交后再取 MAX(seq)
	if err := lockChangeLog(ctx, tx); err != nil {
		return "", err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO health_change_tokens (token, categories, last_seq, issued_at)
		SELECT $1, $2, COALESCE(MAX(seq), 0), $3
		FROM health_changes
	`, token, pq.Array(categoryStrings(categories)), s.now()); err != nil {
		return "", fmt.Errorf("failed to issue changes token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit changes token: %w", err)
	}
	return models.ChangesToken(token), nil
}

// GetChanges reports whether records of the token's categories changed after the token was issued
func (s *PostgresHealthStore) GetChanges(ctx context.Context, token models.ChangesToken) (models.ChangesResponse, error) {
	var categories []string
	var lastSeq int64
	var issuedAt time.Time

	err := s.db.QueryRowContext(ctx, `
		SELECT categories, last_seq, issued_at
		FROM health_change_tokens
		WHERE token = $1
	`, string(token)).Scan(pq.Array(&categories), &lastSeq, &issuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ChangesResponse{TokenExpired: true}, nil
		}
		return models.ChangesResponse{}, fmt.Errorf("failed to load changes token: %w", err)
	}

	if s.now().Sub(issuedAt) > s.tokenTTL {
		return models.ChangesResponse{TokenExpired: true}, nil
	}

	var hasMore bool
	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM health_changes
			WHERE seq > $1 AND category = ANY($2)
		)
	`, lastSeq, pq.Array(categories)).Scan(&hasMore)
	if err != nil {
		return models.ChangesResponse{}, fmt.Errorf("failed to query health_changes: %w", err)
	}

	return models.ChangesResponse{HasMore: hasMore}, nil
}

// GetGrantedPermissions lists granted permissions
func (s *PostgresHealthStore) GetGrantedPermissions(ctx context.Context) (models.PermissionSet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT permission FROM health_permissions WHERE granted = TRUE`)
	if err != nil {
		return nil, fmt.Errorf("failed to query health_permissions: %w", err)
	}
	defer rows.Close()

	set := models.NewPermissionSet()
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		set[models.Permission(p)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}
	return set, nil
}

// GrantPermissions upserts granted permissions (used by bootstrap / admin tooling)
func (s *PostgresHealthStore) GrantPermissions(ctx context.Context, perms []models.Permission) error {
	for _, p := range perms {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO health_permissions (permission, granted) VALUES ($1, TRUE)
			ON CONFLICT (permission) DO UPDATE SET granted = TRUE
		`, string(p)); err != nil {
			return fmt.Errorf("failed to grant %s: %w", p, err)
		}
	}
	return nil
}
