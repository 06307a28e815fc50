package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"driftwatch/internal/models"
	"driftwatch/internal/storage"
)

// timeLayout is fixed-width so that stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the storage.TargetStore interface for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ storage.TargetStore = (*SQLiteStore)(nil)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLiteStore and establishes a connection to the database file.
// It also runs migrations to ensure the schema is up to date.
func New(ctx context.Context, dataSourceName string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dataSourceName)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// SQLite allows a single writer; serializing connections avoids SQLITE_BUSY on tx upgrade.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// migrate ensures the database schema is created.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS monitoring_targets (
	id                TEXT PRIMARY KEY,
	owner_id          TEXT NOT NULL,
	website_url       TEXT NOT NULL,
	page_url          TEXT NOT NULL,
	host              TEXT NOT NULL,
	last_content_hash TEXT NOT NULL DEFAULT '',
	title_hash        TEXT NOT NULL DEFAULT '',
	description_hash  TEXT NOT NULL DEFAULT '',
	body_hash         TEXT NOT NULL DEFAULT '',
	body_length       INTEGER NOT NULL DEFAULT 0,
	check_frequency   TEXT NOT NULL,
	last_checked_at   TEXT NOT NULL,
	next_check_at     TEXT NOT NULL,
	created_at        TEXT NOT NULL,
	UNIQUE (owner_id, page_url)
);
CREATE INDEX IF NOT EXISTS idx_monitoring_targets_next_check_at ON monitoring_targets (next_check_at);
CREATE INDEX IF NOT EXISTS idx_monitoring_targets_created_at_id ON monitoring_targets (created_at, id);

CREATE TABLE IF NOT EXISTS recommendations (
	target_id      TEXT NOT NULL,
	id             TEXT NOT NULL,
	position       INTEGER NOT NULL,
	kind           TEXT NOT NULL,
	suggested_text TEXT NOT NULL,
	applied        INTEGER NOT NULL DEFAULT 0,
	applied_at     TEXT,
	PRIMARY KEY (target_id, id),
	FOREIGN KEY(target_id) REFERENCES monitoring_targets(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS monitoring_results (
	id               TEXT PRIMARY KEY,
	target_id        TEXT NOT NULL,
	checked_at       TEXT NOT NULL,
	content_changed  INTEGER NOT NULL,
	new_content_hash TEXT NOT NULL,
	changes_detected TEXT NOT NULL,
	implemented_ids  TEXT NOT NULL,
	error_kind       TEXT NOT NULL DEFAULT '',
	error            TEXT NOT NULL DEFAULT '',
	FOREIGN KEY(target_id) REFERENCES monitoring_targets(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_monitoring_results_target_id_checked_at ON monitoring_results (target_id, checked_at DESC);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func mapError(err error, entity, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entity, id, storage.ErrNotFound)
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY constraint failed") {
		return fmt.Errorf("%s %s: %w", entity, id, storage.ErrDuplicateKey)
	}
	if strings.Contains(msg, "FOREIGN KEY constraint failed") {
		return fmt.Errorf("%s %s: %w", entity, id, storage.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", entity, id, err)
}

// CreateTargets inserts all targets and their recommendations in one transaction.
func (s *SQLiteStore) CreateTargets(ctx context.Context, targets []models.Target) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
INSERT INTO monitoring_targets (id, owner_id, website_url, page_url, host, last_content_hash,
	title_hash, description_hash, body_hash, body_length, check_frequency, last_checked_at, next_check_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, t := range targets {
		_, err := tx.ExecContext(ctx, query, t.ID, t.OwnerID, t.WebsiteURL, t.PageURL, t.Host, t.LastContentHash,
			t.Baseline.TitleHash, t.Baseline.DescriptionHash, t.Baseline.BodyHash, t.Baseline.BodyLength,
			string(t.CheckFrequency), formatTime(t.LastCheckedAt), formatTime(t.NextCheckAt), formatTime(t.CreatedAt))
		if err != nil {
			return mapError(err, "target", t.ID)
		}
		if err := insertRecommendations(ctx, tx, t.ID, 0, t.Recommendations); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertRecommendations(ctx context.Context, q queryer, targetID string, offset int, recs []models.Recommendation) error {
	query := `INSERT INTO recommendations (target_id, id, position, kind, suggested_text, applied, applied_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	for i, r := range recs {
		var appliedAt any
		if r.AppliedAt != nil {
			appliedAt = formatTime(*r.AppliedAt)
		}
		if _, err := q.ExecContext(ctx, query, targetID, r.ID, offset+i, string(r.Kind), r.SuggestedText, r.Applied, appliedAt); err != nil {
			return mapError(err, "recommendation", r.ID)
		}
	}
	return nil
}

const targetColumns = `id, owner_id, website_url, page_url, host, last_content_hash, title_hash, description_hash,
	body_hash, body_length, check_frequency, last_checked_at, next_check_at, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTarget(row scanner) (models.Target, error) {
	var t models.Target
	var freq, lastChecked, nextCheck, created string
	err := row.Scan(&t.ID, &t.OwnerID, &t.WebsiteURL, &t.PageURL, &t.Host, &t.LastContentHash,
		&t.Baseline.TitleHash, &t.Baseline.DescriptionHash, &t.Baseline.BodyHash, &t.Baseline.BodyLength,
		&freq, &lastChecked, &nextCheck, &created)
	if err != nil {
		return t, err
	}
	t.CheckFrequency = models.Frequency(freq)
	t.LastCheckedAt = parseTime(lastChecked)
	t.NextCheckAt = parseTime(nextCheck)
	t.CreatedAt = parseTime(created)
	return t, nil
}

func (s *SQLiteStore) queryTargets(ctx context.Context, query string, args ...any) ([]models.Target, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query targets: %w", err)
	}
	defer rows.Close()

	var targets []models.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan target row: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachRecommendations(ctx, targets); err != nil {
		return nil, err
	}
	return targets, nil
}

// attachRecommendations loads the recommendations of all targets in one query.
func (s *SQLiteStore) attachRecommendations(ctx context.Context, targets []models.Target) error {
	if len(targets) == 0 {
		return nil
	}
	index := make(map[string]int, len(targets))
	args := make([]any, len(targets))
	for i, t := range targets {
		index[t.ID] = i
		args[i] = t.ID
		targets[i].Recommendations = []models.Recommendation{}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(targets)), ",")
	query := `SELECT target_id, id, kind, suggested_text, applied, applied_at FROM recommendations
WHERE target_id IN (` + placeholders + `) ORDER BY target_id, position`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query recommendations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var targetID, kind string
		var r models.Recommendation
		var appliedAt sql.NullString
		if err := rows.Scan(&targetID, &r.ID, &kind, &r.SuggestedText, &r.Applied, &appliedAt); err != nil {
			return fmt.Errorf("failed to scan recommendation row: %w", err)
		}
		r.Kind = models.RecommendationKind(kind)
		if appliedAt.Valid {
			at := parseTime(appliedAt.String)
			r.AppliedAt = &at
		}
		i := index[targetID]
		targets[i].Recommendations = append(targets[i].Recommendations, r)
	}
	return rows.Err()
}

// GetTarget retrieves a single target by its unique ID.
func (s *SQLiteStore) GetTarget(ctx context.Context, id string) (*models.Target, error) {
	query := `SELECT ` + targetColumns + ` FROM monitoring_targets WHERE id = ?`
	t, err := scanTarget(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err, "target", id)
	}
	targets := []models.Target{t}
	if err := s.attachRecommendations(ctx, targets); err != nil {
		return nil, err
	}
	return &targets[0], nil
}

// ListTargets retrieves a paginated list of targets.
func (s *SQLiteStore) ListTargets(ctx context.Context, params storage.ListTargetsParams) ([]models.Target, error) {
	var args []any
	qb := strings.Builder{}
	qb.WriteString("SELECT " + targetColumns + " FROM monitoring_targets WHERE 1=1")
	if params.OwnerID != "" {
		args = append(args, params.OwnerID)
		qb.WriteString(" AND owner_id = ?")
	}
	if params.WebsiteURL != "" {
		args = append(args, params.WebsiteURL)
		qb.WriteString(" AND website_url = ?")
	}
	if !params.AfterTime.IsZero() && params.AfterID != "" {
		args = append(args, formatTime(params.AfterTime), params.AfterID)
		qb.WriteString(" AND (created_at, id) > (?, ?)")
	}
	qb.WriteString(" ORDER BY created_at, id")
	if params.Limit > 0 {
		args = append(args, params.Limit)
		qb.WriteString(" LIMIT ?")
	}
	return s.queryTargets(ctx, qb.String(), args...)
}

// ListDue retrieves targets whose next check is at or before now.
func (s *SQLiteStore) ListDue(ctx context.Context, now time.Time) ([]models.Target, error) {
	query := `SELECT ` + targetColumns + ` FROM monitoring_targets WHERE next_check_at <= ? ORDER BY next_check_at, id`
	return s.queryTargets(ctx, query, formatTime(now))
}

// UpdateTarget commits hash, baseline, timestamps and applied flags in one transaction.
func (s *SQLiteStore) UpdateTarget(ctx context.Context, target *models.Target) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
UPDATE monitoring_targets SET last_content_hash = ?, title_hash = ?, description_hash = ?, body_hash = ?,
	body_length = ?, last_checked_at = ?, next_check_at = ?
WHERE id = ?`
	res, err := tx.ExecContext(ctx, query, target.LastContentHash, target.Baseline.TitleHash, target.Baseline.DescriptionHash,
		target.Baseline.BodyHash, target.Baseline.BodyLength, formatTime(target.LastCheckedAt), formatTime(target.NextCheckAt), target.ID)
	if err != nil {
		return mapError(err, "target", target.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("target %s: %w", target.ID, storage.ErrNotFound)
	}

	applyQuery := `UPDATE recommendations SET applied = 1, applied_at = ? WHERE target_id = ? AND id = ? AND applied = 0`
	for _, r := range target.Recommendations {
		if !r.Applied {
			continue
		}
		var appliedAt any
		if r.AppliedAt != nil {
			appliedAt = formatTime(*r.AppliedAt)
		}
		if _, err := tx.ExecContext(ctx, applyQuery, appliedAt, target.ID, r.ID); err != nil {
			return mapError(err, "recommendation", r.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AddRecommendations appends recommendations after the existing ones.
func (s *SQLiteStore) AddRecommendations(ctx context.Context, targetID string, recs []models.Recommendation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	err = tx.QueryRowContext(ctx, `
SELECT COALESCE((SELECT MAX(position) + 1 FROM recommendations WHERE target_id = t.id), 0)
FROM monitoring_targets t WHERE t.id = ?`, targetID).Scan(&next)
	if err != nil {
		return mapError(err, "target", targetID)
	}
	if err := insertRecommendations(ctx, tx, targetID, next, recs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteTarget removes a target; recommendations and results cascade.
func (s *SQLiteStore) DeleteTarget(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM monitoring_targets WHERE id = ?`, id)
	if err != nil {
		return mapError(err, "target", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("target %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// AppendResult saves a monitoring result to the audit log.
func (s *SQLiteStore) AppendResult(ctx context.Context, result *models.MonitoringResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	changes, err := json.Marshal(nonNil(result.ChangesDetected))
	if err != nil {
		return fmt.Errorf("failed to encode changes: %w", err)
	}
	implemented, err := json.Marshal(nonNil(result.ImplementedRecommendationIDs))
	if err != nil {
		return fmt.Errorf("failed to encode implemented ids: %w", err)
	}

	query := `
INSERT INTO monitoring_results (id, target_id, checked_at, content_changed, new_content_hash, changes_detected,
	implemented_ids, error_kind, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query, result.ID, result.TargetID, formatTime(result.CheckedAt), result.ContentChanged,
		result.NewContentHash, string(changes), string(implemented), string(result.ErrorKind), result.Error)
	if err != nil {
		return mapError(err, "result", result.ID)
	}
	return nil
}

// ListResults retrieves recent results for a target, newest first.
func (s *SQLiteStore) ListResults(ctx context.Context, params storage.ListResultsParams) ([]models.MonitoringResult, error) {
	args := []any{params.TargetID}
	qb := strings.Builder{}
	qb.WriteString(`SELECT id, target_id, checked_at, content_changed, new_content_hash, changes_detected, implemented_ids,
	error_kind, error FROM monitoring_results WHERE target_id = ?`)
	if params.Since != nil {
		args = append(args, formatTime(*params.Since))
		qb.WriteString(" AND checked_at > ?")
	}
	qb.WriteString(" ORDER BY checked_at DESC, id")
	if params.Limit > 0 {
		args = append(args, params.Limit)
		qb.WriteString(" LIMIT ?")
	}

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	results := []models.MonitoringResult{}
	for rows.Next() {
		var r models.MonitoringResult
		var checkedAt, changes, implemented, kind string
		if err := rows.Scan(&r.ID, &r.TargetID, &checkedAt, &r.ContentChanged, &r.NewContentHash, &changes,
			&implemented, &kind, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		r.CheckedAt = parseTime(checkedAt)
		r.ErrorKind = models.ErrorKind(kind)
		if err := json.Unmarshal([]byte(changes), &r.ChangesDetected); err != nil {
			return nil, fmt.Errorf("failed to decode changes: %w", err)
		}
		if err := json.Unmarshal([]byte(implemented), &r.ImplementedRecommendationIDs); err != nil {
			return nil, fmt.Errorf("failed to decode implemented ids: %w", err)
		}
		r.AnyRecommendationImplemented = len(r.ImplementedRecommendationIDs) > 0
		results = append(results, r)
	}
	return results, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
