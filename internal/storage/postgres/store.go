package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"driftwatch/internal/config"
	"driftwatch/internal/models"
	"driftwatch/internal/storage"
)

// Querier is the common interface implemented by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is a Querier that can open transactions.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements the storage.TargetStore interface for PostgreSQL.
type PostgresStore struct {
	db    DB
	close func()
}

var _ storage.TargetStore = (*PostgresStore)(nil)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// New creates a connection pool from cfg, applies migrations and returns the store.
func New(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	if err := Migrate(ctx, cfg.URL); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &PostgresStore{db: pool, close: pool.Close}, nil
}

// NewWithDB wraps an existing pool or mock.
func NewWithDB(db DB) *PostgresStore {
	return &PostgresStore{db: db, close: func() {}}
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.close()
	return nil
}

func mapError(err error, entity, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %s: %w", entity, id, err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entity, id, storage.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s %s: %w", entity, id, storage.ErrDuplicateKey)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s %s: %w", entity, id, storage.ErrNotFound)
		}
	}
	return fmt.Errorf("%s %s: %w", entity, id, err)
}

// runInTx commits when fn succeeds and rolls back otherwise.
func (s *PostgresStore) runInTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %v)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func exec(ctx context.Context, q Querier, b sq.Sqlizer) (pgconn.CommandTag, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("build query: %w", err)
	}
	return q.Exec(ctx, query, args...)
}

// CreateTargets inserts all targets and their recommendations in one transaction.
func (s *PostgresStore) CreateTargets(ctx context.Context, targets []models.Target) error {
	return s.runInTx(ctx, func(q Querier) error {
		for _, t := range targets {
			insert := psql.Insert("monitoring_targets").
				Columns("id", "owner_id", "website_url", "page_url", "host", "last_content_hash",
					"title_hash", "description_hash", "body_hash", "body_length",
					"check_frequency", "last_checked_at", "next_check_at", "created_at").
				Values(t.ID, t.OwnerID, t.WebsiteURL, t.PageURL, t.Host, t.LastContentHash,
					t.Baseline.TitleHash, t.Baseline.DescriptionHash, t.Baseline.BodyHash, t.Baseline.BodyLength,
					string(t.CheckFrequency), t.LastCheckedAt, t.NextCheckAt, t.CreatedAt)
			if _, err := exec(ctx, q, insert); err != nil {
				return mapError(err, "target", t.ID)
			}
			if err := insertRecommendations(ctx, q, t.ID, 0, t.Recommendations); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertRecommendations(ctx context.Context, q Querier, targetID string, offset int, recs []models.Recommendation) error {
	if len(recs) == 0 {
		return nil
	}
	insert := psql.Insert("recommendations").
		Columns("target_id", "id", "position", "kind", "suggested_text", "applied", "applied_at")
	for i, r := range recs {
		insert = insert.Values(targetID, r.ID, offset+i, string(r.Kind), r.SuggestedText, r.Applied, r.AppliedAt)
	}
	if _, err := exec(ctx, q, insert); err != nil {
		return mapError(err, "recommendations of target", targetID)
	}
	return nil
}

var targetColumns = []string{
	"id", "owner_id", "website_url", "page_url", "host", "last_content_hash",
	"title_hash", "description_hash", "body_hash", "body_length",
	"check_frequency", "last_checked_at", "next_check_at", "created_at",
}

func scanTarget(row pgx.Row) (models.Target, error) {
	var t models.Target
	var freq string
	err := row.Scan(&t.ID, &t.OwnerID, &t.WebsiteURL, &t.PageURL, &t.Host, &t.LastContentHash,
		&t.Baseline.TitleHash, &t.Baseline.DescriptionHash, &t.Baseline.BodyHash, &t.Baseline.BodyLength,
		&freq, &t.LastCheckedAt, &t.NextCheckAt, &t.CreatedAt)
	t.CheckFrequency = models.Frequency(freq)
	return t, err
}

func (s *PostgresStore) queryTargets(ctx context.Context, b sq.SelectBuilder) ([]models.Target, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
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
		return nil, fmt.Errorf("failed to read target rows: %w", err)
	}
	rows.Close()

	if err := s.attachRecommendations(ctx, targets); err != nil {
		return nil, err
	}
	return targets, nil
}

func (s *PostgresStore) attachRecommendations(ctx context.Context, targets []models.Target) error {
	if len(targets) == 0 {
		return nil
	}
	index := make(map[string]int, len(targets))
	ids := make([]string, len(targets))
	for i, t := range targets {
		index[t.ID] = i
		ids[i] = t.ID
		targets[i].Recommendations = []models.Recommendation{}
	}

	query, args, err := psql.Select("target_id", "id", "kind", "suggested_text", "applied", "applied_at").
		From("recommendations").
		Where(sq.Eq{"target_id": ids}).
		OrderBy("target_id", "position").
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query recommendations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var targetID, kind string
		var r models.Recommendation
		if err := rows.Scan(&targetID, &r.ID, &kind, &r.SuggestedText, &r.Applied, &r.AppliedAt); err != nil {
			return fmt.Errorf("failed to scan recommendation row: %w", err)
		}
		r.Kind = models.RecommendationKind(kind)
		i := index[targetID]
		targets[i].Recommendations = append(targets[i].Recommendations, r)
	}
	return rows.Err()
}

// GetTarget implements the TargetStore interface.
func (s *PostgresStore) GetTarget(ctx context.Context, id string) (*models.Target, error) {
	query, args, err := psql.Select(targetColumns...).From("monitoring_targets").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	t, err := scanTarget(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapError(err, "target", id)
	}
	targets := []models.Target{t}
	if err := s.attachRecommendations(ctx, targets); err != nil {
		return nil, err
	}
	return &targets[0], nil
}

// ListTargets implements the TargetStore interface.
func (s *PostgresStore) ListTargets(ctx context.Context, params storage.ListTargetsParams) ([]models.Target, error) {
	b := psql.Select(targetColumns...).From("monitoring_targets").OrderBy("created_at", "id")
	if params.OwnerID != "" {
		b = b.Where(sq.Eq{"owner_id": params.OwnerID})
	}
	if params.WebsiteURL != "" {
		b = b.Where(sq.Eq{"website_url": params.WebsiteURL})
	}
	if !params.AfterTime.IsZero() && params.AfterID != "" {
		b = b.Where("(created_at, id) > (?, ?)", params.AfterTime, params.AfterID)
	}
	if params.Limit > 0 {
		b = b.Limit(uint64(params.Limit))
	}
	return s.queryTargets(ctx, b)
}

// ListDue implements the TargetStore interface.
func (s *PostgresStore) ListDue(ctx context.Context, now time.Time) ([]models.Target, error) {
	b := psql.Select(targetColumns...).From("monitoring_targets").
		Where(sq.LtOrEq{"next_check_at": now}).
		OrderBy("next_check_at", "id")
	return s.queryTargets(ctx, b)
}

// UpdateTarget commits hash, baseline, timestamps and applied flags in one
// transaction. applied_at keeps its first value.
func (s *PostgresStore) UpdateTarget(ctx context.Context, target *models.Target) error {
	return s.runInTx(ctx, func(q Querier) error {
		update := psql.Update("monitoring_targets").
			Set("last_content_hash", target.LastContentHash).
			Set("title_hash", target.Baseline.TitleHash).
			Set("description_hash", target.Baseline.DescriptionHash).
			Set("body_hash", target.Baseline.BodyHash).
			Set("body_length", target.Baseline.BodyLength).
			Set("last_checked_at", target.LastCheckedAt).
			Set("next_check_at", target.NextCheckAt).
			Where(sq.Eq{"id": target.ID})
		tag, err := exec(ctx, q, update)
		if err != nil {
			return mapError(err, "target", target.ID)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("target %s: %w", target.ID, storage.ErrNotFound)
		}

		for _, r := range target.Recommendations {
			if !r.Applied {
				continue
			}
			apply := psql.Update("recommendations").
				Set("applied", true).
				Set("applied_at", sq.Expr("COALESCE(applied_at, ?)", r.AppliedAt)).
				Where(sq.Eq{"target_id": target.ID, "id": r.ID, "applied": false})
			if _, err := exec(ctx, q, apply); err != nil {
				return mapError(err, "recommendation", r.ID)
			}
		}
		return nil
	})
}

// AddRecommendations implements the TargetStore interface.
func (s *PostgresStore) AddRecommendations(ctx context.Context, targetID string, recs []models.Recommendation) error {
	return s.runInTx(ctx, func(q Querier) error {
		// Lock the target row so concurrent appends get distinct positions.
		query, args, err := psql.Select("id").From("monitoring_targets").
			Where(sq.Eq{"id": targetID}).
			Suffix("FOR UPDATE").
			ToSql()
		if err != nil {
			return fmt.Errorf("build query: %w", err)
		}
		var id string
		if err := q.QueryRow(ctx, query, args...).Scan(&id); err != nil {
			return mapError(err, "target", targetID)
		}

		query, args, err = psql.Select("COALESCE(MAX(position) + 1, 0)").From("recommendations").
			Where(sq.Eq{"target_id": targetID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build query: %w", err)
		}
		var next int
		if err := q.QueryRow(ctx, query, args...).Scan(&next); err != nil {
			return fmt.Errorf("next recommendation position: %w", err)
		}
		return insertRecommendations(ctx, q, targetID, next, recs)
	})
}

// DeleteTarget implements the TargetStore interface.
func (s *PostgresStore) DeleteTarget(ctx context.Context, id string) error {
	tag, err := exec(ctx, s.db, psql.Delete("monitoring_targets").Where(sq.Eq{"id": id}))
	if err != nil {
		return mapError(err, "target", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("target %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// AppendResult implements the TargetStore interface.
func (s *PostgresStore) AppendResult(ctx context.Context, result *models.MonitoringResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	insert := psql.Insert("monitoring_results").
		Columns("id", "target_id", "checked_at", "content_changed", "new_content_hash",
			"changes_detected", "implemented_ids", "error_kind", "error").
		Values(result.ID, result.TargetID, result.CheckedAt, result.ContentChanged, result.NewContentHash,
			nonNil(result.ChangesDetected), nonNil(result.ImplementedRecommendationIDs), string(result.ErrorKind), result.Error)
	if _, err := exec(ctx, s.db, insert); err != nil {
		return mapError(err, "result", result.ID)
	}
	return nil
}

// ListResults implements the TargetStore interface.
func (s *PostgresStore) ListResults(ctx context.Context, params storage.ListResultsParams) ([]models.MonitoringResult, error) {
	b := psql.Select("id", "target_id", "checked_at", "content_changed", "new_content_hash",
		"changes_detected", "implemented_ids", "error_kind", "error").
		From("monitoring_results").
		Where(sq.Eq{"target_id": params.TargetID}).
		OrderBy("checked_at DESC", "id")
	if params.Since != nil {
		b = b.Where(sq.Gt{"checked_at": *params.Since})
	}
	if params.Limit > 0 {
		b = b.Limit(uint64(params.Limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	results := []models.MonitoringResult{}
	for rows.Next() {
		var r models.MonitoringResult
		var kind string
		if err := rows.Scan(&r.ID, &r.TargetID, &r.CheckedAt, &r.ContentChanged, &r.NewContentHash,
			&r.ChangesDetected, &r.ImplementedRecommendationIDs, &kind, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.ErrorKind = models.ErrorKind(kind)
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
