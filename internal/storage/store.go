package storage

import (
	"context"
	"errors"
	"time"

	"driftwatch/internal/models"
)

var (
	// ErrDuplicateKey is returned when attempting to create a duplicate resource
	ErrDuplicateKey = errors.New("duplicate")
	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("not found")
)

// ListTargetsParams filters and paginates target listings. Pagination is a
// keyset cursor over (created_at, id).
type ListTargetsParams struct {
	OwnerID    string
	WebsiteURL string
	AfterTime  time.Time
	AfterID    string
	Limit      int
}

// ListResultsParams selects the audit log of one target, newest first.
type ListResultsParams struct {
	TargetID string
	Since    *time.Time
	Limit    int
}

// TargetStore persists monitoring targets, their recommendations and the
// audit log of monitoring results.
//
// UpdateTarget must commit the content hash, baseline, check timestamps and
// recommendation applied flags of one target atomically. Applied flags are
// monotonic: an update never turns an applied recommendation back to pending.
type TargetStore interface {
	CreateTargets(ctx context.Context, targets []models.Target) error
	GetTarget(ctx context.Context, id string) (*models.Target, error)
	ListTargets(ctx context.Context, params ListTargetsParams) ([]models.Target, error)
	ListDue(ctx context.Context, now time.Time) ([]models.Target, error)
	UpdateTarget(ctx context.Context, target *models.Target) error
	AddRecommendations(ctx context.Context, targetID string, recs []models.Recommendation) error
	DeleteTarget(ctx context.Context, id string) error

	AppendResult(ctx context.Context, result *models.MonitoringResult) error
	ListResults(ctx context.Context, params ListResultsParams) ([]models.MonitoringResult, error)
}
