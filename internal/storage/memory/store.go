// Package memory is an in-process TargetStore. It backs tests and the
// "memory" database driver.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"driftwatch/internal/models"
	"driftwatch/internal/storage"
)

// Store keeps targets and results in maps guarded by one mutex, which gives
// every method atomic per-record read-modify-write semantics.
type Store struct {
	mu      sync.RWMutex
	targets map[string]models.Target
	results map[string][]models.MonitoringResult
}

var _ storage.TargetStore = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		targets: make(map[string]models.Target),
		results: make(map[string][]models.MonitoringResult),
	}
}

// CreateTargets inserts all targets or none. An owner monitors a page at
// most once.
func (s *Store) CreateTargets(ctx context.Context, targets []models.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pages := make(map[string]struct{}, len(s.targets)+len(targets))
	for _, t := range s.targets {
		pages[t.OwnerID+"\x00"+t.PageURL] = struct{}{}
	}
	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		if _, ok := s.targets[t.ID]; ok {
			return fmt.Errorf("target %s: %w", t.ID, storage.ErrDuplicateKey)
		}
		if _, ok := seen[t.ID]; ok {
			return fmt.Errorf("target %s: %w", t.ID, storage.ErrDuplicateKey)
		}
		key := t.OwnerID + "\x00" + t.PageURL
		if _, ok := pages[key]; ok {
			return fmt.Errorf("page %s already monitored: %w", t.PageURL, storage.ErrDuplicateKey)
		}
		seen[t.ID] = struct{}{}
		pages[key] = struct{}{}
	}
	for _, t := range targets {
		s.targets[t.ID] = t.Clone()
	}
	return nil
}

func (s *Store) GetTarget(ctx context.Context, id string) (*models.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.targets[id]
	if !ok {
		return nil, fmt.Errorf("target %s: %w", id, storage.ErrNotFound)
	}
	c := t.Clone()
	return &c, nil
}

func (s *Store) ListTargets(ctx context.Context, params storage.ListTargetsParams) ([]models.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var targets []models.Target
	for _, t := range s.targets {
		if params.OwnerID != "" && t.OwnerID != params.OwnerID {
			continue
		}
		if params.WebsiteURL != "" && t.WebsiteURL != params.WebsiteURL {
			continue
		}
		if !params.AfterTime.IsZero() && params.AfterID != "" {
			if t.CreatedAt.Before(params.AfterTime) ||
				(t.CreatedAt.Equal(params.AfterTime) && t.ID <= params.AfterID) {
				continue
			}
		}
		targets = append(targets, t.Clone())
	}

	sort.Slice(targets, func(i, j int) bool {
		if targets[i].CreatedAt.Equal(targets[j].CreatedAt) {
			return targets[i].ID < targets[j].ID
		}
		return targets[i].CreatedAt.Before(targets[j].CreatedAt)
	})

	if params.Limit > 0 && len(targets) > params.Limit {
		targets = targets[:params.Limit]
	}
	return targets, nil
}

// ListDue returns targets whose next check is at or before now, oldest due first.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]models.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []models.Target
	for _, t := range s.targets {
		if !t.NextCheckAt.After(now) {
			due = append(due, t.Clone())
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextCheckAt.Equal(due[j].NextCheckAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].NextCheckAt.Before(due[j].NextCheckAt)
	})
	return due, nil
}

// UpdateTarget commits the monitoring state of target. Recommendations not
// present in the stored record are ignored; applied flags only move forward.
func (s *Store) UpdateTarget(ctx context.Context, target *models.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.targets[target.ID]
	if !ok {
		return fmt.Errorf("target %s: %w", target.ID, storage.ErrNotFound)
	}
	stored = stored.Clone()

	stored.LastContentHash = target.LastContentHash
	stored.Baseline = target.Baseline
	stored.LastCheckedAt = target.LastCheckedAt
	stored.NextCheckAt = target.NextCheckAt

	applied := make(map[string]*time.Time)
	for _, r := range target.Recommendations {
		if r.Applied {
			applied[r.ID] = r.AppliedAt
		}
	}
	for i, r := range stored.Recommendations {
		at, ok := applied[r.ID]
		if !ok || r.Applied {
			continue
		}
		stored.Recommendations[i].Applied = true
		if at != nil {
			v := *at
			stored.Recommendations[i].AppliedAt = &v
		}
	}

	s.targets[target.ID] = stored
	return nil
}

func (s *Store) AddRecommendations(ctx context.Context, targetID string, recs []models.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.targets[targetID]
	if !ok {
		return fmt.Errorf("target %s: %w", targetID, storage.ErrNotFound)
	}

	ids := make(map[string]struct{}, len(stored.Recommendations)+len(recs))
	for _, r := range stored.Recommendations {
		ids[r.ID] = struct{}{}
	}
	for _, r := range recs {
		if _, dup := ids[r.ID]; dup {
			return fmt.Errorf("recommendation %s: %w", r.ID, storage.ErrDuplicateKey)
		}
		ids[r.ID] = struct{}{}
	}

	stored = stored.Clone()
	stored.Recommendations = append(stored.Recommendations, models.Target{Recommendations: recs}.Clone().Recommendations...)
	s.targets[targetID] = stored
	return nil
}

func (s *Store) DeleteTarget(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.targets[id]; !ok {
		return fmt.Errorf("target %s: %w", id, storage.ErrNotFound)
	}
	delete(s.targets, id)
	delete(s.results, id)
	return nil
}

func (s *Store) AppendResult(ctx context.Context, result *models.MonitoringResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	r := *result
	r.ChangesDetected = append([]string(nil), result.ChangesDetected...)
	r.ImplementedRecommendationIDs = append([]string(nil), result.ImplementedRecommendationIDs...)
	s.results[result.TargetID] = append(s.results[result.TargetID], r)
	return nil
}

func (s *Store) ListResults(ctx context.Context, params storage.ListResultsParams) ([]models.MonitoringResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.results[params.TargetID]
	results := make([]models.MonitoringResult, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if params.Since != nil && !all[i].CheckedAt.After(*params.Since) {
			continue
		}
		results = append(results, all[i])
		if params.Limit > 0 && len(results) == params.Limit {
			break
		}
	}
	return results, nil
}
