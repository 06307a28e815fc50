package checker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"driftwatch/internal/config"
	"driftwatch/internal/fetcher"
	"driftwatch/internal/models"
	"driftwatch/internal/monitor"
	"driftwatch/internal/notify"
	"driftwatch/internal/storage"
)

// ErrCheckInProgress is returned by CheckTarget when the target is already
// being checked.
var ErrCheckInProgress = errors.New("check already in progress")

// Notifier accepts notifications for asynchronous delivery.
type Notifier interface {
	Dispatch(n models.Notification) error
}

// Engine runs monitoring passes over the target store.
type Engine struct {
	store    storage.TargetStore
	fetcher  fetcher.Fetcher
	notifier Notifier
	claims   *claims
	log      *zap.Logger

	workers      int
	fetchTimeout time.Duration
	storeTimeout time.Duration
	passBudget   time.Duration
}

// NewEngine creates an Engine. cfg.PassInterval is the budget a pass should
// finish within; longer passes are reported as degraded.
func NewEngine(store storage.TargetStore, f fetcher.Fetcher, notifier Notifier, cfg config.MonitorConfig, log *zap.Logger) *Engine {
	return &Engine{
		store:        store,
		fetcher:      f,
		notifier:     notifier,
		claims:       newClaims(store, cfg.StoreTimeout),
		log:          log.Named("engine"),
		workers:      cfg.Workers,
		fetchTimeout: cfg.FetchTimeout,
		storeTimeout: cfg.StoreTimeout,
		passBudget:   cfg.PassInterval,
	}
}

// RunPass checks every target due at now. Individual failures are recorded
// in the summary and never stop the remaining targets.
func (e *Engine) RunPass(ctx context.Context, now time.Time) models.PassSummary {
	start := time.Now()
	summary := models.PassSummary{StartedAt: now, Failures: []models.TargetFailure{}}

	listCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	due, err := e.store.ListDue(listCtx, now)
	cancel()
	if err != nil {
		err = asPersistence(err)
		e.log.Error("failed to list due targets", zap.Error(err))
		summary.Errors = 1
		summary.Failures = append(summary.Failures, models.TargetFailure{
			Kind:    models.KindOf(err),
			Message: err.Error(),
		})
		summary.Duration = time.Since(start)
		return summary
	}

	if len(due) == 0 {
		e.log.Debug("no targets due")
		summary.Duration = time.Since(start)
		return summary
	}

	pool := newWorkerPool(ctx, e.workers, func(ctx context.Context, listed models.Target) outcome {
		target, release, err := e.claims.claim(ctx, listed.ID, now)
		switch {
		case errors.Is(err, ErrCheckInProgress), errors.Is(err, errNotDue), errors.Is(err, storage.ErrNotFound):
			e.log.Debug("target skipped", zap.String("target_id", listed.ID), zap.Error(err))
			return outcome{target: listed, skipped: true}
		case err != nil:
			return outcome{target: listed, err: err}
		}
		defer release()

		result, err := e.checkTarget(ctx, target, now)
		return outcome{target: target, result: result, err: err}
	})
	go func() {
		for _, t := range due {
			pool.Submit(t)
		}
		pool.Close()
	}()

	for o := range pool.Results() {
		switch {
		case o.skipped:
			summary.Skipped++
			continue
		case o.err != nil:
			summary.Errors++
			summary.Failures = append(summary.Failures, models.TargetFailure{
				TargetID: o.target.ID,
				Kind:     models.KindOf(o.err),
				Message:  o.err.Error(),
			})
		case o.result.AnyRecommendationImplemented:
			summary.Implemented++
			summary.Changed++
		case o.result.ContentChanged:
			summary.Changed++
		}
		summary.Checked++
	}

	sort.Slice(summary.Failures, func(i, j int) bool {
		return summary.Failures[i].TargetID < summary.Failures[j].TargetID
	})
	summary.Duration = time.Since(start)
	if e.passBudget > 0 && summary.Duration > e.passBudget {
		summary.Degraded = true
	}

	e.log.Info("monitoring pass finished",
		zap.Int("due", len(due)),
		zap.Int("checked", summary.Checked),
		zap.Int("changed", summary.Changed),
		zap.Int("implemented", summary.Implemented),
		zap.Int("errors", summary.Errors),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("duration", summary.Duration))
	return summary
}

// CheckTarget checks one target now, whether or not it is due.
func (e *Engine) CheckTarget(ctx context.Context, id string, now time.Time) (models.MonitoringResult, error) {
	target, release, err := e.claims.claim(ctx, id, time.Time{})
	if err != nil {
		return models.MonitoringResult{}, err
	}
	defer release()

	return e.checkTarget(ctx, target, now)
}

// checkTarget fetches, evaluates and commits one target. On failure the
// stored target is left untouched, so the next pass compares against the
// last committed baseline.
func (e *Engine) checkTarget(ctx context.Context, target models.Target, now time.Time) (models.MonitoringResult, error) {
	log := e.log.With(zap.String("target_id", target.ID), zap.String("page_url", target.PageURL))

	fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	snapshot, err := e.fetcher.Fetch(fetchCtx, target.PageURL)
	cancel()
	if err != nil {
		if k := models.KindOf(err); k != models.ErrorKindFetch && k != models.ErrorKindDecode {
			err = fmt.Errorf("%w: %v", models.ErrFetchFailure, err)
		}
		return e.fail(ctx, log, target, now, err), err
	}

	hash, err := monitor.Fingerprint(snapshot)
	if err != nil {
		return e.fail(ctx, log, target, now, err), err
	}

	updated := target.Clone()
	result := models.MonitoringResult{
		TargetID:                     target.ID,
		NewContentHash:               hash,
		ChangesDetected:              []string{},
		ImplementedRecommendationIDs: []string{},
		CheckedAt:                    now,
	}

	baseline := monitor.BaselineOf(snapshot)
	if monitor.Detect(target.LastContentHash, hash) {
		result.ContentChanged = true
		result.ChangesDetected = monitor.ChangeLabels(target.Baseline, baseline)

		for i, rec := range updated.Recommendations {
			if rec.Applied {
				continue
			}
			m := monitor.Score(snapshot.Body, rec.SuggestedText)
			log.Debug("recommendation scored",
				zap.String("recommendation_id", rec.ID),
				zap.Float64("ratio", m.Ratio()),
				zap.Bool("implemented", m.Implemented()))
			if !m.Implemented() {
				continue
			}
			at := now
			updated.Recommendations[i].Applied = true
			updated.Recommendations[i].AppliedAt = &at
			result.ImplementedRecommendationIDs = append(result.ImplementedRecommendationIDs, rec.ID)
		}
		result.AnyRecommendationImplemented = len(result.ImplementedRecommendationIDs) > 0
	}

	updated.LastContentHash = hash
	updated.Baseline = baseline
	updated.LastCheckedAt = now
	updated.NextCheckAt = now.Add(updated.CheckFrequency.Interval())

	storeCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	err = e.store.UpdateTarget(storeCtx, &updated)
	cancel()
	if err != nil {
		err = asPersistence(err)
		return e.fail(ctx, log, target, now, err), err
	}

	e.appendResult(ctx, log, &result)

	if n := notify.Decide(updated, result); n != nil {
		if err := e.notifier.Dispatch(*n); err != nil {
			log.Warn("notification not queued", zap.String("kind", string(n.Kind)), zap.Error(err))
		}
	}

	log.Debug("target checked",
		zap.Bool("content_changed", result.ContentChanged),
		zap.Strings("implemented", result.ImplementedRecommendationIDs),
		zap.Time("next_check_at", updated.NextCheckAt))
	return result, nil
}

// fail builds the error result of a pass that committed nothing.
func (e *Engine) fail(ctx context.Context, log *zap.Logger, target models.Target, now time.Time, err error) models.MonitoringResult {
	kind := models.KindOf(err)
	log.Warn("target check failed", zap.String("error_kind", string(kind)), zap.Error(err))

	result := models.MonitoringResult{
		TargetID:                     target.ID,
		NewContentHash:               target.LastContentHash,
		ChangesDetected:              []string{"Error: " + err.Error()},
		ImplementedRecommendationIDs: []string{},
		CheckedAt:                    now,
		ErrorKind:                    kind,
		Error:                        err.Error(),
	}
	e.appendResult(ctx, log, &result)
	return result
}

// appendResult records the audit entry. The audit log is best-effort and
// never affects the committed target state.
func (e *Engine) appendResult(ctx context.Context, log *zap.Logger, result *models.MonitoringResult) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.storeTimeout)
	defer cancel()
	if err := e.store.AppendResult(storeCtx, result); err != nil {
		log.Warn("failed to record monitoring result", zap.Error(err))
	}
}

func asPersistence(err error) error {
	if errors.Is(err, models.ErrPersistenceFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrPersistenceFailure, err)
}
