package checker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"driftwatch/internal/models"
	"driftwatch/internal/storage"
	"driftwatch/internal/urlutil"
)

// ScheduleInput describes a batch of pages to start monitoring.
// Recommendations is keyed by page URL; keys are canonicalized the same way
// as PageURLs.
type ScheduleInput struct {
	OwnerID         string
	WebsiteURL      string
	PageURLs        []string
	Frequency       models.Frequency
	Recommendations map[string][]models.Recommendation
}

// ScheduleTargets creates one target per page URL. The batch is validated
// as a whole and stored all-or-nothing. New targets have an empty content
// hash and are first due one interval after now.
func (e *Engine) ScheduleTargets(ctx context.Context, in ScheduleInput, now time.Time) ([]models.Target, error) {
	var errs []error
	if strings.TrimSpace(in.OwnerID) == "" {
		errs = append(errs, errors.New("owner_id is required"))
	}
	if !in.Frequency.IsValid() {
		errs = append(errs, fmt.Errorf("unknown check frequency %q", in.Frequency))
	}
	if len(in.PageURLs) == 0 {
		errs = append(errs, errors.New("at least one page url is required"))
	}

	type page struct{ site, url, host string }
	pages := make([]page, 0, len(in.PageURLs))
	seen := make(map[string]struct{}, len(in.PageURLs))
	for _, raw := range in.PageURLs {
		site, p, host, err := urlutil.SubResource(in.WebsiteURL, raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[p]; dup {
			errs = append(errs, fmt.Errorf("page %s listed twice", p))
			continue
		}
		seen[p] = struct{}{}
		pages = append(pages, page{site: site, url: p, host: host})
	}

	recsByPage := make(map[string][]models.Recommendation, len(in.Recommendations))
	for raw, recs := range in.Recommendations {
		p, err := urlutil.Canonicalize(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("recommendations for %q: %w", raw, err))
			continue
		}
		if _, ok := seen[p]; !ok {
			errs = append(errs, fmt.Errorf("recommendations for %s: page is not in the batch", p))
			continue
		}
		cleaned, err := prepareRecommendations(recs, nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("recommendations for %s: %w", p, err))
			continue
		}
		recsByPage[p] = append(recsByPage[p], cleaned...)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, err)
	}

	targets := make([]models.Target, 0, len(pages))
	for _, p := range pages {
		recs := recsByPage[p.url]
		if recs == nil {
			recs = []models.Recommendation{}
		}
		targets = append(targets, models.Target{
			ID:              uuid.NewString(),
			OwnerID:         in.OwnerID,
			WebsiteURL:      p.site,
			PageURL:         p.url,
			Host:            p.host,
			CheckFrequency:  in.Frequency,
			LastCheckedAt:   now,
			NextCheckAt:     now.Add(in.Frequency.Interval()),
			CreatedAt:       now,
			Recommendations: recs,
		})
	}

	storeCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	if err := e.store.CreateTargets(storeCtx, targets); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, err
		}
		return nil, asPersistence(err)
	}

	e.log.Info("targets scheduled",
		zap.String("owner_id", in.OwnerID),
		zap.String("website_url", targets[0].WebsiteURL),
		zap.Int("pages", len(targets)),
		zap.String("frequency", in.Frequency.String()))
	return targets, nil
}

// AddRecommendations attaches new pending recommendations to an existing
// target and returns the updated target.
func (e *Engine) AddRecommendations(ctx context.Context, targetID string, recs []models.Recommendation) (*models.Target, error) {
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: at least one recommendation is required", models.ErrValidation)
	}

	storeCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	target, err := e.store.GetTarget(storeCtx, targetID)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]struct{}, len(target.Recommendations))
	for _, r := range target.Recommendations {
		existing[r.ID] = struct{}{}
	}

	cleaned, err := prepareRecommendations(recs, existing)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, err)
	}
	if err := e.store.AddRecommendations(storeCtx, targetID, cleaned); err != nil {
		return nil, err
	}
	return e.store.GetTarget(storeCtx, targetID)
}

// prepareRecommendations validates recs and returns pending copies. Missing
// ids are generated; ids may not repeat within recs or collide with existing.
func prepareRecommendations(recs []models.Recommendation, existing map[string]struct{}) ([]models.Recommendation, error) {
	var errs []error
	out := make([]models.Recommendation, 0, len(recs))
	seen := make(map[string]struct{}, len(recs))
	for i, r := range recs {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if !r.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("recommendation %d: unknown kind %q", i, r.Kind))
		}
		if strings.TrimSpace(r.SuggestedText) == "" {
			errs = append(errs, fmt.Errorf("recommendation %d: suggested_text is empty", i))
		}
		if _, dup := seen[r.ID]; dup {
			errs = append(errs, fmt.Errorf("recommendation %d: duplicate id %q", i, r.ID))
		}
		if _, dup := existing[r.ID]; dup {
			errs = append(errs, fmt.Errorf("recommendation %d: id %q already exists", i, r.ID))
		}
		seen[r.ID] = struct{}{}
		r.Applied = false
		r.AppliedAt = nil
		out = append(out, r)
	}
	return out, errors.Join(errs...)
}
