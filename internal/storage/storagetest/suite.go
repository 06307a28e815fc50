// Package storagetest holds behavior tests shared by every TargetStore
// implementation.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftwatch/internal/models"
	"driftwatch/internal/storage"
)

var base = time.Date(2024, 3, 10, 8, 30, 0, 123456789, time.UTC)

func target(id, owner, page string, created time.Time) models.Target {
	return models.Target{
		ID:             id,
		OwnerID:        owner,
		WebsiteURL:     "https://example.com",
		PageURL:        page,
		Host:           "example.com",
		CheckFrequency: models.FrequencyDaily,
		LastCheckedAt:  created,
		NextCheckAt:    created.Add(24 * time.Hour),
		CreatedAt:      created,
		Recommendations: []models.Recommendation{
			{ID: id + "-r1", Kind: models.RecommendationSEO, SuggestedText: "first suggestion"},
			{ID: id + "-r2", Kind: models.RecommendationContent, SuggestedText: "second suggestion"},
		},
	}
}

// Run exercises store. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.TargetStore) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		want := target("t1", "o1", "https://example.com/a", base)
		require.NoError(t, s.CreateTargets(ctx, []models.Target{want}))

		got, err := s.GetTarget(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, want.OwnerID, got.OwnerID)
		assert.Equal(t, want.PageURL, got.PageURL)
		assert.Equal(t, want.Host, got.Host)
		assert.Equal(t, models.FrequencyDaily, got.CheckFrequency)
		assert.True(t, got.NextCheckAt.Equal(want.NextCheckAt))
		assert.True(t, got.CreatedAt.Equal(want.CreatedAt))
		assert.Equal(t, "", got.LastContentHash)
		require.Len(t, got.Recommendations, 2)
		assert.Equal(t, "t1-r1", got.Recommendations[0].ID)
		assert.Equal(t, "t1-r2", got.Recommendations[1].ID)
		assert.False(t, got.Recommendations[0].Applied)

		_, err = s.GetTarget(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("create is all or nothing", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateTargets(ctx, []models.Target{target("t1", "o1", "https://example.com/a", base)}))

		err := s.CreateTargets(ctx, []models.Target{
			target("t2", "o1", "https://example.com/b", base),
			target("t3", "o1", "https://example.com/a", base),
		})
		assert.ErrorIs(t, err, storage.ErrDuplicateKey)

		_, err = s.GetTarget(ctx, "t2")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		// Another owner may monitor the same page.
		require.NoError(t, s.CreateTargets(ctx, []models.Target{target("t4", "o2", "https://example.com/a", base)}))
	})

	t.Run("list with filters and cursor", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateTargets(ctx, []models.Target{
			target("t1", "o1", "https://example.com/a", base),
			target("t2", "o1", "https://example.com/b", base.Add(time.Second)),
			target("t3", "o2", "https://example.com/c", base.Add(2*time.Second)),
			target("t0", "o1", "https://example.com/d", base),
		}))

		all, err := s.ListTargets(ctx, storage.ListTargetsParams{})
		require.NoError(t, err)
		assert.Equal(t, []string{"t0", "t1", "t2", "t3"}, ids(all))

		owned, err := s.ListTargets(ctx, storage.ListTargetsParams{OwnerID: "o1", Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"t0", "t1"}, ids(owned))
		require.Len(t, owned[0].Recommendations, 2)

		last := owned[len(owned)-1]
		next, err := s.ListTargets(ctx, storage.ListTargetsParams{OwnerID: "o1", AfterTime: last.CreatedAt, AfterID: last.ID, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"t2"}, ids(next))

		none, err := s.ListTargets(ctx, storage.ListTargetsParams{WebsiteURL: "https://other.com"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("list due", func(t *testing.T) {
		s := newStore(t)
		early := target("t1", "o1", "https://example.com/a", base)
		late := target("t2", "o1", "https://example.com/b", base.Add(time.Hour))
		require.NoError(t, s.CreateTargets(ctx, []models.Target{late, early}))

		due, err := s.ListDue(ctx, early.NextCheckAt)
		require.NoError(t, err)
		assert.Equal(t, []string{"t1"}, ids(due))

		due, err = s.ListDue(ctx, late.NextCheckAt.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, []string{"t1", "t2"}, ids(due))

		due, err = s.ListDue(ctx, base)
		require.NoError(t, err)
		assert.Empty(t, due)
	})

	t.Run("update commits state and keeps applied monotonic", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateTargets(ctx, []models.Target{target("t1", "o1", "https://example.com/a", base)}))

		checked := base.Add(24 * time.Hour)
		got, err := s.GetTarget(ctx, "t1")
		require.NoError(t, err)
		got.LastContentHash = "h1"
		got.Baseline = models.Baseline{TitleHash: "a", DescriptionHash: "b", BodyHash: "c", BodyLength: 42}
		got.LastCheckedAt = checked
		got.NextCheckAt = checked.Add(24 * time.Hour)
		got.Recommendations[0].Applied = true
		got.Recommendations[0].AppliedAt = &checked
		require.NoError(t, s.UpdateTarget(ctx, got))

		got, err = s.GetTarget(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "h1", got.LastContentHash)
		assert.Equal(t, 42, got.Baseline.BodyLength)
		assert.True(t, got.LastCheckedAt.Equal(checked))
		assert.True(t, got.Recommendations[0].Applied)
		require.NotNil(t, got.Recommendations[0].AppliedAt)
		assert.True(t, got.Recommendations[0].AppliedAt.Equal(checked))
		assert.False(t, got.Recommendations[1].Applied)

		// A stale copy cannot un-apply or re-date a recommendation.
		later := checked.Add(time.Hour)
		got.LastContentHash = "h2"
		got.Recommendations[0].Applied = false
		got.Recommendations[0].AppliedAt = nil
		got.Recommendations[1].Applied = true
		got.Recommendations[1].AppliedAt = &later
		require.NoError(t, s.UpdateTarget(ctx, got))

		got, err = s.GetTarget(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "h2", got.LastContentHash)
		assert.True(t, got.Recommendations[0].Applied)
		assert.True(t, got.Recommendations[0].AppliedAt.Equal(checked))
		assert.True(t, got.Recommendations[1].Applied)

		missing := target("nope", "o1", "https://example.com/z", base)
		assert.ErrorIs(t, s.UpdateTarget(ctx, &missing), storage.ErrNotFound)
	})

	t.Run("add recommendations", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateTargets(ctx, []models.Target{target("t1", "o1", "https://example.com/a", base)}))

		err := s.AddRecommendations(ctx, "t1", []models.Recommendation{
			{ID: "new", Kind: models.RecommendationLLMO, SuggestedText: "third suggestion"},
		})
		require.NoError(t, err)

		got, err := s.GetTarget(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, got.Recommendations, 3)
		assert.Equal(t, "new", got.Recommendations[2].ID)
		assert.Equal(t, models.RecommendationLLMO, got.Recommendations[2].Kind)

		err = s.AddRecommendations(ctx, "t1", []models.Recommendation{
			{ID: "new", Kind: models.RecommendationSEO, SuggestedText: "again"},
		})
		assert.ErrorIs(t, err, storage.ErrDuplicateKey)

		err = s.AddRecommendations(ctx, "missing", []models.Recommendation{
			{ID: "x", Kind: models.RecommendationSEO, SuggestedText: "x"},
		})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("results audit log", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateTargets(ctx, []models.Target{target("t1", "o1", "https://example.com/a", base)}))

		for i := 0; i < 3; i++ {
			r := &models.MonitoringResult{
				TargetID:                     "t1",
				ContentChanged:               i > 0,
				NewContentHash:               "h",
				ChangesDetected:              []string{"Page content modified"},
				ImplementedRecommendationIDs: []string{},
				CheckedAt:                    base.Add(time.Duration(i) * time.Hour),
			}
			if i == 2 {
				r.ImplementedRecommendationIDs = []string{"t1-r1"}
				r.AnyRecommendationImplemented = true
			}
			require.NoError(t, s.AppendResult(ctx, r))
			assert.NotEmpty(t, r.ID)
		}
		require.NoError(t, s.AppendResult(ctx, &models.MonitoringResult{
			TargetID:        "t1",
			ChangesDetected: []string{"Error: timeout"},
			CheckedAt:       base.Add(3 * time.Hour),
			ErrorKind:       models.ErrorKindFetch,
			Error:           "timeout",
		}))

		results, err := s.ListResults(ctx, storage.ListResultsParams{TargetID: "t1"})
		require.NoError(t, err)
		require.Len(t, results, 4)
		assert.True(t, results[0].Failed())
		assert.Equal(t, models.ErrorKindFetch, results[0].ErrorKind)
		assert.True(t, results[1].AnyRecommendationImplemented)
		assert.Equal(t, []string{"t1-r1"}, results[1].ImplementedRecommendationIDs)
		assert.True(t, results[3].CheckedAt.Equal(base))

		since := base.Add(time.Hour)
		recent, err := s.ListResults(ctx, storage.ListResultsParams{TargetID: "t1", Since: &since, Limit: 1})
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.True(t, recent[0].CheckedAt.Equal(base.Add(3*time.Hour)))
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateTargets(ctx, []models.Target{target("t1", "o1", "https://example.com/a", base)}))
		require.NoError(t, s.AppendResult(ctx, &models.MonitoringResult{TargetID: "t1", CheckedAt: base}))

		require.NoError(t, s.DeleteTarget(ctx, "t1"))
		_, err := s.GetTarget(ctx, "t1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, s.DeleteTarget(ctx, "t1"), storage.ErrNotFound)

		results, err := s.ListResults(ctx, storage.ListResultsParams{TargetID: "t1"})
		require.NoError(t, err)
		assert.Empty(t, results)

		// The page can be scheduled again after deletion.
		require.NoError(t, s.CreateTargets(ctx, []models.Target{target("t2", "o1", "https://example.com/a", base)}))
	})
}

func ids(targets []models.Target) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		out = append(out, t.ID)
	}
	return out
}
