// Package notify decides which alert a monitoring result warrants and
// delivers it asynchronously to one or more channels.
package notify

import (
	"driftwatch/internal/models"
)

// Decide returns the notification for one target's result, or nil when the
// page did not change. An implementation success takes precedence over a
// drift alert, so at most one notification exists per result.
func Decide(target models.Target, result models.MonitoringResult) *models.Notification {
	if result.Failed() {
		return nil
	}

	switch {
	case result.AnyRecommendationImplemented:
		implemented := make(map[string]struct{}, len(result.ImplementedRecommendationIDs))
		for _, id := range result.ImplementedRecommendationIDs {
			implemented[id] = struct{}{}
		}
		recs := make([]map[string]any, 0, len(implemented))
		for _, r := range target.Recommendations {
			if _, ok := implemented[r.ID]; ok {
				recs = append(recs, map[string]any{
					"id":             r.ID,
					"kind":           string(r.Kind),
					"suggested_text": r.SuggestedText,
				})
			}
		}
		return &models.Notification{
			Kind:     models.NotificationImplemented,
			TargetID: target.ID,
			Payload: map[string]any{
				"owner_id":                    target.OwnerID,
				"page_url":                    target.PageURL,
				"implemented_recommendations": append([]string(nil), result.ImplementedRecommendationIDs...),
				"recommendations":             recs,
				"changes_detected":            append([]string(nil), result.ChangesDetected...),
			},
			Timestamp: result.CheckedAt,
		}

	case result.ContentChanged:
		return &models.Notification{
			Kind:     models.NotificationContentChange,
			TargetID: target.ID,
			Payload: map[string]any{
				"owner_id":         target.OwnerID,
				"page_url":         target.PageURL,
				"changes_detected": append([]string(nil), result.ChangesDetected...),
				"pending_count":    target.PendingCount(),
			},
			Timestamp: result.CheckedAt,
		}
	}
	return nil
}
