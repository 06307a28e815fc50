package monitor

import (
	"fmt"

	"driftwatch/internal/models"
)

// Change labels used in drift notifications.
const (
	LabelTitle       = "Title tag modified"
	LabelDescription = "Meta description modified"
	LabelBody        = "Page content modified"
)

// Detect reports whether content drifted from the stored hash.
// An empty oldHash means no baseline exists yet; the first check only
// establishes one and never reports drift.
func Detect(oldHash, newHash string) bool {
	if oldHash == "" {
		return false
	}
	return oldHash != newHash
}

// ChangeLabels describes which fields differ between two baselines.
// The result is advisory only.
func ChangeLabels(prev, next models.Baseline) []string {
	if prev.IsZero() {
		return []string{LabelBody}
	}

	var labels []string
	if prev.TitleHash != next.TitleHash {
		labels = append(labels, LabelTitle)
	}
	if prev.DescriptionHash != next.DescriptionHash {
		labels = append(labels, LabelDescription)
	}
	if prev.BodyHash != next.BodyHash {
		delta := next.BodyLength - prev.BodyLength
		switch {
		case delta > 0:
			labels = append(labels, fmt.Sprintf("%s (+%d characters)", LabelBody, delta))
		case delta < 0:
			labels = append(labels, fmt.Sprintf("%s (%d characters)", LabelBody, delta))
		default:
			labels = append(labels, LabelBody)
		}
	}
	if len(labels) == 0 {
		// Hash moved but no field digest did, e.g. after a serialization change.
		labels = append(labels, LabelBody)
	}
	return labels
}
