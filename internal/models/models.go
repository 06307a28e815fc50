package models

import (
	"fmt"
	"time"
)

// Frequency is how often a target is re-checked.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func (f Frequency) String() string { return string(f) }

func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// Interval returns the fixed, calendar-naive duration between two checks.
// It returns zero for an unknown frequency.
func (f Frequency) Interval() time.Duration {
	switch f {
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	case FrequencyMonthly:
		return 30 * 24 * time.Hour
	}
	return 0
}

// ParseFrequency validates a raw frequency string.
func ParseFrequency(raw string) (Frequency, error) {
	f := Frequency(raw)
	if !f.IsValid() {
		return "", fmt.Errorf("%w: unknown check frequency %q", ErrValidation, raw)
	}
	return f, nil
}

// RecommendationKind classifies a recommendation.
type RecommendationKind string

const (
	RecommendationSEO     RecommendationKind = "seo"
	RecommendationLLMO    RecommendationKind = "llmo"
	RecommendationContent RecommendationKind = "content"
)

func (k RecommendationKind) IsValid() bool {
	switch k {
	case RecommendationSEO, RecommendationLLMO, RecommendationContent:
		return true
	}
	return false
}

// Recommendation is one outstanding content edit tied to a Target.
// Applied is monotonic: once true it is never reset.
type Recommendation struct {
	ID            string             `json:"id"`
	Kind          RecommendationKind `json:"kind"`
	SuggestedText string             `json:"suggested_text"`
	Applied       bool               `json:"applied"`
	AppliedAt     *time.Time         `json:"applied_at,omitempty"`
}

// Baseline holds per-field digests of the last committed snapshot.
// It only feeds advisory change labels.
type Baseline struct {
	TitleHash       string `json:"title_hash,omitempty"`
	DescriptionHash string `json:"description_hash,omitempty"`
	BodyHash        string `json:"body_hash,omitempty"`
	BodyLength      int    `json:"body_length,omitempty"`
}

// IsZero reports whether no snapshot has been recorded yet.
func (b Baseline) IsZero() bool {
	return b == Baseline{}
}

// Target is one (owner, website, page) monitoring subscription.
type Target struct {
	ID              string           `json:"id"`
	OwnerID         string           `json:"owner_id"`
	WebsiteURL      string           `json:"website_url"`
	PageURL         string           `json:"page_url"`
	Host            string           `json:"-"`
	LastContentHash string           `json:"last_content_hash"`
	Baseline        Baseline         `json:"-"`
	CheckFrequency  Frequency        `json:"check_frequency"`
	LastCheckedAt   time.Time        `json:"last_checked_at"`
	NextCheckAt     time.Time        `json:"next_check_at"`
	CreatedAt       time.Time        `json:"created_at"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Clone returns a deep copy so callers can mutate recommendations freely.
func (t Target) Clone() Target {
	c := t
	if t.Recommendations != nil {
		c.Recommendations = make([]Recommendation, len(t.Recommendations))
		for i, r := range t.Recommendations {
			if r.AppliedAt != nil {
				at := *r.AppliedAt
				r.AppliedAt = &at
			}
			c.Recommendations[i] = r
		}
	}
	return c
}

// PendingCount returns how many recommendations are not yet applied.
func (t Target) PendingCount() int {
	n := 0
	for _, r := range t.Recommendations {
		if !r.Applied {
			n++
		}
	}
	return n
}

// PageSnapshot is the fetched {title, description, body} triple of a page.
type PageSnapshot struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Body        string `json:"body"`
}

// MonitoringResult is the outcome of one target's check within a pass.
type MonitoringResult struct {
	ID                           string    `json:"id"`
	TargetID                     string    `json:"target_id"`
	ContentChanged               bool      `json:"content_changed"`
	NewContentHash               string    `json:"new_content_hash"`
	ChangesDetected              []string  `json:"changes_detected"`
	ImplementedRecommendationIDs []string  `json:"implemented_recommendation_ids"`
	AnyRecommendationImplemented bool      `json:"any_recommendation_implemented"`
	CheckedAt                    time.Time `json:"checked_at"`
	ErrorKind                    ErrorKind `json:"error_kind,omitempty"`
	Error                        string    `json:"error,omitempty"`
}

// Failed reports whether the check did not commit.
func (r MonitoringResult) Failed() bool { return r.Error != "" }

// NotificationKind names the two alert kinds.
type NotificationKind string

const (
	NotificationImplemented   NotificationKind = "recommendation_implemented"
	NotificationContentChange NotificationKind = "content_change_alert"
)

// Notification is the message handed to a delivery channel.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	TargetID  string           `json:"target_id"`
	Payload   map[string]any   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
}

// TargetFailure describes one target that failed within a pass.
type TargetFailure struct {
	TargetID string    `json:"target_id"`
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
}

// PassSummary is the pass-level report returned to the trigger.
type PassSummary struct {
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration"`
	Checked     int             `json:"checked"`
	Changed     int             `json:"changed"`
	Implemented int             `json:"implemented"`
	Errors      int             `json:"errors"`
	Skipped     int             `json:"skipped"`
	Degraded    bool            `json:"degraded"`
	Failures    []TargetFailure `json:"failures"`
}
