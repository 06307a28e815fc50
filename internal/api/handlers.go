package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"driftwatch/internal/checker"
	"driftwatch/internal/models"
	"driftwatch/internal/storage"
	"driftwatch/internal/urlutil"
)

// Handlers holds dependencies for the API handlers.
type Handlers struct {
	engine *checker.Engine
	store  storage.TargetStore
	log    *zap.Logger
	now    func() time.Time
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(engine *checker.Engine, store storage.TargetStore, log *zap.Logger) *Handlers {
	return &Handlers{
		engine: engine,
		store:  store,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type recommendationRequest struct {
	ID            string                    `json:"id"`
	Kind          models.RecommendationKind `json:"kind"`
	SuggestedText string                    `json:"suggested_text"`
}

func (r recommendationRequest) model() models.Recommendation {
	return models.Recommendation{ID: r.ID, Kind: r.Kind, SuggestedText: r.SuggestedText}
}

func toModels(reqs []recommendationRequest) []models.Recommendation {
	recs := make([]models.Recommendation, 0, len(reqs))
	for _, r := range reqs {
		recs = append(recs, r.model())
	}
	return recs
}

// CreateTargets schedules monitoring for a batch of pages of one website.
func (h *Handlers) CreateTargets(w http.ResponseWriter, r *http.Request) {
	var reqBody struct {
		OwnerID         string                             `json:"owner_id"`
		WebsiteURL      string                             `json:"website_url"`
		PageURLs        []string                           `json:"page_urls"`
		CheckFrequency  string                             `json:"check_frequency"`
		Recommendations map[string][]recommendationRequest `json:"recommendations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	input := checker.ScheduleInput{
		OwnerID:         reqBody.OwnerID,
		WebsiteURL:      reqBody.WebsiteURL,
		PageURLs:        reqBody.PageURLs,
		Frequency:       models.Frequency(reqBody.CheckFrequency),
		Recommendations: make(map[string][]models.Recommendation, len(reqBody.Recommendations)),
	}
	for page, recs := range reqBody.Recommendations {
		input.Recommendations[page] = toModels(recs)
	}

	targets, err := h.engine.ScheduleTargets(r.Context(), input, h.now())
	if err != nil {
		h.writeError(w, "schedule targets", err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		Items []models.Target `json:"items"`
	}{Items: targets})
}

// ListTargets handles listing targets with pagination.
func (h *Handlers) ListTargets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}

	websiteURL := strings.TrimSpace(q.Get("website_url"))
	if websiteURL != "" {
		canonical, err := urlutil.Canonicalize(websiteURL)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		websiteURL = canonical
	}

	var afterTime time.Time
	var afterID string
	if token := q.Get("page_token"); token != "" {
		// token is base64 of "<rfc3339nano>|<id>"
		if decoded, err := base64.URLEncoding.DecodeString(token); err == nil {
			parts := strings.SplitN(string(decoded), "|", 2)
			if len(parts) == 2 {
				if t, err := time.Parse(time.RFC3339Nano, parts[0]); err == nil {
					afterTime = t
					afterID = parts[1]
				}
			}
		}
	}

	items, err := h.store.ListTargets(r.Context(), storage.ListTargetsParams{
		OwnerID:    strings.TrimSpace(q.Get("owner_id")),
		WebsiteURL: websiteURL,
		AfterTime:  afterTime,
		AfterID:    afterID,
		Limit:      limit,
	})
	if err != nil {
		h.writeError(w, "list targets", err)
		return
	}
	if items == nil {
		items = []models.Target{}
	}

	resp := struct {
		Items         []models.Target `json:"items"`
		NextPageToken string          `json:"next_page_token"`
	}{
		Items: items,
	}

	if len(items) == limit {
		last := items[len(items)-1]
		cursor := last.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + last.ID
		resp.NextPageToken = base64.URLEncoding.EncodeToString([]byte(cursor))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetTarget returns one target with its recommendations.
func (h *Handlers) GetTarget(w http.ResponseWriter, r *http.Request) {
	target, err := h.store.GetTarget(r.Context(), r.PathValue("target_id"))
	if err != nil {
		h.writeError(w, "get target", err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// DeleteTarget stops monitoring a page.
func (h *Handlers) DeleteTarget(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteTarget(r.Context(), r.PathValue("target_id")); err != nil {
		h.writeError(w, "delete target", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddRecommendations attaches new pending recommendations to a target.
func (h *Handlers) AddRecommendations(w http.ResponseWriter, r *http.Request) {
	var reqBody struct {
		Recommendations []recommendationRequest `json:"recommendations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	target, err := h.engine.AddRecommendations(r.Context(), r.PathValue("target_id"), toModels(reqBody.Recommendations))
	if err != nil {
		h.writeError(w, "add recommendations", err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// CheckTarget runs one target's check immediately. A failed check is still
// reported as a result carrying the error.
func (h *Handlers) CheckTarget(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.CheckTarget(r.Context(), r.PathValue("target_id"), h.now())
	if err != nil && !result.Failed() {
		h.writeError(w, "check target", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListResults handles listing the monitoring results of a target.
func (h *Handlers) ListResults(w http.ResponseWriter, r *http.Request) {
	targetID := r.PathValue("target_id")

	// ensure target exists
	if _, err := h.store.GetTarget(r.Context(), targetID); err != nil {
		h.writeError(w, "get target", err)
		return
	}

	q := r.URL.Query()
	limit := 100
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}

	var sincePtr *time.Time
	if s := q.Get("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			utc := t.UTC()
			sincePtr = &utc
		}
	}

	results, err := h.store.ListResults(r.Context(), storage.ListResultsParams{
		TargetID: targetID,
		Since:    sincePtr,
		Limit:    limit,
	})
	if err != nil {
		h.writeError(w, "list results", err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Items []models.MonitoringResult `json:"items"`
	}{Items: results})
}

// RunPass runs a monitoring pass over every due target and returns its
// summary. It is the hook for external cron-style triggers. The pass runs to
// completion even if the caller goes away.
func (h *Handlers) RunPass(w http.ResponseWriter, r *http.Request) {
	summary := h.engine.RunPass(context.WithoutCancel(r.Context()), h.now())
	writeJSON(w, http.StatusOK, summary)
}

// Healthz is a simple health check endpoint.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "target not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrDuplicateKey):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, checker.ErrCheckInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.log.Error(op+" failed", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
