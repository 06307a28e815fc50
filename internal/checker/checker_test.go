package checker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"driftwatch/internal/config"
	"driftwatch/internal/models"
	"driftwatch/internal/monitor"
	"driftwatch/internal/storage"
	"driftwatch/internal/storage/memory"
	"driftwatch/internal/urlutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var passTime = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type stubFetcher struct {
	mu    sync.Mutex
	pages map[string]models.PageSnapshot
	errs  map[string]error
	calls map[string]int
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		pages: make(map[string]models.PageSnapshot),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *stubFetcher) set(url string, s models.PageSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = s
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (models.PageSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err, ok := f.errs[url]; ok {
		return models.PageSnapshot{}, err
	}
	s, ok := f.pages[url]
	if !ok {
		return models.PageSnapshot{}, errors.New("no such page")
	}
	return s, nil
}

func (f *stubFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type blockingFetcher struct{}

func (blockingFetcher) Fetch(ctx context.Context, url string) (models.PageSnapshot, error) {
	<-ctx.Done()
	return models.PageSnapshot{}, ctx.Err()
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
}

func (n *recordingNotifier) Dispatch(msg models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) all() []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Notification(nil), n.sent...)
}

// faultyStore fails selected operations of an otherwise working store.
type faultyStore struct {
	*memory.Store
	updateErr error
	listErr   error
	appendErr error
}

func (s *faultyStore) UpdateTarget(ctx context.Context, t *models.Target) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.Store.UpdateTarget(ctx, t)
}

func (s *faultyStore) ListDue(ctx context.Context, now time.Time) ([]models.Target, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Store.ListDue(ctx, now)
}

func (s *faultyStore) AppendResult(ctx context.Context, r *models.MonitoringResult) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	return s.Store.AppendResult(ctx, r)
}

func testMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		PassInterval: time.Hour,
		Workers:      2,
		FetchTimeout: time.Second,
		StoreTimeout: time.Second,
	}
}

func dueTarget(id, page, hash string) models.Target {
	return models.Target{
		ID:              id,
		OwnerID:         "owner-1",
		WebsiteURL:      "https://example.com",
		PageURL:         page,
		Host:            "example.com",
		LastContentHash: hash,
		CheckFrequency:  models.FrequencyDaily,
		LastCheckedAt:   passTime.Add(-48 * time.Hour),
		NextCheckAt:     passTime.Add(-24 * time.Hour),
		CreatedAt:       passTime.Add(-48 * time.Hour),
		Recommendations: []models.Recommendation{},
	}
}

func seed(t *testing.T, store storage.TargetStore, targets ...models.Target) {
	t.Helper()
	require.NoError(t, store.CreateTargets(context.Background(), targets))
}

func get(t *testing.T, store storage.TargetStore, id string) *models.Target {
	t.Helper()
	target, err := store.GetTarget(context.Background(), id)
	require.NoError(t, err)
	return target
}

func hashOf(t *testing.T, s models.PageSnapshot) string {
	t.Helper()
	h, err := monitor.Fingerprint(s)
	require.NoError(t, err)
	return h
}

func TestRunPass_BatchIsolation(t *testing.T) {
	store := memory.New()
	f := newStubFetcher()
	n := &recordingNotifier{}
	e := NewEngine(store, f, n, testMonitorConfig(), zap.NewNop())

	for _, p := range []string{"a", "b", "c"} {
		f.set("https://example.com/"+p, models.PageSnapshot{Title: p, Body: "body " + p})
	}
	f.errs["https://example.com/b"] = errors.New("connection reset")

	seed(t, store,
		dueTarget("t1", "https://example.com/a", "old"),
		dueTarget("t2", "https://example.com/b", "old"),
		dueTarget("t3", "https://example.com/c", "old"),
	)

	summary := e.RunPass(context.Background(), passTime)
	assert.Equal(t, 3, summary.Checked)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 2, summary.Changed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "t2", summary.Failures[0].TargetID)
	assert.Equal(t, models.ErrorKindFetch, summary.Failures[0].Kind)

	for _, id := range []string{"t1", "t3"} {
		got := get(t, store, id)
		assert.True(t, got.LastCheckedAt.Equal(passTime), "%s last checked", id)
		assert.True(t, got.NextCheckAt.Equal(passTime.Add(24*time.Hour)), "%s next check", id)
		assert.NotEqual(t, "old", got.LastContentHash)
	}

	failed := get(t, store, "t2")
	assert.True(t, failed.LastCheckedAt.Equal(passTime.Add(-48*time.Hour)))
	assert.Equal(t, "old", failed.LastContentHash)

	results, err := store.ListResults(context.Background(), storage.ListResultsParams{TargetID: "t2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].ChangesDetected, 1)
	assert.True(t, strings.HasPrefix(results[0].ChangesDetected[0], "Error: "))
	assert.Equal(t, models.ErrorKindFetch, results[0].ErrorKind)

	// The failed target is still due and is retried on the next pass.
	delete(f.errs, "https://example.com/b")
	summary = e.RunPass(context.Background(), passTime.Add(time.Minute))
	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, 0, summary.Errors)
	assert.Equal(t, 2, f.callCount("https://example.com/b"))
}

func TestRunPass_FirstRunBaseline(t *testing.T) {
	store := memory.New()
	f := newStubFetcher()
	n := &recordingNotifier{}
	e := NewEngine(store, f, n, testMonitorConfig(), zap.NewNop())

	snap := models.PageSnapshot{Title: "About", Body: "learn about our mission and values"}
	f.set("https://example.com/about", snap)

	target := dueTarget("t1", "https://example.com/about", "")
	target.Recommendations = []models.Recommendation{
		{ID: "r1", Kind: models.RecommendationContent, SuggestedText: "Learn about our mission and values"},
	}
	seed(t, store, target)

	summary := e.RunPass(context.Background(), passTime)
	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, 0, summary.Changed)
	assert.Equal(t, 0, summary.Implemented)
	assert.Empty(t, n.all())

	got := get(t, store, "t1")
	assert.Equal(t, hashOf(t, snap), got.LastContentHash)
	assert.False(t, got.Baseline.IsZero())
	assert.False(t, got.Recommendations[0].Applied)
	assert.True(t, got.LastCheckedAt.Equal(passTime))
}

func TestRunPass_Unchanged(t *testing.T) {
	store := memory.New()
	f := newStubFetcher()
	n := &recordingNotifier{}
	e := NewEngine(store, f, n, testMonitorConfig(), zap.NewNop())

	snap := models.PageSnapshot{Title: "Home", Description: "d", Body: "welcome to the shop"}
	f.set("https://example.com/", snap)

	target := dueTarget("t1", "https://example.com/", hashOf(t, snap))
	target.Recommendations = []models.Recommendation{
		{ID: "r1", Kind: models.RecommendationSEO, SuggestedText: "welcome"},
	}
	seed(t, store, target)

	summary := e.RunPass(context.Background(), passTime)
	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, 0, summary.Changed)
	assert.Empty(t, n.all())

	got := get(t, store, "t1")
	assert.True(t, got.LastCheckedAt.Equal(passTime))
	assert.False(t, got.Recommendations[0].Applied, "matcher must not run on unchanged content")

	results, err := store.ListResults(context.Background(), storage.ListResultsParams{TargetID: "t1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].ContentChanged)
	assert.Empty(t, results[0].ImplementedRecommendationIDs)
}

func TestRunPass_MissionImplemented(t *testing.T) {
	store := memory.New()
	f := newStubFetcher()
	n := &recordingNotifier{}
	e := NewEngine(store, f, n, testMonitorConfig(), zap.NewNop())

	f.set("https://example.com/about", models.PageSnapshot{
		Title: "About",
		Body:  "learn about our mission and values and team",
	})

	target := dueTarget("t1", "https://example.com/about", "h1")
	target.Recommendations = []models.Recommendation{
		{ID: "r1", Kind: models.RecommendationContent, SuggestedText: "Learn about our mission and values"},
		{ID: "r2", Kind: models.RecommendationSEO, SuggestedText: "Award winning widgets since 1999"},
	}
	seed(t, store, target)

	summary := e.RunPass(context.Background(), passTime)
	assert.Equal(t, 1, summary.Changed)
	assert.Equal(t, 1, summary.Implemented)

	got := get(t, store, "t1")
	require.Len(t, got.Recommendations, 2)
	assert.True(t, got.Recommendations[0].Applied)
	require.NotNil(t, got.Recommendations[0].AppliedAt)
	assert.True(t, got.Recommendations[0].AppliedAt.Equal(passTime))
	assert.False(t, got.Recommendations[1].Applied)

	sent := n.all()
	require.Len(t, sent, 1)
	assert.Equal(t, models.NotificationImplemented, sent[0].Kind)
	assert.Equal(t, "t1", sent[0].TargetID)
	assert.Equal(t, []string{"r1"}, sent[0].Payload["implemented_recommendations"])
}

func TestRunPass_DriftAlert(t *testing.T) {
	store := memory.New()
	f := newStubFetcher()
	n := &recordingNotifier{}
	e := NewEngine(store, f, n, testMonitorConfig(), zap.NewNop())

	before := models.PageSnapshot{Title: "Old", Body: "short"}
	after := models.PageSnapshot{Title: "New", Body: "short and longer"}
	f.set("https://example.com/p", after)

	target := dueTarget("t1", "https://example.com/p", hashOf(t, before))
	target.Baseline = monitor.BaselineOf(before)
	target.Recommendations = []models.Recommendation{
		{ID: "r1", Kind: models.RecommendationLLMO, SuggestedText: "completely unrelated sentence here"},
	}
	seed(t, store, target)

	summary := e.RunPass(context.Background(), passTime)
	assert.Equal(t, 1, summary.Changed)
	assert.Equal(t, 0, summary.Implemented)

	sent := n.all()
	require.Len(t, sent, 1)
	assert.Equal(t, models.NotificationContentChange, sent[0].Kind)
	assert.Equal(t, 1, sent[0].Payload["pending_count"])
	assert.Equal(t,
		[]string{monitor.LabelTitle, "Page content modified (+11 characters)"},
		sent[0].Payload["changes_detected"])
}

func TestRunPass_AppliedIsMonotonic(t *testing.T) {
	store := memory.New()
	f := newStubFetcher()
	n := &recordingNotifier{}
	e := NewEngine(store, f, n, testMonitorConfig(), zap.NewNop())

	url := "https://example.com/about"
	f.set(url, models.PageSnapshot{Body: "learn about our mission and values"})

	target := dueTarget("t1", url, "h1")
	target.Recommendations = []models.Recommendation{
		{ID: "r1", Kind: models.RecommendationContent, SuggestedText: "Learn about our mission and values"},
	}
	seed(t, store, target)

	e.RunPass(context.Background(), passTime)
	require.True(t, get(t, store, "t1").Recommendations[0].Applied)

	// The text is removed again; the recommendation stays applied.
	f.set(url, models.PageSnapshot{Body: "nothing to see"})
	summary := e.RunPass(context.Background(), passTime.Add(25*time.Hour))
	assert.Equal(t, 1, summary.Changed)
	assert.Equal(t, 0, summary.Implemented)

	got := get(t, store, "t1")
	assert.True(t, got.Recommendations[0].Applied)
	assert.True(t, got.Recommendations[0].AppliedAt.Equal(passTime))
}

func TestRunPass_PersistenceFailure(t *testing.T) {
	store := &faultyStore{Store: memory.New(), updateErr: errors.New("database is locked")}
	f := newStubFetcher()
	n := &recordingNotifier{}
	e := NewEngine(store, f, n, testMonitorConfig(), zap.NewNop())

	f.set("https://example.com/a", models.PageSnapshot{Body: "new content"})
	seed(t, store, dueTarget("t1", "https://example.com/a", "old"))

	summary := e.RunPass(context.Background(), passTime)
	assert.Equal(t, 1, summary.Errors)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, models.ErrorKindPersistence, summary.Failures[0].Kind)
	assert.Empty(t, n.all(), "no notification for an uncommitted check")

	got := get(t, store, "t1")
	assert.Equal(t, "old", got.LastContentHash)
	assert.True(t, got.NextCheckAt.Before(passTime))
}

func TestRunPass_BestEffortSideEffects(t *testing.T) {
	store := &faultyStore{Store: memory.New(), appendErr: errors.New("audit table missing")}
	f := newStubFetcher()
	n := &recordingNotifier{err: models.ErrDispatchFailure}
	e := NewEngine(store, f, n, testMonitorConfig(), zap.NewNop())

	f.set("https://example.com/a", models.PageSnapshot{Body: "new content"})
	seed(t, store, dueTarget("t1", "https://example.com/a", "old"))

	summary := e.RunPass(context.Background(), passTime)
	assert.Equal(t, 0, summary.Errors)
	assert.Equal(t, 1, summary.Changed)
	assert.Len(t, n.all(), 1)
	assert.True(t, get(t, store, "t1").LastCheckedAt.Equal(passTime))
}

func TestRunPass_ListFailure(t *testing.T) {
	store := &faultyStore{Store: memory.New(), listErr: errors.New("connection refused")}
	e := NewEngine(store, newStubFetcher(), &recordingNotifier{}, testMonitorConfig(), zap.NewNop())

	summary := e.RunPass(context.Background(), passTime)
	assert.Equal(t, 0, summary.Checked)
	assert.Equal(t, 1, summary.Errors)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, models.ErrorKindPersistence, summary.Failures[0].Kind)
}

func TestRunPass_NotDueAndSkipped(t *testing.T) {
	store := memory.New()
	f := newStubFetcher()
	e := NewEngine(store, f, &recordingNotifier{}, testMonitorConfig(), zap.NewNop())

	f.set("https://example.com/a", models.PageSnapshot{Body: "a"})
	f.set("https://example.com/b", models.PageSnapshot{Body: "b"})

	later := dueTarget("t1", "https://example.com/a", "")
	later.NextCheckAt = passTime.Add(time.Hour)
	seed(t, store, later, dueTarget("t2", "https://example.com/b", ""))

	require.True(t, e.claims.reserve("t2"))
	summary := e.RunPass(context.Background(), passTime)
	e.claims.free("t2")

	assert.Equal(t, 0, summary.Checked)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, f.callCount("https://example.com/a"))
	assert.Equal(t, 0, f.callCount("https://example.com/b"))
}

// gatedFetcher holds the first fetch of url until gate is closed.
type gatedFetcher struct {
	*stubFetcher
	url     string
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (f *gatedFetcher) Fetch(ctx context.Context, url string) (models.PageSnapshot, error) {
	if url == f.url {
		first := false
		f.once.Do(func() { first = true })
		if first {
			close(f.entered)
			<-f.gate
		}
	}
	return f.stubFetcher.Fetch(ctx, url)
}

func TestRunPass_OverlappingPasses(t *testing.T) {
	store := memory.New()
	stub := newStubFetcher()
	f := &gatedFetcher{
		stubFetcher: stub,
		url:         "https://example.com/slow",
		entered:     make(chan struct{}),
		gate:        make(chan struct{}),
	}
	n := &recordingNotifier{}
	cfg := testMonitorConfig()
	cfg.Workers = 1
	e := NewEngine(store, f, n, cfg, zap.NewNop())

	stub.set("https://example.com/slow", models.PageSnapshot{Body: "slow page"})
	stub.set("https://example.com/about", models.PageSnapshot{
		Title: "About",
		Body:  "learn about our mission and values and team",
	})

	slow := dueTarget("t0", "https://example.com/slow", "h0")
	slow.NextCheckAt = passTime.Add(-48 * time.Hour)
	about := dueTarget("t1", "https://example.com/about", "h1")
	about.Recommendations = []models.Recommendation{
		{ID: "r1", Kind: models.RecommendationContent, SuggestedText: "Learn about our mission and values"},
	}
	seed(t, store, slow, about)

	// The first pass lists both targets, then stalls on t0 while a second
	// pass checks and commits t1.
	first := make(chan models.PassSummary, 1)
	go func() { first <- e.RunPass(context.Background(), passTime) }()
	<-f.entered

	second := e.RunPass(context.Background(), passTime)
	close(f.gate)
	stalled := <-first

	assert.Equal(t, 1, second.Checked)
	assert.Equal(t, 1, second.Implemented)
	assert.Equal(t, 1, second.Skipped)

	assert.Equal(t, 1, stalled.Checked)
	assert.Equal(t, 1, stalled.Changed)
	assert.Equal(t, 0, stalled.Implemented)
	assert.Equal(t, 1, stalled.Skipped)

	assert.Equal(t, 1, stub.callCount("https://example.com/about"))

	implemented := 0
	for _, msg := range n.all() {
		if msg.Kind == models.NotificationImplemented {
			implemented++
			assert.Equal(t, "t1", msg.TargetID)
		}
	}
	assert.Equal(t, 1, implemented)

	results, err := store.ListResults(context.Background(), storage.ListResultsParams{TargetID: "t1", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestRunPass_FetchTimeout(t *testing.T) {
	store := memory.New()
	cfg := testMonitorConfig()
	cfg.FetchTimeout = 20 * time.Millisecond
	e := NewEngine(store, blockingFetcher{}, &recordingNotifier{}, cfg, zap.NewNop())

	seed(t, store, dueTarget("t1", "https://example.com/slow", "old"))

	summary := e.RunPass(context.Background(), passTime)
	assert.Equal(t, 1, summary.Errors)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, models.ErrorKindFetch, summary.Failures[0].Kind)
	assert.Equal(t, "old", get(t, store, "t1").LastContentHash)
}

func TestRunPass_DecodeFailure(t *testing.T) {
	store := memory.New()
	f := newStubFetcher()
	e := NewEngine(store, f, &recordingNotifier{}, testMonitorConfig(), zap.NewNop())

	f.set("https://example.com/a", models.PageSnapshot{Body: "bad \xff bytes"})
	seed(t, store, dueTarget("t1", "https://example.com/a", "old"))

	summary := e.RunPass(context.Background(), passTime)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, models.ErrorKindDecode, summary.Failures[0].Kind)
}

func TestCheckTarget(t *testing.T) {
	store := memory.New()
	f := newStubFetcher()
	e := NewEngine(store, f, &recordingNotifier{}, testMonitorConfig(), zap.NewNop())

	f.set("https://example.com/a", models.PageSnapshot{Body: "a"})
	target := dueTarget("t1", "https://example.com/a", "")
	target.NextCheckAt = passTime.Add(time.Hour)
	seed(t, store, target)

	t.Run("not due is still checked", func(t *testing.T) {
		result, err := e.CheckTarget(context.Background(), "t1", passTime)
		require.NoError(t, err)
		assert.Equal(t, "t1", result.TargetID)
		assert.False(t, result.ContentChanged)
		assert.True(t, get(t, store, "t1").LastCheckedAt.Equal(passTime))
	})

	t.Run("not found", func(t *testing.T) {
		_, err := e.CheckTarget(context.Background(), "missing", passTime)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("in progress", func(t *testing.T) {
		require.True(t, e.claims.reserve("t1"))
		defer e.claims.free("t1")

		_, err := e.CheckTarget(context.Background(), "t1", passTime)
		assert.ErrorIs(t, err, ErrCheckInProgress)
	})
}

func TestScheduleTargets(t *testing.T) {
	store := memory.New()
	e := NewEngine(store, newStubFetcher(), &recordingNotifier{}, testMonitorConfig(), zap.NewNop())
	ctx := context.Background()

	t.Run("creates one target per page", func(t *testing.T) {
		targets, err := e.ScheduleTargets(ctx, ScheduleInput{
			OwnerID:    "owner-1",
			WebsiteURL: "https://Example.com/",
			PageURLs:   []string{"https://example.com/about/", "https://example.com/pricing"},
			Frequency:  models.FrequencyWeekly,
			Recommendations: map[string][]models.Recommendation{
				"https://example.com/about": {
					{Kind: models.RecommendationContent, SuggestedText: "Learn about our mission"},
				},
			},
		}, passTime)
		require.NoError(t, err)
		require.Len(t, targets, 2)

		about := targets[0]
		assert.NotEmpty(t, about.ID)
		assert.Equal(t, "https://example.com/about", about.PageURL)
		assert.Equal(t, "https://example.com/", about.WebsiteURL)
		assert.Equal(t, "", about.LastContentHash)
		assert.True(t, about.LastCheckedAt.Equal(passTime))
		assert.True(t, about.NextCheckAt.Equal(passTime.Add(7*24*time.Hour)))
		require.Len(t, about.Recommendations, 1)
		assert.NotEmpty(t, about.Recommendations[0].ID)
		assert.False(t, about.Recommendations[0].Applied)
		assert.Empty(t, targets[1].Recommendations)

		stored := get(t, store, about.ID)
		assert.Equal(t, about.PageURL, stored.PageURL)
	})

	t.Run("duplicate page for owner", func(t *testing.T) {
		_, err := e.ScheduleTargets(ctx, ScheduleInput{
			OwnerID:    "owner-1",
			WebsiteURL: "https://example.com",
			PageURLs:   []string{"https://example.com/pricing"},
			Frequency:  models.FrequencyDaily,
		}, passTime)
		assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	})

	tests := []struct {
		name  string
		input ScheduleInput
		is    error
	}{
		{
			name:  "page on another host",
			input: ScheduleInput{OwnerID: "o", WebsiteURL: "https://example.com", PageURLs: []string{"https://other.com/x"}, Frequency: models.FrequencyDaily},
			is:    urlutil.ErrNotSubResource,
		},
		{
			name:  "unknown frequency",
			input: ScheduleInput{OwnerID: "o", WebsiteURL: "https://example.com", PageURLs: []string{"https://example.com/x"}, Frequency: "hourly"},
		},
		{
			name:  "no pages",
			input: ScheduleInput{OwnerID: "o", WebsiteURL: "https://example.com", Frequency: models.FrequencyDaily},
		},
		{
			name:  "missing owner",
			input: ScheduleInput{WebsiteURL: "https://example.com", PageURLs: []string{"https://example.com/x"}, Frequency: models.FrequencyDaily},
		},
		{
			name: "empty suggestion",
			input: ScheduleInput{
				OwnerID: "o", WebsiteURL: "https://example.com", PageURLs: []string{"https://example.com/x"}, Frequency: models.FrequencyDaily,
				Recommendations: map[string][]models.Recommendation{
					"https://example.com/x": {{Kind: models.RecommendationSEO, SuggestedText: "   "}},
				},
			},
		},
		{
			name: "recommendations for unknown page",
			input: ScheduleInput{
				OwnerID: "o", WebsiteURL: "https://example.com", PageURLs: []string{"https://example.com/x"}, Frequency: models.FrequencyDaily,
				Recommendations: map[string][]models.Recommendation{
					"https://example.com/y": {{Kind: models.RecommendationSEO, SuggestedText: "hello"}},
				},
			},
		},
		{
			name:  "same page twice",
			input: ScheduleInput{OwnerID: "o", WebsiteURL: "https://example.com", PageURLs: []string{"https://example.com/x", "https://example.com/x/"}, Frequency: models.FrequencyDaily},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.ScheduleTargets(ctx, tt.input, passTime)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrValidation)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestAddRecommendations(t *testing.T) {
	store := memory.New()
	e := NewEngine(store, newStubFetcher(), &recordingNotifier{}, testMonitorConfig(), zap.NewNop())
	ctx := context.Background()

	target := dueTarget("t1", "https://example.com/a", "")
	target.Recommendations = []models.Recommendation{
		{ID: "r1", Kind: models.RecommendationSEO, SuggestedText: "first"},
	}
	seed(t, store, target)

	got, err := e.AddRecommendations(ctx, "t1", []models.Recommendation{
		{ID: "r2", Kind: models.RecommendationLLMO, SuggestedText: "second", Applied: true},
	})
	require.NoError(t, err)
	require.Len(t, got.Recommendations, 2)
	assert.Equal(t, "r2", got.Recommendations[1].ID)
	assert.False(t, got.Recommendations[1].Applied, "new recommendations start pending")

	_, err = e.AddRecommendations(ctx, "t1", []models.Recommendation{
		{ID: "r1", Kind: models.RecommendationSEO, SuggestedText: "again"},
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = e.AddRecommendations(ctx, "missing", []models.Recommendation{
		{Kind: models.RecommendationSEO, SuggestedText: "x"},
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = e.AddRecommendations(ctx, "t1", nil)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestChecker_StartStop(t *testing.T) {
	store := memory.New()
	f := newStubFetcher()
	e := NewEngine(store, f, &recordingNotifier{}, testMonitorConfig(), zap.NewNop())

	f.set("https://example.com/a", models.PageSnapshot{Body: "a"})
	target := dueTarget("t1", "https://example.com/a", "")
	target.NextCheckAt = time.Now().Add(-time.Hour)
	seed(t, store, target)

	c := New(e, time.Hour, zap.NewNop())
	c.Start()

	require.Eventually(t, func() bool {
		return f.callCount("https://example.com/a") == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c.Stop(ctx)
	c.Stop(ctx)
}

func TestClaims(t *testing.T) {
	store := memory.New()
	seed(t, store, dueTarget("t1", "https://example.com/a", "h1"))
	c := newClaims(store, time.Second)

	t.Run("exclusive", func(t *testing.T) {
		assert.True(t, c.reserve("a"))
		assert.False(t, c.reserve("a"))
		assert.True(t, c.reserve("b"))
		c.free("a")
		assert.True(t, c.reserve("a"))
		c.free("a")
		c.free("b")
	})

	t.Run("loads the committed copy", func(t *testing.T) {
		committed := get(t, store, "t1")
		committed.LastContentHash = "h2"
		require.NoError(t, store.UpdateTarget(context.Background(), committed))

		target, release, err := c.claim(context.Background(), "t1", passTime)
		require.NoError(t, err)
		assert.Equal(t, "h2", target.LastContentHash)

		_, _, err = c.claim(context.Background(), "t1", passTime)
		assert.ErrorIs(t, err, ErrCheckInProgress)
		release()
	})

	t.Run("not due", func(t *testing.T) {
		_, _, err := c.claim(context.Background(), "t1", passTime.Add(-30*time.Hour))
		assert.ErrorIs(t, err, errNotDue)
		assert.True(t, c.reserve("t1"), "a refused claim is released")
		c.free("t1")
	})

	t.Run("missing target", func(t *testing.T) {
		_, _, err := c.claim(context.Background(), "missing", passTime)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.True(t, c.reserve("missing"))
		c.free("missing")
	})
}

func TestWorkerPoolConcurrency(t *testing.T) {
	var mu sync.Mutex
	running, peak := 0, 0

	pool := newWorkerPool(context.Background(), 2, func(ctx context.Context, target models.Target) outcome {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		return outcome{target: target}
	})

	go func() {
		for i := 0; i < 10; i++ {
			pool.Submit(models.Target{ID: string(rune('a' + i))})
		}
		pool.Close()
	}()

	seen := map[string]bool{}
	for o := range pool.Results() {
		seen[o.target.ID] = true
	}
	assert.Len(t, seen, 10, "every submitted target reports exactly once")
	assert.LessOrEqual(t, peak, 2)
}
