package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campuswatch/attendance-sentry/internal/models"
)

// fakeGateway serves canned data and records teardown of its subscription.
type fakeGateway struct {
	mu            sync.Mutex
	subjects      []models.Subject
	recent        []models.Event
	subjectEvents map[string][]models.Event
	filtered      []models.Event
	failSubject   bool
	failFiltered  bool

	live         chan models.Event
	unsubscribed bool
	lastFilter   models.QueryFilter
	filteredHits int
}

func (f *fakeGateway) Subjects(ctx context.Context) ([]models.Subject, error) {
	return f.subjects, nil
}

func (f *fakeGateway) RecentEvents(ctx context.Context, limit int) ([]models.Event, error) {
	if len(f.recent) > limit {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func (f *fakeGateway) SubjectEvents(ctx context.Context, rollNo string) ([]models.Event, error) {
	if f.failSubject {
		return nil, errors.New("store down")
	}
	return f.subjectEvents[rollNo], nil
}

func (f *fakeGateway) FilteredEvents(ctx context.Context, filter models.QueryFilter) ([]models.Event, error) {
	f.mu.Lock()
	f.lastFilter = filter
	f.filteredHits++
	f.mu.Unlock()
	if f.failFiltered {
		return nil, errors.New("store down")
	}
	return f.filtered, nil
}

func (f *fakeGateway) SubscribeEvents(ctx context.Context) (<-chan models.Event, func(), error) {
	f.live = make(chan models.Event, 1)
	return f.live, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.unsubscribed {
			f.unsubscribed = true
			close(f.live)
		}
	}, nil
}

// fakeSummarizer echoes its input so tests can assert on the augmented query.
type fakeSummarizer struct {
	mu    sync.Mutex
	calls int
	last  string
	reply string
	block chan struct{}
}

func (f *fakeSummarizer) Summarize(ctx context.Context, role, query string) string {
	f.mu.Lock()
	f.calls++
	f.last = query
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return f.reply
}

func (f *fakeSummarizer) IsConfigured() bool { return true }

func strPtr(s string) *string { return &s }

func liveEvent(roll string, eventType string, ts time.Time) models.Event {
	ev := models.Event{EventType: eventType, Timestamp: ts}
	if roll != "" {
		ev.RollNo = strPtr(roll)
	}
	return ev
}

func newTestSession(t *testing.T, gw *fakeGateway, sum Summarizer) *Session {
	t.Helper()
	if sum == nil {
		sum = &fakeSummarizer{reply: "summary"}
	}
	s := New(gw, sum, zap.NewNop().Sugar())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Close)
	return s
}

func TestStart_SeedsStateFromBulkLoad(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	url := "https://evidence/proxies/a.jpg"
	spoof := liveEvent("21BCE001", models.EventEntry, base.Add(time.Minute))
	spoof.IsSpoof = true
	spoof.EvidenceURL = &url

	gw := &fakeGateway{
		subjects: []models.Subject{{RollNo: "21BCE001", FullName: "Rahul Sharma"}},
		recent: []models.Event{
			spoof,
			liveEvent("21BCE001", models.EventEntry, base),
		},
	}
	s := newTestSession(t, gw, nil)

	snap := s.Snapshot()
	assert.Len(t, snap.Events, 2)
	assert.Equal(t, 2, snap.Metrics.Occupancy)
	assert.Equal(t, 1, snap.Metrics.UniqueIn)
	require.Len(t, snap.Evidence, 1)
	assert.Equal(t, url, snap.Evidence[0].EvidenceURL)
	assert.Len(t, s.Directory(), 1)
}

func TestLiveEvent_UpdatesBuffersAndMetrics(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	gw := &fakeGateway{}
	s := newTestSession(t, gw, nil)

	updates, remove := s.AddListener()
	defer remove()

	gw.live <- liveEvent("21BCE001", models.EventEntry, base)

	select {
	case snap := <-updates:
		assert.Equal(t, 1, snap.Metrics.Occupancy)
		assert.Equal(t, 1, snap.Metrics.UniqueIn)
		require.Len(t, snap.Events, 1)
		assert.Equal(t, "21BCE001", *snap.Events[0].RollNo)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot after live event")
	}
}

func TestLiveEvent_BufferEvictsOldestPastCap(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	gw := &fakeGateway{}
	s := newTestSession(t, gw, nil)

	updates, remove := s.AddListener()
	defer remove()

	for i := 0; i < eventBufferCap+1; i++ {
		gw.live <- liveEvent(fmt.Sprintf("s%03d", i), models.EventEntry, base.Add(time.Duration(i)*time.Second))
	}

	// Wait until the last event has been merged.
	deadline := time.After(2 * time.Second)
	for {
		var snap Snapshot
		select {
		case snap = <-updates:
		case <-deadline:
			t.Fatal("buffer never reached the final event")
		}
		if len(snap.Events) == eventBufferCap && *snap.Events[0].RollNo == "s100" {
			// Newest first; the oldest (s000) was evicted.
			assert.Equal(t, "s001", *snap.Events[eventBufferCap-1].RollNo)
			return
		}
	}
}

func TestLiveEvent_EvidenceBufferCappedAtEight(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	gw := &fakeGateway{}
	s := newTestSession(t, gw, nil)

	updates, remove := s.AddListener()
	defer remove()

	for i := 0; i < evidenceBufferCap+1; i++ {
		url := fmt.Sprintf("https://evidence/intruders/%d.jpg", i)
		ev := models.Event{
			EventType:   models.EventEntry,
			Timestamp:   base.Add(time.Duration(i) * time.Second),
			EvidenceURL: &url,
		}
		gw.live <- ev
	}

	deadline := time.After(2 * time.Second)
	for {
		var snap Snapshot
		select {
		case snap = <-updates:
		case <-deadline:
			t.Fatal("evidence buffer never reached the final item")
		}
		if len(snap.Evidence) == evidenceBufferCap &&
			snap.Evidence[0].EvidenceURL == "https://evidence/intruders/8.jpg" {
			assert.Equal(t, "https://evidence/intruders/1.jpg",
				snap.Evidence[evidenceBufferCap-1].EvidenceURL)
			return
		}
	}
}

func TestSearch_NotEnrolledSkipsStore(t *testing.T) {
	gw := &fakeGateway{failSubject: true} // would error if hit
	s := newTestSession(t, gw, nil)

	summary := s.Search(context.Background(), "NOPE")
	assert.False(t, summary.Enrolled)
	assert.Equal(t, "not enrolled", summary.Display)
	assert.False(t, summary.RetrievalFailed)
}

func TestSearch_ComputesDuration(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	gw := &fakeGateway{
		subjects: []models.Subject{{RollNo: "21BCE001", FullName: "Rahul Sharma"}},
		subjectEvents: map[string][]models.Event{
			"21BCE001": {
				liveEvent("21BCE001", models.EventEntry, base),
				liveEvent("21BCE001", models.EventExit, base.Add(8*time.Hour)),
			},
		},
	}
	s := newTestSession(t, gw, nil)

	summary := s.Search(context.Background(), "21BCE001")
	assert.True(t, summary.Enrolled)
	assert.Equal(t, "Rahul Sharma", summary.FullName)
	assert.Equal(t, "8h 0m", summary.Display)
	assert.Equal(t, 100.0, summary.Percentage)
}

func TestSearch_RetrievalFailureIsASummaryNotAnError(t *testing.T) {
	gw := &fakeGateway{
		subjects:    []models.Subject{{RollNo: "21BCE001", FullName: "Rahul Sharma"}},
		failSubject: true,
	}
	s := newTestSession(t, gw, nil)

	summary := s.Search(context.Background(), "21BCE001")
	assert.True(t, summary.Enrolled)
	assert.True(t, summary.RetrievalFailed)
}

func TestAsk_EmptyQuestionIgnored(t *testing.T) {
	s := newTestSession(t, &fakeGateway{}, nil)

	_, err := s.Ask(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestAsk_SingleInFlightGate(t *testing.T) {
	sum := &fakeSummarizer{reply: "done", block: make(chan struct{})}
	s := newTestSession(t, &fakeGateway{}, sum)

	first := make(chan string)
	go func() {
		answer, err := s.Ask(context.Background(), "proxies today")
		assert.NoError(t, err)
		first <- answer
	}()

	// Wait for the first request to reach the summarizer, then a second
	// request must be rejected while it is in flight.
	require.Eventually(t, func() bool {
		sum.mu.Lock()
		defer sum.mu.Unlock()
		return sum.calls == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err := s.Ask(context.Background(), "intruders today")
	assert.ErrorIs(t, err, ErrBusy)

	close(sum.block)
	assert.Equal(t, "done", <-first)

	// Gate released after completion.
	answer, err := s.Ask(context.Background(), "intruders today")
	assert.NoError(t, err)
	assert.Equal(t, "done", answer)
}

func TestAsk_UnknownNameShortCircuitsWithoutSummarizer(t *testing.T) {
	gw := &fakeGateway{
		subjects: []models.Subject{{RollNo: "21BCE001", FullName: "Rahul Sharma"}},
	}
	sum := &fakeSummarizer{reply: "should not be called"}
	s := newTestSession(t, gw, sum)

	answer, err := s.Ask(context.Background(), "did vikram come in")
	require.NoError(t, err)
	assert.Equal(t, NotFoundReply, answer)
	assert.Equal(t, 0, sum.calls)
	assert.Equal(t, 0, gw.filteredHits)
}

func TestAsk_AugmentsQueryWithRetrievedRecords(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	spoof := liveEvent("21BCE001", models.EventEntry, base)
	spoof.IsSpoof = true
	gw := &fakeGateway{filtered: []models.Event{spoof}}
	sum := &fakeSummarizer{reply: "one proxy attempt"}
	s := newTestSession(t, gw, sum)

	answer, err := s.Ask(context.Background(), "how many proxies today")
	require.NoError(t, err)
	assert.Equal(t, "one proxy attempt", answer)

	sum.mu.Lock()
	defer sum.mu.Unlock()
	assert.Contains(t, sum.last, `Retrieved 1 records for "Proxy Attempts (Today)"`)
	assert.Contains(t, sum.last, `"is_spoof":true`)

	gw.mu.Lock()
	defer gw.mu.Unlock()
	require.NotNil(t, gw.lastFilter.SpoofEquals)
	assert.True(t, *gw.lastFilter.SpoofEquals)
	require.NotNil(t, gw.lastFilter.TimestampGte)
}

func TestAsk_RetrievalFailureStillAnswers(t *testing.T) {
	gw := &fakeGateway{failFiltered: true}
	sum := &fakeSummarizer{reply: "no data"}
	s := newTestSession(t, gw, sum)

	answer, err := s.Ask(context.Background(), "proxies today")
	require.NoError(t, err)
	assert.Equal(t, "no data", answer)
	assert.Contains(t, sum.last, "Retrieved 0 records")
}

func TestClose_StopsSubscriptionAndDiscardsLateEvents(t *testing.T) {
	gw := &fakeGateway{}
	sum := &fakeSummarizer{reply: "x"}
	s := New(gw, sum, zap.NewNop().Sugar())
	require.NoError(t, s.Start(context.Background()))

	s.Close()

	gw.mu.Lock()
	assert.True(t, gw.unsubscribed)
	gw.mu.Unlock()

	snap := s.Snapshot()
	assert.Empty(t, snap.Events)
}

func TestDegradedMode_NoGateway(t *testing.T) {
	sum := &fakeSummarizer{reply: "offline-ish"}
	s := New(nil, sum, zap.NewNop().Sugar())
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	snap := s.Snapshot()
	assert.Empty(t, snap.Events)
	assert.Equal(t, models.DerivedMetrics{}, snap.Metrics)

	summary := s.Search(context.Background(), "21BCE001")
	assert.False(t, summary.Enrolled)

	answer, err := s.Ask(context.Background(), "proxies today")
	require.NoError(t, err)
	assert.Equal(t, "offline-ish", answer)
	assert.Contains(t, sum.last, "Retrieved 0 records")
}
