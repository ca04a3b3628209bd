// Package session owns the buffered state of one dashboard session: the
// subject directory, the bounded live-event and evidence buffers, derived
// metrics, and the search/assistant orchestration on top of them.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/campuswatch/attendance-sentry/internal/attendance"
	"github.com/campuswatch/attendance-sentry/internal/metrics"
	"github.com/campuswatch/attendance-sentry/internal/models"
	"github.com/campuswatch/attendance-sentry/internal/nlquery"
)

const (
	// eventBufferCap bounds the live window; oldest entries are evicted.
	eventBufferCap = 100

	// evidenceBufferCap bounds the threat-review strip.
	evidenceBufferCap = 8

	// initialPageSize is the bulk-load page fetched at session start.
	initialPageSize = 20
)

// roleInstruction frames every summarization request.
const roleInstruction = "You are an attendance analytics assistant for a " +
	"monitored facility. Answer the question using only the retrieved " +
	"records provided. Be concise, state counts plainly, and flag proxy " +
	"attempts and intruder sightings explicitly."

// NotFoundReply is returned when a question names a recognized subject who
// is not enrolled; the summarizer is never invoked for it.
const NotFoundReply = "I couldn't find that person in the enrollment directory."

// Request-rejection sentinels surfaced to the HTTP layer.
var (
	ErrEmptyQuestion = errors.New("empty question")
	ErrBusy          = errors.New("an assistant request is already in flight")
)

// Gateway is the filtered-read and live-subscription surface the session
// needs from the event store. A nil Gateway puts the session in degraded
// mode: reads return empty results and the assistant reports itself offline.
type Gateway interface {
	Subjects(ctx context.Context) ([]models.Subject, error)
	RecentEvents(ctx context.Context, limit int) ([]models.Event, error)
	SubjectEvents(ctx context.Context, rollNo string) ([]models.Event, error)
	FilteredEvents(ctx context.Context, f models.QueryFilter) ([]models.Event, error)
	SubscribeEvents(ctx context.Context) (<-chan models.Event, func(), error)
}

// Summarizer is the generative completion surface; see internal/assistant.
type Summarizer interface {
	Summarize(ctx context.Context, roleInstruction, augmentedQuery string) string
	IsConfigured() bool
}

// Snapshot is a consistent copy of session state for handlers and live-feed
// subscribers.
type Snapshot struct {
	Metrics  models.DerivedMetrics `json:"metrics"`
	Events   []models.Event        `json:"events"`
	Evidence []models.EvidenceItem `json:"evidence"`
}

// Session is safe for concurrent use: HTTP handlers read snapshots and run
// searches while a single consumer goroutine merges live events.
type Session struct {
	gw         Gateway
	summarizer Summarizer
	log        *zap.SugaredLogger

	// alive guards state mutation after Close: both the initial bulk load
	// and the live consumer check it before applying results.
	alive   atomic.Bool
	askBusy atomic.Bool

	mu          sync.RWMutex
	directory   []models.Subject
	subjects    map[string]models.Subject
	translator  *nlquery.Translator
	events      []models.Event // newest first
	evidence    []models.EvidenceItem
	metrics     models.DerivedMetrics
	listeners   map[chan Snapshot]struct{}
	unsubscribe func()
}

// New builds a session. gw may be nil when the store is not configured.
func New(gw Gateway, summarizer Summarizer, log *zap.SugaredLogger) *Session {
	s := &Session{
		gw:         gw,
		summarizer: summarizer,
		log:        log,
		subjects:   map[string]models.Subject{},
		translator: nlquery.New(nil),
		listeners:  map[chan Snapshot]struct{}{},
	}
	s.alive.Store(true)
	return s
}

// Start performs the initial bulk load (directory plus the most recent
// events), seeds metrics and the evidence buffer, then opens the live
// subscription. Retrieval failures are logged and leave the corresponding
// state empty; they never abort startup.
func (s *Session) Start(ctx context.Context) error {
	if s.gw == nil {
		s.log.Warnw("event store not configured; session running degraded")
		return nil
	}

	directory, err := s.gw.Subjects(ctx)
	if err != nil {
		s.log.Errorw("initial subject load failed", "error", err)
		directory = nil
	}

	events, err := s.gw.RecentEvents(ctx, initialPageSize)
	if err != nil {
		s.log.Errorw("initial event load failed", "error", err)
		events = nil
	}

	// A session torn down mid-load discards the stale result.
	if !s.alive.Load() {
		return nil
	}

	s.mu.Lock()
	s.directory = directory
	s.subjects = make(map[string]models.Subject, len(directory))
	for _, sub := range directory {
		s.subjects[sub.RollNo] = sub
	}
	s.translator = nlquery.New(directory)
	s.events = capPrefix(events, eventBufferCap)
	s.metrics = metrics.RecomputeFromBatch(s.events)
	s.evidence = nil
	for _, ev := range s.events {
		if item, ok := models.EvidenceFromEvent(ev); ok {
			s.evidence = append(s.evidence, item)
		}
	}
	s.evidence = capPrefix(s.evidence, evidenceBufferCap)
	s.mu.Unlock()

	ch, stop, err := s.gw.SubscribeEvents(ctx)
	if err != nil {
		s.log.Errorw("live subscription failed; continuing without updates", "error", err)
		return nil
	}
	s.mu.Lock()
	s.unsubscribe = stop
	s.mu.Unlock()
	go s.consume(ch)

	s.log.Infow("session started",
		"subjects", len(directory), "events", len(events))
	return nil
}

// consume merges live events into the buffers on a single goroutine, so no
// two live events race each other.
func (s *Session) consume(ch <-chan models.Event) {
	for ev := range ch {
		if !s.alive.Load() {
			return
		}
		s.applyLive(ev)
	}
}

// applyLive prepends the event (evicting the oldest past the cap), applies
// the incremental occupancy update, recomputes the window counts, and
// conditionally retains evidence.
func (s *Session) applyLive(ev models.Event) {
	s.mu.Lock()
	s.events = capPrefix(append([]models.Event{ev}, s.events...), eventBufferCap)
	s.metrics.Occupancy = metrics.ApplyIncrement(s.metrics.Occupancy, ev)
	s.metrics.UniqueIn, s.metrics.ThreatCount = metrics.WindowCounts(s.events)
	if item, ok := models.EvidenceFromEvent(ev); ok {
		s.evidence = capPrefix(append([]models.EvidenceItem{item}, s.evidence...), evidenceBufferCap)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.broadcast(snap)
}

// Snapshot returns a copy of the current derived state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Metrics:  s.metrics,
		Events:   append([]models.Event(nil), s.events...),
		Evidence: append([]models.EvidenceItem(nil), s.evidence...),
	}
}

// Directory returns the cached subject directory.
func (s *Session) Directory() []models.Subject {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Subject(nil), s.directory...)
}

// Search resolves a roll number against the directory and computes that
// subject's attendance for the day. An unknown roll number answers without a
// store round-trip; a store failure yields a retrieval-failed summary, never
// an error.
func (s *Session) Search(ctx context.Context, rollNo string) models.AttendanceSummary {
	s.mu.RLock()
	subject, enrolled := s.subjects[rollNo]
	s.mu.RUnlock()

	if !enrolled {
		return models.AttendanceSummary{RollNo: rollNo, Display: "not enrolled"}
	}
	if s.gw == nil {
		summary := attendance.ComputeDuration(rollNo, nil)
		summary.FullName = subject.FullName
		return summary
	}

	events, err := s.gw.SubjectEvents(ctx, rollNo)
	if err != nil {
		s.log.Errorw("attendance retrieval failed", "roll_no", rollNo, "error", err)
		return models.AttendanceSummary{
			RollNo:          rollNo,
			FullName:        subject.FullName,
			Enrolled:        true,
			RetrievalFailed: true,
			Display:         "retrieval failed",
		}
	}

	summary := attendance.ComputeDuration(rollNo, events)
	summary.FullName = subject.FullName
	return summary
}

// Ask answers a free-text question: translate it to a filter, retrieve the
// matching events, and have the summarizer turn them into prose. Requests
// are serialized by a single in-flight gate; the gate is released on every
// path.
func (s *Session) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	if !s.askBusy.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	defer s.askBusy.Store(false)

	s.mu.RLock()
	translator := s.translator
	s.mu.RUnlock()

	filter, found := translator.Translate(question)
	if !found {
		return NotFoundReply, nil
	}

	var events []models.Event
	if s.gw != nil {
		var err error
		events, err = s.gw.FilteredEvents(ctx, filter)
		if err != nil {
			s.log.Errorw("assistant retrieval failed", "label", filter.Label, "error", err)
			events = nil
		}
	}

	if events == nil {
		events = []models.Event{}
	}
	records, err := json.Marshal(events)
	if err != nil {
		records = []byte("[]")
	}
	augmented := fmt.Sprintf("Question: %s\n\nRetrieved %d records for %q:\n%s",
		question, len(events), filter.Label, records)

	return s.summarizer.Summarize(ctx, roleInstruction, augmented), nil
}

// AddListener registers a live-feed subscriber. The listener receives a
// snapshot after every merged live event; slow listeners miss intermediate
// snapshots rather than block the merge path. The returned remove function
// must be called when the subscriber goes away.
func (s *Session) AddListener() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	s.mu.Lock()
	s.listeners[ch] = struct{}{}
	s.mu.Unlock()

	remove := func() {
		s.mu.Lock()
		delete(s.listeners, ch)
		s.mu.Unlock()
	}
	return ch, remove
}

func (s *Session) broadcast(snap Snapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.listeners {
		select {
		case ch <- snap:
		default:
			// Drop the stale snapshot; replace it with the fresh one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// Close flips the liveness flag and cancels the live subscription. Both the
// in-flight initial load and the live consumer observe the flag, so neither
// mutates state after Close returns.
func (s *Session) Close() {
	s.alive.Store(false)
	s.mu.Lock()
	stop := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// capPrefix keeps the first n elements of a newest-first buffer, evicting
// the oldest overflow.
func capPrefix[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
