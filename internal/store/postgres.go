// Package store is the query gateway over the attendance database: filtered
// reads for the session controller plus a live insert subscription.
package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/campuswatch/attendance-sentry/internal/models"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// notifyChannel is the LISTEN/NOTIFY channel fed by the insert trigger in
// schema.sql.
const notifyChannel = "attendance_events"

const (
	eventColumns   = "id, roll_no, event_type, created_at, is_spoof, evidence_url, camera_id"
	eventsTable    = "attendance_logs"
	subjectColumns = "roll_no, full_name"
	subjectsTable  = "students"
)

// Store reads subjects and events from Postgres.
type Store struct {
	pool *pgxpool.Pool
	log  *zap.SugaredLogger
}

// New creates a connection pool and fails fast if the database is
// unreachable. The caller decides whether that failure degrades the service
// or aborts it.
func New(dbURL string, log *zap.SugaredLogger) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, errors.Wrap(err, "create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	return &Store{pool: pool, log: log}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (s *Store) EnsureSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	return errors.Wrap(err, "apply schema")
}

// Ping is used by the readiness endpoint to validate connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Subjects returns the full enrollment directory.
func (s *Store) Subjects(ctx context.Context) ([]models.Subject, error) {
	sql, args := Select(subjectsTable, subjectColumns).OrderBy("full_name", false).SQL()
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query subjects")
	}
	defer rows.Close()

	var out []models.Subject
	for rows.Next() {
		var sub models.Subject
		if err := rows.Scan(&sub.RollNo, &sub.FullName); err != nil {
			return nil, errors.Wrap(err, "scan subject")
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// RecentEvents returns the newest events, most recent first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]models.Event, error) {
	q := Select(eventsTable, eventColumns).OrderBy("created_at", true).Limit(limit)
	return s.queryEvents(ctx, q)
}

// SubjectEvents returns one subject's non-spoof events ordered oldest first,
// the shape the duration calculator requires.
func (s *Store) SubjectEvents(ctx context.Context, rollNo string) ([]models.Event, error) {
	q := Select(eventsTable, eventColumns).
		Eq("roll_no", rollNo).
		Eq("is_spoof", false).
		OrderBy("created_at", false)
	return s.queryEvents(ctx, q)
}

// FilteredEvents retrieves the full set matching a translated filter,
// descending by timestamp. No pagination: assistant retrievals are expected
// to stay small while the deployment is a single facility.
func (s *Store) FilteredEvents(ctx context.Context, f models.QueryFilter) ([]models.Event, error) {
	q := Select(eventsTable, eventColumns)
	if f.SpoofEquals != nil {
		q.Eq("is_spoof", *f.SpoofEquals)
	}
	if f.RollNoIsNull {
		q.IsNull("roll_no")
	}
	if len(f.RollNoIn) > 0 {
		q.In("roll_no", f.RollNoIn)
	}
	if f.TimestampGte != nil {
		q.Gte("created_at", *f.TimestampGte)
	}
	q.OrderBy("created_at", true)
	return s.queryEvents(ctx, q)
}

func (s *Store) queryEvents(ctx context.Context, q *SelectQuery) ([]models.Event, error) {
	sql, args := q.SQL()
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query events")
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var ev models.Event
		if err := rows.Scan(&ev.ID, &ev.RollNo, &ev.EventType, &ev.Timestamp,
			&ev.IsSpoof, &ev.EvidenceURL, &ev.CameraID); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// SubscribeEvents opens the insert-notification subscription. Each
// notification payload is the full new row as JSON (see schema.sql), decoded
// into an Event and delivered on the returned channel. The returned stop
// function cancels the listener and releases its dedicated connection; the
// channel is closed once the listener exits, so no callback can fire after
// teardown completes.
func (s *Store) SubscribeEvents(ctx context.Context) (<-chan models.Event, func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "acquire listener connection")
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, nil, errors.Wrap(err, "listen")
	}

	listenCtx, cancel := context.WithCancel(ctx)
	ch := make(chan models.Event, 16)

	go func() {
		defer close(ch)
		defer conn.Release()
		for {
			notification, err := conn.Conn().WaitForNotification(listenCtx)
			if err != nil {
				if listenCtx.Err() == nil {
					s.log.Errorw("event subscription terminated", "error", err)
				}
				return
			}
			var ev models.Event
			if err := json.Unmarshal([]byte(notification.Payload), &ev); err != nil {
				s.log.Warnw("dropping malformed event notification", "error", err)
				continue
			}
			select {
			case ch <- ev:
			case <-listenCtx.Done():
				return
			}
		}
	}()

	return ch, cancel, nil
}
