package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-farm/internal/events"
	"github.com/nerrad567/gray-logic-farm/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-farm/internal/supervisor"
)

const (
	defaultLimit  = 50
	maxLimit      = 500
	eventBuffer   = 512
	pruneInterval = time.Hour
	writeTimeout  = 5 * time.Second
)

const (
	schemaComponent = "history"
	schemaVersion   = 1
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS event_history (
		id         TEXT PRIMARY KEY,
		type       TEXT NOT NULL,
		subject    TEXT NOT NULL,
		payload    TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_event_history_subject ON event_history (subject, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_event_history_created ON event_history (created_at)`,
}

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Logger defines the logging interface used by the Recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Metrics receives recorder counters.
type Metrics interface {
	IncRestart(actor string)
}

type noopMetrics struct{}

func (noopMetrics) IncRestart(string) {}

// Bus is the change feed. *events.Bus implements it.
type Bus interface {
	Subscribe(buffer int, types ...events.Type) *events.Subscription
}

// Entry is one stored event.
type Entry struct {
	ID        string          `json:"id"`
	Type      events.Type     `json:"type"`
	Subject   string          `json:"subject"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Filter selects entries. Zero fields do not filter.
type Filter struct {
	Subject string
	Type    events.Type
	Since   time.Time
	Limit   int // default 50, max 500
}

// Recorder writes and reads event history.
type Recorder struct {
	db        *database.DB
	logger    Logger
	metrics   Metrics
	retention time.Duration
	now       func() time.Time
}

// New creates the event_history table if needed and returns a recorder.
// Entries older than retention are pruned hourly while Run is active;
// zero keeps everything.
func New(ctx context.Context, db *database.DB, retention time.Duration) (*Recorder, error) {
	if err := db.EnsureSchema(ctx, schemaComponent, schemaVersion, schema...); err != nil {
		return nil, fmt.Errorf("creating event_history: %w", err)
	}
	return &Recorder{
		db:        db,
		logger:    noopLogger{},
		metrics:   noopMetrics{},
		retention: retention,
		now:       time.Now,
	}, nil
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// SetMetrics sets the metrics sink.
func (r *Recorder) SetMetrics(m Metrics) {
	r.metrics = m
}

// RecordEvent stores one event. The payload is stored as JSON.
func (r *Recorder) RecordEvent(ctx context.Context, ev events.Event) error {
	var payload *string
	if ev.Payload != nil {
		b, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshalling event payload: %w", err)
		}
		s := string(b)
		payload = &s
	}
	at := ev.Timestamp
	if at.IsZero() {
		at = r.now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_history (id, type, subject, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.Subject, payload, at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// GetHistory returns matching entries, most recent first.
func (r *Recorder) GetHistory(ctx context.Context, filter Filter) ([]Entry, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}

	var conditions []string
	var args []any
	if filter.Subject != "" {
		conditions = append(conditions, "subject = ?")
		args = append(args, filter.Subject)
	}
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(filter.Type))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, type, subject, payload, created_at FROM event_history %s ORDER BY created_at DESC, rowid DESC LIMIT ?",
		where,
	)
	args = append(args, filter.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying event history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			typ       string
			payload   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &typ, &e.Subject, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Type = events.Type(typ)
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing event timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event history: %w", err)
	}
	return out, nil
}

// Prune deletes entries created before cutoff and returns how many went.
func (r *Recorder) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM event_history WHERE created_at < ?`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("pruning event history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning event history: %w", err)
	}
	return n, nil
}

// Start runs the recorder as a supervised actor named "history".
func (r *Recorder) Start(ctx context.Context, sup *supervisor.Supervisor, bus Bus) error {
	return sup.Go(ctx, supervisor.Config{
		Name: "history",
		Run: func(ctx context.Context) error {
			return r.Run(ctx, bus)
		},
		OnRestart: func(int, error) {
			r.metrics.IncRestart("history")
		},
	})
}

// Run records every bus event until ctx is cancelled. Write failures are
// logged and the event is skipped.
func (r *Recorder) Run(ctx context.Context, bus Bus) error {
	sub := bus.Subscribe(eventBuffer)
	defer sub.Close()

	var prune <-chan time.Time
	if r.retention > 0 {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		prune = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			if err := r.RecordEvent(wctx, ev); err != nil {
				r.logger.Error("failed to record event", "type", string(ev.Type), "subject", ev.Subject, "error", err)
			}
			cancel()
		case <-prune:
			n, err := r.Prune(ctx, r.now().Add(-r.retention))
			if err != nil {
				r.logger.Warn("history prune failed", "error", err)
				continue
			}
			if n > 0 {
				r.logger.Debug("history pruned", "deleted", n)
			}
		}
	}
}
