// Package journal persists raised alerts in a SQLite database so they
// survive restarts and can be listed after the bus has dropped them.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"perfd/internal/alert"
	"perfd/internal/broadcast"
)

// DefaultLimit bounds Recent when the caller passes no limit.
const DefaultLimit = 100

// Entry is one journaled alert.
type Entry struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind"`
	Severity string          `json:"severity"`
	Message  string          `json:"message"`
	Payload  json.RawMessage `json:"payload"`
	RaisedAt time.Time       `json:"raised_at"`
}

// Journal writes and queries alerts.
type Journal struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (or creates) the journal at path. ":memory:" keeps it in
// process memory.
func Open(path string, logger *zerolog.Logger) (*Journal, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	j := &Journal{db: db, log: zerolog.Nop()}
	if logger != nil {
		j.log = logger.With().Str("component", "journal").Logger()
	}
	return j, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS alerts (
		id        TEXT PRIMARY KEY,
		kind      TEXT NOT NULL,
		severity  TEXT NOT NULL,
		message   TEXT NOT NULL,
		payload   TEXT NOT NULL,
		raised_at INTEGER NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_alerts_raised ON alerts(raised_at)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_alerts_kind ON alerts(kind)`)
	return err
}

// Append stores a. Re-appending the same alert id is a no-op.
func (j *Journal) Append(ctx context.Context, a alert.Alert) error {
	if a.Payload == nil {
		return errors.New("journal: alert without payload")
	}
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return fmt.Errorf("encode alert payload: %w", err)
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO alerts (id, kind, severity, message, payload, raised_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.Kind().String(), alert.SeverityOf(a.Payload).String(),
		alert.Describe(a.Payload), string(payload), a.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// Consume appends every alert from sub until ctx ends or the subscription
// closes. Write failures are logged and do not stop consumption.
func (j *Journal) Consume(ctx context.Context, sub *broadcast.Subscription[alert.Alert]) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-sub.C():
			if !ok {
				return
			}
			if err := j.Append(ctx, a); err != nil {
				j.log.Warn().Err(err).Str("kind", a.Kind().String()).Msg("journal append failed")
			}
		}
	}
}

// Query filters Recent.
type Query struct {
	// Kind restricts results to one alert kind, e.g. "low_fps".
	Kind  string
	Since time.Time
	Limit int
}

// Recent returns journaled alerts, newest first.
func (j *Journal) Recent(ctx context.Context, q Query) ([]Entry, error) {
	stmt := `SELECT id, kind, severity, message, payload, raised_at FROM alerts WHERE 1=1`
	var args []any
	if q.Kind != "" {
		stmt += " AND kind = ?"
		args = append(args, q.Kind)
	}
	if !q.Since.IsZero() {
		stmt += " AND raised_at >= ?"
		args = append(args, q.Since.UnixNano())
	}
	stmt += " ORDER BY raised_at DESC, id LIMIT ?"
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var payload string
		var raised int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.Severity, &e.Message, &payload, &raised); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		e.RaisedAt = time.Unix(0, raised).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Counts returns how many alerts of each kind are journaled.
func (j *Journal) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT kind, count(*) FROM alerts GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count alerts: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan alert count: %w", err)
		}
		out[kind] = n
	}
	return out, rows.Err()
}

// Prune deletes alerts raised before cutoff.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM alerts WHERE raised_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune alerts: %w", err)
	}
	return res.RowsAffected()
}

func (j *Journal) Close() error { return j.db.Close() }

// RunRetention prunes alerts older than maxAge every interval until ctx ends.
func (j *Journal) RunRetention(ctx context.Context, every, maxAge time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := j.Prune(ctx, time.Now().Add(-maxAge))
			if err != nil {
				j.log.Warn().Err(err).Msg("journal prune failed")
				continue
			}
			if n > 0 {
				j.log.Debug().Int64("pruned", n).Msg("journal pruned")
			}
		}
	}
}
