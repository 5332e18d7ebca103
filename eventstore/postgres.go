package eventstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"flowengine.evalgo.org/event"
)

const eventLogSchema = `
CREATE TABLE IF NOT EXISTS event_log (
	seq         BIGSERIAL PRIMARY KEY,
	flow_id     TEXT NOT NULL,
	ts          TIMESTAMPTZ NOT NULL DEFAULT now(),
	event_type  TEXT NOT NULL CHECK (event_type = lower(event_type)) CHECK (event_type IN (
		'flowinitialized', 'stepstarted', 'stepfinished', 'stepfailed', 'stepsignal',
		'propertypreferenceassigned', 'retryscheduled', 'branchcreated',
		'userinteractionrequested', 'userinteractionprovided', 'flowcompleted'
	)),
	payload     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS event_log_flow_seq_idx ON event_log (flow_id, seq);
`

// retryBackoffsMs is Append's fixed retry schedule for transient
// persistence errors: after a failed first attempt, up to 3 retries,
// waiting 20, 40 and 60 ms before them.
var retryBackoffsMs = []time.Duration{20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond}

// PostgresStore is the durable event log, backed by a single event_log
// table with index (flow_id, seq). Append retries transient errors with
// fixed backoff before surfacing them to the caller; List does not retry.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to connString, applies the idempotent schema
// migration, and returns a ready store.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("eventstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("eventstore: ping: %w", err)
	}
	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreFromPool adapts an already-constructed pool, applying
// the same idempotent migration before returning.
func NewPostgresStoreFromPool(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, eventLogSchema); err != nil {
		return fmt.Errorf("eventstore: migrate: %w", err)
	}
	return nil
}

// Pool exposes the underlying connection pool so the persistence adapter
// can open its own transactions against the same event_log table.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

// Close releases the underlying pool.
func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) Append(ctx context.Context, flowID string, kind event.FlowEventKind) (event.FlowEvent, error) {
	payload, err := event.MarshalKind(kind)
	if err != nil {
		return event.FlowEvent{}, &Error{Kind: Serialization, Message: "marshal event payload", Cause: err}
	}

	var ev event.FlowEvent
	appendErr := withRetry(func() error {
		row := s.pool.QueryRow(ctx,
			`INSERT INTO event_log (flow_id, event_type, payload) VALUES ($1, $2, $3) RETURNING seq, flow_id, ts`,
			flowID, string(kind.Discriminant()), payload,
		)
		return row.Scan(&ev.Seq, &ev.FlowID, &ev.Ts)
	})
	if appendErr != nil {
		return event.FlowEvent{}, classifyPgError("append event", appendErr)
	}
	ev.Kind = kind
	return ev, nil
}

func (s *PostgresStore) List(ctx context.Context, flowID string) ([]event.FlowEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, flow_id, ts, payload FROM event_log WHERE flow_id = $1 ORDER BY seq ASC`,
		flowID,
	)
	if err != nil {
		return nil, classifyPgError("list events", err)
	}
	defer rows.Close()

	var out []event.FlowEvent
	for rows.Next() {
		var (
			ev      event.FlowEvent
			payload []byte
		)
		if err := rows.Scan(&ev.Seq, &ev.FlowID, &ev.Ts, &payload); err != nil {
			return nil, classifyPgError("scan event row", err)
		}
		kind, err := event.UnmarshalKind(payload)
		if err != nil {
			return nil, &Error{Kind: Integrity, Message: "decode stored payload", Cause: err}
		}
		ev.Kind = kind
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError("iterate event rows", err)
	}
	return out, nil
}

func withRetry(op func() error) error {
	var lastErr error
	for attempt := 0; attempt < len(retryBackoffsMs)+1; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isTransientPgError(lastErr) || attempt >= len(retryBackoffsMs) {
			return lastErr
		}
		time.Sleep(retryBackoffsMs[attempt])
	}
	return lastErr
}

func isTransientPgError(err error) bool {
	var pgErr *pgconn.PgError
	if !isPgError(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "08006", "08003", "08000":
		return true
	default:
		return false
	}
}

func isPgError(err error, target **pgconn.PgError) bool {
	for err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok {
			*target = pgErr
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func classifyPgError(message string, err error) error {
	if err == pgx.ErrNoRows {
		return &Error{Kind: Integrity, Message: message, Cause: err}
	}
	if isTransientPgError(err) {
		return &Error{Kind: Transient, Message: message, Cause: err}
	}
	var pgErr *pgconn.PgError
	if isPgError(err, &pgErr) {
		switch pgErr.Code[:2] {
		case "23":
			return &Error{Kind: Integrity, Message: message, Cause: err}
		}
	}
	return &Error{Kind: Transient, Message: message, Cause: err}
}
