// Package persistence implements the durable Adapter that backs the engine
// in production: a transactional combination of the event log with the
// artifact, step-error, and branch side tables, so a StepFinished's
// artifacts, a StepFailed's error row, or a BranchCreated's lineage row
// commit atomically with the event they describe.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"flowengine.evalgo.org/artifact"
	"flowengine.evalgo.org/engine"
	"flowengine.evalgo.org/event"
	"flowengine.evalgo.org/eventstore"
)

const sideTableSchema = `
CREATE TABLE IF NOT EXISTS workflow_step_artifacts (
	artifact_hash   TEXT PRIMARY KEY CHECK (length(artifact_hash) = 64),
	kind            TEXT NOT NULL,
	payload         JSONB NOT NULL,
	metadata        JSONB,
	produced_in_seq BIGINT NOT NULL REFERENCES event_log(seq)
);
CREATE INDEX IF NOT EXISTS workflow_step_artifacts_seq_idx ON workflow_step_artifacts (produced_in_seq);

CREATE TABLE IF NOT EXISTS step_execution_errors (
	id             BIGSERIAL PRIMARY KEY,
	flow_id        TEXT NOT NULL,
	step_id        TEXT NOT NULL,
	attempt_number INT NOT NULL CHECK (attempt_number >= 0),
	error_class    TEXT NOT NULL CHECK (error_class IN ('validation', 'runtime', 'transient', 'permanent')),
	details        JSONB,
	ts             TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS step_execution_errors_flow_idx ON step_execution_errors (flow_id);
CREATE INDEX IF NOT EXISTS step_execution_errors_step_attempt_idx ON step_execution_errors (step_id, attempt_number);

CREATE TABLE IF NOT EXISTS workflow_branches (
	branch_id              TEXT PRIMARY KEY,
	root_flow_id           TEXT NOT NULL,
	parent_flow_id         TEXT NOT NULL,
	created_from_step_id   TEXT NOT NULL,
	divergence_params_hash TEXT,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS workflow_branches_root_idx ON workflow_branches (root_flow_id);
CREATE INDEX IF NOT EXISTS workflow_branches_parent_idx ON workflow_branches (parent_flow_id);
`

// PostgresAdapter is the durable engine.Adapter: every Append commits the
// event_log row together with whatever side-table rows that event variant
// requires within a single transaction, so a StepFinished's artifacts (or a
// StepFailed's error row, or a BranchCreated's lineage row) can never be
// partially persisted.
type PostgresAdapter struct {
	pool *pgxpool.Pool
}

// NewPostgresAdapter wraps an already-migrated event store's pool, applying
// this package's own side-table migration before returning.
func NewPostgresAdapter(ctx context.Context, store *eventstore.PostgresStore) (*PostgresAdapter, error) {
	pool := store.Pool()
	if _, err := pool.Exec(ctx, sideTableSchema); err != nil {
		return nil, fmt.Errorf("persistence: migrate side tables: %w", err)
	}
	return &PostgresAdapter{pool: pool}, nil
}

func (a *PostgresAdapter) Append(ctx context.Context, flowID string, kind event.FlowEventKind, opts ...engine.AppendOption) (event.FlowEvent, error) {
	cfg := engine.ResolveAppendOptions(opts...)

	payload, err := event.MarshalKind(kind)
	if err != nil {
		return event.FlowEvent{}, fmt.Errorf("persistence: marshal event payload: %w", err)
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return event.FlowEvent{}, fmt.Errorf("persistence: begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var ev event.FlowEvent
	row := tx.QueryRow(ctx,
		`INSERT INTO event_log (flow_id, event_type, payload) VALUES ($1, $2, $3) RETURNING seq, flow_id, ts`,
		flowID, string(kind.Discriminant()), payload,
	)
	if err := row.Scan(&ev.Seq, &ev.FlowID, &ev.Ts); err != nil {
		return event.FlowEvent{}, fmt.Errorf("persistence: insert event: %w", err)
	}
	ev.Kind = kind

	for _, art := range cfg.Artifacts {
		artPayload, err := json.Marshal(art.Payload)
		if err != nil {
			return event.FlowEvent{}, fmt.Errorf("persistence: marshal artifact payload: %w", err)
		}
		var artMetadata []byte
		if art.Metadata != nil {
			if artMetadata, err = json.Marshal(art.Metadata); err != nil {
				return event.FlowEvent{}, fmt.Errorf("persistence: marshal artifact metadata: %w", err)
			}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO workflow_step_artifacts (artifact_hash, kind, payload, metadata, produced_in_seq)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (artifact_hash) DO NOTHING`,
			art.Hash, art.Kind, artPayload, artMetadata, ev.Seq,
		); err != nil {
			return event.FlowEvent{}, fmt.Errorf("persistence: insert artifact: %w", err)
		}
	}

	if sf, ok := kind.(event.StepFailed); ok {
		if _, err := tx.Exec(ctx,
			`INSERT INTO step_execution_errors (flow_id, step_id, attempt_number, error_class) VALUES ($1, $2, $3, $4)`,
			flowID, sf.StepID, cfg.AttemptNumber, string(sf.Error),
		); err != nil {
			return event.FlowEvent{}, fmt.Errorf("persistence: insert step error: %w", err)
		}
	}

	if bc, ok := kind.(event.BranchCreated); ok {
		if _, err := tx.Exec(ctx,
			`INSERT INTO workflow_branches (branch_id, root_flow_id, parent_flow_id, created_from_step_id, divergence_params_hash)
			 VALUES ($1, $2, $3, $4, $5)`,
			bc.BranchID, bc.RootFlowID, bc.ParentFlowID, bc.CreatedFromStepID, bc.DivergenceParamsHash,
		); err != nil {
			return event.FlowEvent{}, fmt.Errorf("persistence: insert branch record: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return event.FlowEvent{}, fmt.Errorf("persistence: commit: %w", err)
	}
	return ev, nil
}

func (a *PostgresAdapter) List(ctx context.Context, flowID string) ([]event.FlowEvent, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT seq, flow_id, ts, payload FROM event_log WHERE flow_id = $1 ORDER BY seq ASC`,
		flowID,
	)
	if err != nil {
		return nil, fmt.Errorf("persistence: list events: %w", err)
	}
	defer rows.Close()

	var out []event.FlowEvent
	for rows.Next() {
		var (
			ev      event.FlowEvent
			payload []byte
		)
		if err := rows.Scan(&ev.Seq, &ev.FlowID, &ev.Ts, &payload); err != nil {
			return nil, fmt.Errorf("persistence: scan event row: %w", err)
		}
		kind, err := event.UnmarshalKind(payload)
		if err != nil {
			return nil, fmt.Errorf("persistence: decode payload: %w", err)
		}
		ev.Kind = kind
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persistence: iterate event rows: %w", err)
	}
	return out, nil
}

func (a *PostgresAdapter) GetArtifact(ctx context.Context, hash string) (artifact.Artifact, bool, error) {
	var (
		art      artifact.Artifact
		payload  []byte
		metadata []byte
	)
	row := a.pool.QueryRow(ctx,
		`SELECT kind, payload, metadata FROM workflow_step_artifacts WHERE artifact_hash = $1`,
		hash,
	)
	if err := row.Scan(&art.Kind, &payload, &metadata); err != nil {
		if err == pgx.ErrNoRows {
			return artifact.Artifact{}, false, nil
		}
		return artifact.Artifact{}, false, fmt.Errorf("persistence: load artifact: %w", err)
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return artifact.Artifact{}, false, fmt.Errorf("persistence: decode artifact payload: %w", err)
	}
	art.Hash = hash
	art.Payload = decoded
	if metadata != nil {
		if err := json.Unmarshal(metadata, &art.Metadata); err != nil {
			return artifact.Artifact{}, false, fmt.Errorf("persistence: decode artifact metadata: %w", err)
		}
	}
	return art, true, nil
}

// RootFlowID implements engine.BranchLookup against the durable branch
// lineage table, so multi-level branch roots resolve across processes.
func (a *PostgresAdapter) RootFlowID(ctx context.Context, flowID string) (string, bool, error) {
	var root string
	row := a.pool.QueryRow(ctx, `SELECT root_flow_id FROM workflow_branches WHERE branch_id = $1`, flowID)
	if err := row.Scan(&root); err != nil {
		if err == pgx.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("persistence: lookup branch root: %w", err)
	}
	return root, true, nil
}
