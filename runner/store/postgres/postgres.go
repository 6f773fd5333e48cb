// Package postgres is the Postgres-backed implementation of store.Store,
// built directly on core/csql the way the teacher's backend package builds
// its resource tables: inline SQL and schema-qualified table names. Event
// ids are reserved with an UPDATE ... RETURNING on a per-process counter
// row, which serializes concurrent appenders on the same pipeline.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/relabs-tech/kurbisio-runner/core/csql"
	"github.com/relabs-tech/kurbisio-runner/core/logger"
	runnererrors "github.com/relabs-tech/kurbisio-runner/runner/errors"
	"github.com/relabs-tech/kurbisio-runner/runner/process"
	"github.com/relabs-tech/kurbisio-runner/runner/store"
)

const uniqueViolation = "23505"

// Store is a Postgres-backed store.Store.
type Store struct {
	db *csql.DB
}

// New wraps db as a runner Store. db's schema is expected to already exist
// (see csql.OpenWithSchema); call SetupTables once per process to create
// the notification and tracking tables.
func New(db *csql.DB) *Store {
	return &Store{db: db}
}

// SetupTables creates the notifications and tracking tables for proc, and a
// counters row for every pipeline in pipelineIDs, idempotently.
func (s *Store) SetupTables(ctx context.Context, proc string, pipelineIDs []int) error {
	schema := s.db.Schema
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+notificationTable(schema, proc)+` (
  pipeline_id INTEGER NOT NULL,
  id BIGINT NOT NULL,
  topic VARCHAR NOT NULL,
  state JSONB NOT NULL,
  causal_dependencies JSONB NOT NULL DEFAULT '[]',
  created_at TIMESTAMP NOT NULL DEFAULT now(),
  PRIMARY KEY (pipeline_id, id)
);
CREATE TABLE IF NOT EXISTS `+trackingTable(schema, proc)+` (
  downstream_process VARCHAR NOT NULL,
  upstream_process VARCHAR NOT NULL,
  pipeline_id INTEGER NOT NULL,
  notification_id BIGINT NOT NULL,
  UNIQUE(downstream_process, upstream_process, pipeline_id, notification_id)
);
CREATE TABLE IF NOT EXISTS `+counterTable(schema, proc)+` (
  pipeline_id INTEGER PRIMARY KEY,
  next_id BIGINT NOT NULL DEFAULT 1
);
`)
	if err != nil {
		return runnererrors.NewOperationalError("setup tables for "+proc, err)
	}

	for _, pipelineID := range pipelineIDs {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO `+counterTable(schema, proc)+` (pipeline_id, next_id)
VALUES ($1, 1) ON CONFLICT (pipeline_id) DO NOTHING;`, pipelineID)
		if err != nil {
			return runnererrors.NewOperationalError("seed counter for "+proc, err)
		}
	}
	return nil
}

// quoteIdent quotes a table name built from a process name. runner.System
// does not restrict the characters of process names, so every such name
// goes through this quoting before it reaches SQL text.
func quoteIdent(name string) string {
	return pq.QuoteIdentifier(name)
}

func notificationTable(schema, proc string) string {
	return fmt.Sprintf("%s.%s", schema, quoteIdent("runner_notification_"+proc))
}

func trackingTable(schema, proc string) string {
	return fmt.Sprintf("%s.%s", schema, quoteIdent("runner_tracking_"+proc))
}

func counterTable(schema, proc string) string {
	return fmt.Sprintf("%s.%s", schema, quoteIdent("runner_counter_"+proc))
}

// RunInTransaction implements store.Store.
func (s *Store) RunInTransaction(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return runnererrors.NewOperationalError("begin transaction", err)
	}

	ptx := &pgTx{ctx: ctx, tx: tx, schema: s.db.Schema}
	if err := fn(ptx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Default().WithError(rbErr).Warn("rollback failed after transaction error")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return runnererrors.NewOperationalError("commit transaction", err)
	}
	return nil
}

type pgTx struct {
	ctx    context.Context
	tx     *sql.Tx
	schema string
}

func (t *pgTx) InsertTracking(downstream, upstream string, pipeline int, notificationID int64) error {
	_, err := t.tx.ExecContext(t.ctx, `
INSERT INTO `+trackingTable(t.schema, downstream)+`
  (downstream_process, upstream_process, pipeline_id, notification_id)
VALUES ($1, $2, $3, $4);`, downstream, upstream, pipeline, notificationID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return &runnererrors.UniquenessConflictError{
				Downstream: downstream, Upstream: upstream, Pipeline: pipeline, NotificationID: notificationID,
			}
		}
		return runnererrors.NewOperationalError("insert tracking record", err)
	}
	return nil
}

func (t *pgTx) AppendEvents(proc string, pipeline int, newEvents []process.Event) ([]process.Notification, error) {
	if len(newEvents) == 0 {
		return nil, nil
	}

	var nextID int64
	row := t.tx.QueryRowContext(t.ctx, `
UPDATE `+counterTable(t.schema, proc)+`
SET next_id = next_id + $2
WHERE pipeline_id = $1
RETURNING next_id - $2;`, pipeline, len(newEvents))
	if err := row.Scan(&nextID); err != nil {
		return nil, runnererrors.NewOperationalError("reserve notification ids for "+proc, err)
	}

	notifications := make([]process.Notification, 0, len(newEvents))
	id := nextID
	for _, e := range newEvents {
		state := e.Payload
		if state == nil {
			state = []byte("null")
		}
		_, err := t.tx.ExecContext(t.ctx, `
INSERT INTO `+notificationTable(t.schema, proc)+`
  (pipeline_id, id, topic, state, causal_dependencies)
VALUES ($1, $2, $3, $4, '[]');`, pipeline, id, e.Topic, state)
		if err != nil {
			return nil, runnererrors.NewOperationalError("append event for "+proc, err)
		}
		notifications = append(notifications, process.Notification{ID: id, Topic: e.Topic, State: e.Payload})
		id++
	}
	return notifications, nil
}

// GetNotifications implements store.Store: half-open (start, stop].
func (s *Store) GetNotifications(ctx context.Context, proc string, pipeline int, start, stop *int64) ([]process.Notification, error) {
	query := `
SELECT id, topic, state, causal_dependencies FROM ` + notificationTable(s.db.Schema, proc) + `
WHERE pipeline_id = $1 AND id > $2`
	args := []interface{}{pipeline, int64ValueOr(start, 0)}
	if stop != nil {
		query += " AND id <= $3"
		args = append(args, *stop)
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, runnererrors.NewOperationalError("get notifications for "+proc, err)
	}
	defer rows.Close()

	var result []process.Notification
	for rows.Next() {
		var n process.Notification
		var causalRaw []byte
		if err := rows.Scan(&n.ID, &n.Topic, &n.State, &causalRaw); err != nil {
			return nil, runnererrors.NewOperationalError("scan notification for "+proc, err)
		}
		if len(causalRaw) > 0 {
			var deps []process.CausalDependency
			if err := json.Unmarshal(causalRaw, &deps); err == nil {
				n.CausalDependencies = deps
			}
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, runnererrors.NewOperationalError("iterate notifications for "+proc, err)
	}
	return result, nil
}

// GetMaxNotificationID implements store.Store.
func (s *Store) GetMaxNotificationID(ctx context.Context, proc string, pipeline int) (int64, error) {
	var max sql.NullInt64
	row := s.db.QueryRowContext(ctx, `
SELECT MAX(id) FROM `+notificationTable(s.db.Schema, proc)+` WHERE pipeline_id = $1;`, pipeline)
	if err := row.Scan(&max); err != nil {
		return 0, runnererrors.NewOperationalError("get max notification id for "+proc, err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

// GetMaxTrackingNotificationID implements store.Store.
func (s *Store) GetMaxTrackingNotificationID(ctx context.Context, downstream, upstream string, pipeline int) (*int64, error) {
	var max sql.NullInt64
	row := s.db.QueryRowContext(ctx, `
SELECT MAX(notification_id) FROM `+trackingTable(s.db.Schema, downstream)+`
WHERE upstream_process = $1 AND pipeline_id = $2;`, upstream, pipeline)
	if err := row.Scan(&max); err != nil {
		return nil, runnererrors.NewOperationalError("get max tracking id", err)
	}
	if !max.Valid {
		return nil, nil
	}
	v := max.Int64
	return &v, nil
}

func int64ValueOr(p *int64, def int64) int64 {
	if p == nil {
		return def
	}
	return *p
}
