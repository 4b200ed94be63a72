// Package postgres implements the "postgres" destination kind: writes
// batches of events as keyed rows with a configurable conflict-resolution
// policy (upsert/replace/ignore, spec §4.3). Statement building follows the
// teacher's internal/impl/sql/input_sql_select.go use of
// github.com/Masterminds/squirrel; the connection pool uses
// github.com/jackc/pgx/v5/pgxpool in place of the teacher's bare
// database/sql, matching the pack's Postgres-heavy domain stack.
package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/warpstreamlabs/cdcengine/internal/destination"
	"github.com/warpstreamlabs/cdcengine/internal/errs"
	"github.com/warpstreamlabs/cdcengine/internal/event"
	"github.com/warpstreamlabs/cdcengine/internal/registry"
)

const Kind = "postgres"

// Register adds the postgres destination kind to r. Called explicitly from
// cmd/cdcengine's plugin-registration step rather than from init(), so a
// duplicate-kind conflict surfaces as a real error instead of a panic.
func Register(r *registry.Registry) error {
	return r.RegisterDestination(&Factory{})
}

type Factory struct{}

func (Factory) Kind() string { return Kind }

func (Factory) Validate(cfg event.RawConfig) error {
	var errsList []string
	if dsn, _ := cfg["dsn"].(string); dsn == "" {
		errsList = append(errsList, "dsn must be set")
	}
	if t, _ := cfg["table"].(string); t == "" {
		errsList = append(errsList, "table must be set")
	}
	if pk, _ := cfg["key_column"].(string); pk == "" {
		errsList = append(errsList, "key_column must be set")
	}
	if pol, ok := cfg["conflict_policy"]; ok {
		p, _ := pol.(string)
		switch destination.ConflictPolicy(p) {
		case destination.PolicyUpsert, destination.PolicyReplace, destination.PolicyIgnore:
		default:
			errsList = append(errsList, "conflict_policy must be one of upsert|replace|ignore")
		}
	}
	if len(errsList) > 0 {
		return &destination.ValidationError{Errors: errsList}
	}
	return nil
}

func (f Factory) Create(cfg event.RawConfig, log zerolog.Logger) (destination.Destination, error) {
	if err := f.Validate(cfg); err != nil {
		return nil, errs.Wrap(errs.CodeValidation, err, "invalid postgres destination config")
	}

	dsn, _ := cfg["dsn"].(string)
	table, _ := cfg["table"].(string)
	keyCol, _ := cfg["key_column"].(string)

	policy := destination.PolicyUpsert
	if p, ok := cfg["conflict_policy"].(string); ok && p != "" {
		policy = destination.ConflictPolicy(p)
	}

	return &postgresDestination{
		dsn:    dsn,
		table:  table,
		keyCol: keyCol,
		policy: policy,
		log:    log,
	}, nil
}

type postgresDestination struct {
	dsn    string
	table  string
	keyCol string
	policy destination.ConflictPolicy

	log zerolog.Logger

	mu   sync.Mutex
	pool *pgxpool.Pool
}

func (d *postgresDestination) Kind() string { return Kind }

func (d *postgresDestination) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool != nil {
		return nil
	}
	pool, err := pgxpool.New(ctx, d.dsn)
	if err != nil {
		return errs.Wrap(errs.CodeConnect, err, "postgres: failed to open pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return errs.Wrap(errs.CodeConnect, err, "postgres: ping failed")
	}
	d.pool = pool
	return nil
}

func (d *postgresDestination) Test(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, d.dsn)
	if err != nil {
		return errs.Wrap(errs.CodeConnect, err, "postgres: probe failed to connect")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return errs.Wrap(errs.CodeConnect, err, "postgres: probe ping failed")
	}
	return nil
}

func (d *postgresDestination) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool != nil {
		d.pool.Close()
		d.pool = nil
	}
	return nil
}

// WriteBatch writes events in source order within the batch, reporting a
// per-record outcome so the fan-out writer can distinguish partial failure
// from whole-batch failure.
func (d *postgresDestination) WriteBatch(ctx context.Context, events []event.ChangeEvent) (destination.WriteReport, error) {
	d.mu.Lock()
	pool := d.pool
	d.mu.Unlock()
	if pool == nil {
		return destination.WriteReport{}, errs.State("postgres: destination not open")
	}

	report := destination.WriteReport{Outcomes: make([]destination.RecordOutcome, 0, len(events))}
	for _, ev := range events {
		if ev.Operation == event.OpDelete {
			q, args, err := squirrel.Delete(d.table).Where(squirrel.Eq{d.keyCol: ev.ID.String()}).PlaceholderFormat(squirrel.Dollar).ToSql()
			if err != nil {
				report.Outcomes = append(report.Outcomes, destination.RecordOutcome{EventID: ev.ID.String(), Err: err})
				continue
			}
			if _, err := pool.Exec(ctx, q, args...); err != nil {
				report.Outcomes = append(report.Outcomes, destination.RecordOutcome{EventID: ev.ID.String(), Err: err})
				continue
			}
			report.Outcomes = append(report.Outcomes, destination.RecordOutcome{EventID: ev.ID.String()})
			continue
		}

		cols, vals := flattenRow(d.keyCol, ev)
		builder := squirrel.Insert(d.table).Columns(cols...).Values(vals...).PlaceholderFormat(squirrel.Dollar)

		var sql string
		var args []any
		var err error
		switch d.policy {
		case destination.PolicyIgnore:
			sql, args, err = builder.Suffix(fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", d.keyCol)).ToSql()
		case destination.PolicyReplace:
			sql, args, err = builder.ToSql()
		default: // upsert
			sql, args, err = builder.Suffix(onConflictUpdateClause(d.keyCol, cols)).ToSql()
		}
		if err != nil {
			report.Outcomes = append(report.Outcomes, destination.RecordOutcome{EventID: ev.ID.String(), Err: err})
			continue
		}

		if _, execErr := pool.Exec(ctx, sql, args...); execErr != nil {
			if d.policy == destination.PolicyReplace {
				execErr = errs.Wrap(errs.CodeConnect, execErr, "postgres: conflict on replace policy is retryable")
			}
			report.Outcomes = append(report.Outcomes, destination.RecordOutcome{EventID: ev.ID.String(), Err: execErr})
			continue
		}
		report.Outcomes = append(report.Outcomes, destination.RecordOutcome{EventID: ev.ID.String()})
	}
	return report, nil
}

func onConflictUpdateClause(keyCol string, cols []string) string {
	clause := fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET ", keyCol)
	first := true
	for _, c := range cols {
		if c == keyCol {
			continue
		}
		if !first {
			clause += ", "
		}
		clause += fmt.Sprintf("%s = EXCLUDED.%s", c, c)
		first = false
	}
	return clause
}

func flattenRow(keyCol string, ev event.ChangeEvent) ([]string, []any) {
	cols := make([]string, 0, len(ev.Data)+1)
	vals := make([]any, 0, len(ev.Data)+1)
	cols = append(cols, keyCol)
	vals = append(vals, ev.ID.String())
	for k, v := range ev.Data {
		cols = append(cols, k)
		vals = append(vals, v)
	}
	return cols, vals
}
