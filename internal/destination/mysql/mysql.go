// Package mysql implements the "mysql" destination kind: writes batches of
// events as keyed rows with a configurable conflict-resolution policy
// (upsert/replace/ignore, spec §4.3), mirroring destination/postgres's
// shape per spec §9 ("adding a kind is purely additive"). Statement
// building reuses the same github.com/Masterminds/squirrel builder as
// destination/postgres, switched to MySQL's '?' placeholder format and
// its ON DUPLICATE KEY UPDATE / INSERT IGNORE dialect. The driver is
// github.com/go-sql-driver/mysql over database/sql, both named in the
// teacher's own go.mod (internal/impl/sql previously built its MySQL
// support on this driver).
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/Masterminds/squirrel"
	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"github.com/warpstreamlabs/cdcengine/internal/destination"
	"github.com/warpstreamlabs/cdcengine/internal/errs"
	"github.com/warpstreamlabs/cdcengine/internal/event"
	"github.com/warpstreamlabs/cdcengine/internal/registry"
)

const Kind = "mysql"

// Register adds the mysql destination kind to r. Called explicitly from
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
		return nil, errs.Wrap(errs.CodeValidation, err, "invalid mysql destination config")
	}

	dsn, _ := cfg["dsn"].(string)
	table, _ := cfg["table"].(string)
	keyCol, _ := cfg["key_column"].(string)

	policy := destination.PolicyUpsert
	if p, ok := cfg["conflict_policy"].(string); ok && p != "" {
		policy = destination.ConflictPolicy(p)
	}

	return &mysqlDestination{
		dsn:    dsn,
		table:  table,
		keyCol: keyCol,
		policy: policy,
		log:    log,
	}, nil
}

type mysqlDestination struct {
	dsn    string
	table  string
	keyCol string
	policy destination.ConflictPolicy

	log zerolog.Logger

	mu sync.Mutex
	db *sql.DB
}

func (d *mysqlDestination) Kind() string { return Kind }

func (d *mysqlDestination) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db != nil {
		return nil
	}
	db, err := sql.Open("mysql", d.dsn)
	if err != nil {
		return errs.Wrap(errs.CodeConnect, err, "mysql: failed to open pool")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errs.Wrap(errs.CodeConnect, err, "mysql: ping failed")
	}
	d.db = db
	return nil
}

func (d *mysqlDestination) Test(ctx context.Context) error {
	db, err := sql.Open("mysql", d.dsn)
	if err != nil {
		return errs.Wrap(errs.CodeConnect, err, "mysql: probe failed to connect")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return errs.Wrap(errs.CodeConnect, err, "mysql: probe ping failed")
	}
	return nil
}

func (d *mysqlDestination) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db != nil {
		d.db.Close()
		d.db = nil
	}
	return nil
}

// WriteBatch writes events in source order within the batch, reporting a
// per-record outcome so the fan-out writer can distinguish partial failure
// from whole-batch failure.
func (d *mysqlDestination) WriteBatch(ctx context.Context, events []event.ChangeEvent) (destination.WriteReport, error) {
	d.mu.Lock()
	db := d.db
	d.mu.Unlock()
	if db == nil {
		return destination.WriteReport{}, errs.State("mysql: destination not open")
	}

	report := destination.WriteReport{Outcomes: make([]destination.RecordOutcome, 0, len(events))}
	for _, ev := range events {
		if ev.Operation == event.OpDelete {
			q, args, err := squirrel.Delete(d.table).Where(squirrel.Eq{d.keyCol: ev.ID.String()}).PlaceholderFormat(squirrel.Question).ToSql()
			if err != nil {
				report.Outcomes = append(report.Outcomes, destination.RecordOutcome{EventID: ev.ID.String(), Err: err})
				continue
			}
			if _, err := db.ExecContext(ctx, q, args...); err != nil {
				report.Outcomes = append(report.Outcomes, destination.RecordOutcome{EventID: ev.ID.String(), Err: err})
				continue
			}
			report.Outcomes = append(report.Outcomes, destination.RecordOutcome{EventID: ev.ID.String()})
			continue
		}

		cols, vals := flattenRow(d.keyCol, ev)
		builder := squirrel.Insert(d.table).Columns(cols...).Values(vals...).PlaceholderFormat(squirrel.Question)

		var sqlStr string
		var args []any
		var err error
		switch d.policy {
		case destination.PolicyIgnore:
			sqlStr, args, err = builder.Options("IGNORE").ToSql()
		case destination.PolicyReplace:
			sqlStr, args, err = builder.ToSql()
		default: // upsert
			sqlStr, args, err = builder.Suffix(onDuplicateKeyUpdateClause(d.keyCol, cols)).ToSql()
		}
		if err != nil {
			report.Outcomes = append(report.Outcomes, destination.RecordOutcome{EventID: ev.ID.String(), Err: err})
			continue
		}

		if _, execErr := db.ExecContext(ctx, sqlStr, args...); execErr != nil {
			if d.policy == destination.PolicyReplace {
				execErr = errs.Wrap(errs.CodeConnect, execErr, "mysql: conflict on replace policy is retryable")
			}
			report.Outcomes = append(report.Outcomes, destination.RecordOutcome{EventID: ev.ID.String(), Err: execErr})
			continue
		}
		report.Outcomes = append(report.Outcomes, destination.RecordOutcome{EventID: ev.ID.String()})
	}
	return report, nil
}

func onDuplicateKeyUpdateClause(keyCol string, cols []string) string {
	clause := "ON DUPLICATE KEY UPDATE "
	first := true
	for _, c := range cols {
		if c == keyCol {
			continue
		}
		if !first {
			clause += ", "
		}
		clause += fmt.Sprintf("%s = VALUES(%s)", c, c)
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
