package configstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/lib/pq"

	"github.com/warpstreamlabs/cdcengine/internal/errs"
	"github.com/warpstreamlabs/cdcengine/internal/event"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresStore persists connectors/destinations/flows as three tables
// (spec §6), using github.com/jmoiron/sqlx for querying and
// github.com/golang-migrate/migrate/v4 to apply schema migrations at
// startup — the relational-backend counterpart to FileStore.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore opens dsn, runs pending migrations, and returns a ready
// relational config store.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnect, err, "configstore: failed to connect to postgres")
	}

	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "configstore: failed to load migrations")
	}
	driver, err := pgmigrate.WithInstance(db.DB, &pgmigrate.Config{})
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "configstore: failed to init migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "configstore: failed to init migrator")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, errs.Wrap(errs.CodeInternal, err, "configstore: migration failed")
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

type connectorRow struct {
	Name        string         `db:"name"`
	Kind        string         `db:"kind"`
	Config      []byte         `db:"config"`
	Description string         `db:"description"`
	Tags        pq.StringArray `db:"tags"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r connectorRow) toSpec() (event.ConnectorSpec, error) {
	cfg, err := decodeJSONObject(r.Config)
	if err != nil {
		return event.ConnectorSpec{}, err
	}
	return event.ConnectorSpec{
		Name: r.Name, Kind: r.Kind, Config: cfg, Description: r.Description,
		Tags: []string(r.Tags), CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}, nil
}

func (s *PostgresStore) ListConnectors(ctx context.Context) ([]event.ConnectorSpec, error) {
	var rows []connectorRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT name, kind, config, description, tags, created_at, updated_at FROM connectors ORDER BY name`); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "configstore: list connectors failed")
	}
	out := make([]event.ConnectorSpec, 0, len(rows))
	for _, r := range rows {
		spec, err := r.toSpec()
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

func (s *PostgresStore) GetConnector(ctx context.Context, name string) (event.ConnectorSpec, error) {
	var r connectorRow
	err := s.db.GetContext(ctx, &r, `SELECT name, kind, config, description, tags, created_at, updated_at FROM connectors WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return event.ConnectorSpec{}, errs.NotFound("connector %q not found", name)
	}
	if err != nil {
		return event.ConnectorSpec{}, errs.Wrap(errs.CodeInternal, err, "configstore: get connector failed")
	}
	return r.toSpec()
}

func (s *PostgresStore) PutConnector(ctx context.Context, spec event.ConnectorSpec, expectedUpdatedAt time.Time) (event.ConnectorSpec, error) {
	cfgJSON, err := encodeJSONObject(spec.Config)
	if err != nil {
		return event.ConnectorSpec{}, err
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return event.ConnectorSpec{}, errs.Wrap(errs.CodeInternal, err, "configstore: begin tx failed")
	}
	defer tx.Rollback()

	var current sql.NullTime
	err = tx.GetContext(ctx, &current, `SELECT updated_at FROM connectors WHERE name = $1 FOR UPDATE`, spec.Name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if !expectedUpdatedAt.IsZero() {
			return event.ConnectorSpec{}, errs.Conflict("connector %q does not exist", spec.Name)
		}
		spec.CreatedAt, spec.UpdatedAt = now, now
		if _, err := tx.ExecContext(ctx, `INSERT INTO connectors (name, kind, config, description, tags, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			spec.Name, spec.Kind, cfgJSON, spec.Description, pq.StringArray(spec.Tags), spec.CreatedAt, spec.UpdatedAt); err != nil {
			return event.ConnectorSpec{}, errs.Wrap(errs.CodeInternal, err, "configstore: insert connector failed")
		}
	case err != nil:
		return event.ConnectorSpec{}, errs.Wrap(errs.CodeInternal, err, "configstore: lock connector failed")
	default:
		if !current.Time.Equal(expectedUpdatedAt) {
			return event.ConnectorSpec{}, errs.Conflict("connector %q was modified concurrently", spec.Name)
		}
		spec.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, `UPDATE connectors SET kind=$2, config=$3, description=$4, tags=$5, updated_at=$6 WHERE name=$1`,
			spec.Name, spec.Kind, cfgJSON, spec.Description, pq.StringArray(spec.Tags), spec.UpdatedAt); err != nil {
			return event.ConnectorSpec{}, errs.Wrap(errs.CodeInternal, err, "configstore: update connector failed")
		}
	}

	if err := tx.Commit(); err != nil {
		return event.ConnectorSpec{}, errs.Wrap(errs.CodeInternal, err, "configstore: commit failed")
	}
	return spec, nil
}

func (s *PostgresStore) DeleteConnector(ctx context.Context, name string) error {
	var refCount int
	if err := s.db.GetContext(ctx, &refCount, `SELECT count(*) FROM flows WHERE connector_name = $1`, name); err != nil {
		return errs.Wrap(errs.CodeInternal, err, "configstore: referential check failed")
	}
	if refCount > 0 {
		return errs.Referential("connector %q is referenced by %d flow(s)", name, refCount)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM connectors WHERE name = $1`, name)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, err, "configstore: delete connector failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("connector %q not found", name)
	}
	return nil
}

type destinationRow struct {
	Name        string         `db:"name"`
	Kind        string         `db:"kind"`
	Config      []byte         `db:"config"`
	Description string         `db:"description"`
	Tags        pq.StringArray `db:"tags"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r destinationRow) toSpec() (event.DestinationSpec, error) {
	cfg, err := decodeJSONObject(r.Config)
	if err != nil {
		return event.DestinationSpec{}, err
	}
	return event.DestinationSpec{
		Name: r.Name, Kind: r.Kind, Config: cfg, Description: r.Description,
		Tags: []string(r.Tags), CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}, nil
}

func (s *PostgresStore) ListDestinations(ctx context.Context) ([]event.DestinationSpec, error) {
	var rows []destinationRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT name, kind, config, description, tags, created_at, updated_at FROM destinations ORDER BY name`); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "configstore: list destinations failed")
	}
	out := make([]event.DestinationSpec, 0, len(rows))
	for _, r := range rows {
		spec, err := r.toSpec()
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

func (s *PostgresStore) GetDestination(ctx context.Context, name string) (event.DestinationSpec, error) {
	var r destinationRow
	err := s.db.GetContext(ctx, &r, `SELECT name, kind, config, description, tags, created_at, updated_at FROM destinations WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return event.DestinationSpec{}, errs.NotFound("destination %q not found", name)
	}
	if err != nil {
		return event.DestinationSpec{}, errs.Wrap(errs.CodeInternal, err, "configstore: get destination failed")
	}
	return r.toSpec()
}

func (s *PostgresStore) PutDestination(ctx context.Context, spec event.DestinationSpec, expectedUpdatedAt time.Time) (event.DestinationSpec, error) {
	cfgJSON, err := encodeJSONObject(spec.Config)
	if err != nil {
		return event.DestinationSpec{}, err
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return event.DestinationSpec{}, errs.Wrap(errs.CodeInternal, err, "configstore: begin tx failed")
	}
	defer tx.Rollback()

	var current sql.NullTime
	err = tx.GetContext(ctx, &current, `SELECT updated_at FROM destinations WHERE name = $1 FOR UPDATE`, spec.Name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if !expectedUpdatedAt.IsZero() {
			return event.DestinationSpec{}, errs.Conflict("destination %q does not exist", spec.Name)
		}
		spec.CreatedAt, spec.UpdatedAt = now, now
		if _, err := tx.ExecContext(ctx, `INSERT INTO destinations (name, kind, config, description, tags, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			spec.Name, spec.Kind, cfgJSON, spec.Description, pq.StringArray(spec.Tags), spec.CreatedAt, spec.UpdatedAt); err != nil {
			return event.DestinationSpec{}, errs.Wrap(errs.CodeInternal, err, "configstore: insert destination failed")
		}
	case err != nil:
		return event.DestinationSpec{}, errs.Wrap(errs.CodeInternal, err, "configstore: lock destination failed")
	default:
		if !current.Time.Equal(expectedUpdatedAt) {
			return event.DestinationSpec{}, errs.Conflict("destination %q was modified concurrently", spec.Name)
		}
		spec.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, `UPDATE destinations SET kind=$2, config=$3, description=$4, tags=$5, updated_at=$6 WHERE name=$1`,
			spec.Name, spec.Kind, cfgJSON, spec.Description, pq.StringArray(spec.Tags), spec.UpdatedAt); err != nil {
			return event.DestinationSpec{}, errs.Wrap(errs.CodeInternal, err, "configstore: update destination failed")
		}
	}

	if err := tx.Commit(); err != nil {
		return event.DestinationSpec{}, errs.Wrap(errs.CodeInternal, err, "configstore: commit failed")
	}
	return spec, nil
}

func (s *PostgresStore) DeleteDestination(ctx context.Context, name string) error {
	var refCount int
	if err := s.db.GetContext(ctx, &refCount, `SELECT count(*) FROM flows WHERE $1 = ANY(destination_names)`, name); err != nil {
		return errs.Wrap(errs.CodeInternal, err, "configstore: referential check failed")
	}
	if refCount > 0 {
		return errs.Referential("destination %q is referenced by %d flow(s)", name, refCount)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM destinations WHERE name = $1`, name)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, err, "configstore: delete destination failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("destination %q not found", name)
	}
	return nil
}

type flowRow struct {
	Name             string         `db:"name"`
	ConnectorName    string         `db:"connector_name"`
	DestinationNames pq.StringArray `db:"destination_names"`
	BatchSize        int            `db:"batch_size"`
	MaxLingerMS      int64          `db:"max_linger_ms"`
	AutoStart        bool           `db:"auto_start"`
	Description      string         `db:"description"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (r flowRow) toSpec() event.FlowSpec {
	maxLinger := time.Duration(r.MaxLingerMS) * time.Millisecond
	return event.FlowSpec{
		Name: r.Name, ConnectorName: r.ConnectorName, DestinationNames: []string(r.DestinationNames),
		BatchSize: r.BatchSize, MaxLinger: &maxLinger,
		AutoStart: r.AutoStart, Description: r.Description, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func (s *PostgresStore) ListFlows(ctx context.Context) ([]event.FlowSpec, error) {
	var rows []flowRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT name, connector_name, destination_names, batch_size, max_linger_ms, auto_start, description, created_at, updated_at FROM flows ORDER BY name`); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "configstore: list flows failed")
	}
	out := make([]event.FlowSpec, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toSpec())
	}
	return out, nil
}

func (s *PostgresStore) GetFlow(ctx context.Context, name string) (event.FlowSpec, error) {
	var r flowRow
	err := s.db.GetContext(ctx, &r, `SELECT name, connector_name, destination_names, batch_size, max_linger_ms, auto_start, description, created_at, updated_at FROM flows WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return event.FlowSpec{}, errs.NotFound("flow %q not found", name)
	}
	if err != nil {
		return event.FlowSpec{}, errs.Wrap(errs.CodeInternal, err, "configstore: get flow failed")
	}
	return r.toSpec(), nil
}

func (s *PostgresStore) PutFlow(ctx context.Context, spec event.FlowSpec, expectedUpdatedAt time.Time) (event.FlowSpec, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return event.FlowSpec{}, errs.Wrap(errs.CodeInternal, err, "configstore: begin tx failed")
	}
	defer tx.Rollback()

	var current sql.NullTime
	err = tx.GetContext(ctx, &current, `SELECT updated_at FROM flows WHERE name = $1 FOR UPDATE`, spec.Name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if !expectedUpdatedAt.IsZero() {
			return event.FlowSpec{}, errs.Conflict("flow %q does not exist", spec.Name)
		}
		spec.CreatedAt, spec.UpdatedAt = now, now
		if _, err := tx.ExecContext(ctx, `INSERT INTO flows (name, connector_name, destination_names, batch_size, max_linger_ms, auto_start, description, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			spec.Name, spec.ConnectorName, pq.StringArray(spec.DestinationNames), spec.BatchSize, spec.EffectiveMaxLinger().Milliseconds(), spec.AutoStart, spec.Description, spec.CreatedAt, spec.UpdatedAt); err != nil {
			return event.FlowSpec{}, errs.Wrap(errs.CodeInternal, err, "configstore: insert flow failed")
		}
	case err != nil:
		return event.FlowSpec{}, errs.Wrap(errs.CodeInternal, err, "configstore: lock flow failed")
	default:
		if !current.Time.Equal(expectedUpdatedAt) {
			return event.FlowSpec{}, errs.Conflict("flow %q was modified concurrently", spec.Name)
		}
		spec.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, `UPDATE flows SET connector_name=$2, destination_names=$3, batch_size=$4, max_linger_ms=$5, auto_start=$6, description=$7, updated_at=$8 WHERE name=$1`,
			spec.Name, spec.ConnectorName, pq.StringArray(spec.DestinationNames), spec.BatchSize, spec.EffectiveMaxLinger().Milliseconds(), spec.AutoStart, spec.Description, spec.UpdatedAt); err != nil {
			return event.FlowSpec{}, errs.Wrap(errs.CodeInternal, err, "configstore: update flow failed")
		}
	}

	if err := tx.Commit(); err != nil {
		return event.FlowSpec{}, errs.Wrap(errs.CodeInternal, err, "configstore: commit failed")
	}
	return spec, nil
}

func (s *PostgresStore) DeleteFlow(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flows WHERE name = $1`, name)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, err, "configstore: delete flow failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("flow %q not found", name)
	}
	return nil
}
