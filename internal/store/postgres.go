package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vaaleriarv/proyecto-salud/internal/db"
	"github.com/vaaleriarv/proyecto-salud/internal/model"
	"github.com/vaaleriarv/proyecto-salud/internal/schema"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID serializes concurrent Migrate calls across processes.
const migrationLockID = 48151623

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate applies embedded migrations not yet recorded in
// schema_migrations, in filename order, under an advisory lock.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("postgres: release migration lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return eris.Wrap(err, "postgres: ensure migration table")
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "postgres: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "postgres: read migration %s", name)
		}
		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", name)
		}
		if _, err := s.pool.Exec(ctx,
			"INSERT INTO schema_migrations (filename, applied_at) VALUES ($1, now())", name,
		); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", name)
		}
		log.Info("migration applied", zap.String("file", name))
	}
	return nil
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func postgresType(t schema.Type) string {
	switch t {
	case schema.Number:
		return "DOUBLE PRECISION"
	case schema.Bool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func (s *PostgresStore) tableColumns(ctx context.Context, name string) ([]string, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", quoteIdent(name)).Scan(&exists); err != nil {
		return nil, eris.Wrapf(err, "postgres: lookup table %s", name)
	}
	if !exists {
		return nil, missing(name)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position`, name)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: columns of %s", name)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan column of %s", name)
		}
		cols = append(cols, c)
	}
	return cols, eris.Wrapf(rows.Err(), "postgres: columns of %s", name)
}

// ensureTable creates the relation table, recreating it when the stored
// column set no longer matches the schema.
func (s *PostgresStore) ensureTable(ctx context.Context, sch schema.Schema) error {
	present, err := s.tableColumns(ctx, sch.Name)
	switch {
	case err == nil && slices.Equal(present, sch.Columns()):
		return nil
	case err == nil:
		zap.L().Info("relation shape changed, recreating table",
			zap.String("component", "store.postgres"),
			zap.String("relation", sch.Name),
		)
		if _, err := s.pool.Exec(ctx, "DROP TABLE "+quoteIdent(sch.Name)); err != nil {
			return eris.Wrapf(err, "postgres: drop %s", sch.Name)
		}
	case !model.IsMissingSource(err):
		return err
	}
	if _, err := s.pool.Exec(ctx, createTableSQL(sch, postgresType)); err != nil {
		return eris.Wrapf(err, "postgres: create %s", sch.Name)
	}
	return nil
}

// WriteRelation replaces the stored relation. The truncate, the reload and
// the catalog update share one transaction, so readers see either the old
// rows or the new ones. Keyed relations reload through an upsert on the
// key; the rest reload with a plain COPY.
func (s *PostgresStore) WriteRelation(ctx context.Context, rel *schema.Relation) error {
	name := rel.Name()
	if err := s.ensureTable(ctx, rel.Schema); err != nil {
		return err
	}
	schemaJSON, err := json.Marshal(rel.Schema)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal schema %s", name)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: begin write %s", name)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := db.Truncate(ctx, tx, name); err != nil {
		return err
	}
	cols := rel.Schema.Columns()
	records := rel.Records()
	var n int64
	if len(rel.Schema.Key) > 0 {
		n, err = db.UpsertTx(ctx, tx, db.UpsertConfig{
			Table:        name,
			Columns:      cols,
			ConflictKeys: rel.Schema.Key,
		}, records)
	} else {
		n, err = db.CopyFrom(ctx, tx, name, cols, records)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: write %s", name)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO relation_catalog (name, schema, row_count, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (name) DO UPDATE SET schema = EXCLUDED.schema, row_count = EXCLUDED.row_count, updated_at = now()`,
		name, schemaJSON, int64(rel.Len()),
	); err != nil {
		return eris.Wrapf(err, "postgres: catalog %s", name)
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrapf(err, "postgres: commit write %s", name)
	}

	zap.L().Debug("relation written",
		zap.String("component", "store.postgres"),
		zap.String("relation", name),
		zap.Int64("rows", n),
	)
	return nil
}

// ReadRelation reads up to limit rows (all when limit <= 0) of the table
// named by sch.
func (s *PostgresStore) ReadRelation(ctx context.Context, sch schema.Schema, limit int) (*schema.Relation, error) {
	present, err := s.tableColumns(ctx, sch.Name)
	if err != nil {
		return nil, err
	}
	cols, err := columnPlan(sch, present)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return schema.NewRelation(sch), nil
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT %s FROM %s%s",
		quoteAll(cols), quoteIdent(sch.Name), limitClause(limit)))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: read %s", sch.Name)
	}
	defer rows.Close()

	rel, err := scanRows(sch, cols, rows.Next, rows.Scan)
	if err != nil {
		return nil, err
	}
	return rel, eris.Wrapf(rows.Err(), "postgres: read %s", sch.Name)
}

func (s *PostgresStore) RelationSchema(ctx context.Context, name string) (schema.Schema, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT schema FROM relation_catalog WHERE name = $1`, name).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return schema.Schema{}, missing(name)
	}
	if err != nil {
		return schema.Schema{}, eris.Wrapf(err, "postgres: relation schema %s", name)
	}
	var out schema.Schema
	if err := json.Unmarshal(raw, &out); err != nil {
		return schema.Schema{}, eris.Wrapf(err, "postgres: decode schema %s", name)
	}
	return out, nil
}

func (s *PostgresStore) ListRelations(ctx context.Context) ([]RelationInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, schema, row_count, updated_at FROM relation_catalog ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list relations")
	}
	defer rows.Close()

	var out []RelationInfo
	for rows.Next() {
		var info RelationInfo
		var raw []byte
		if err := rows.Scan(&info.Name, &raw, &info.Rows, &info.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan relation")
		}
		if err := json.Unmarshal(raw, &info.Schema); err != nil {
			return nil, eris.Wrapf(err, "postgres: decode schema %s", info.Name)
		}
		out = append(out, info)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list relations")
}

func (s *PostgresStore) SaveRun(ctx context.Context, run *Run) error {
	prepareRun(run)
	var summary []byte
	if len(run.Summary) > 0 {
		summary = run.Summary
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, status, started_at, completed_at, summary, error)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, completed_at = EXCLUDED.completed_at,
		 summary = EXCLUDED.summary, error = EXCLUDED.error`,
		run.ID, string(run.Status), run.StartedAt, run.CompletedAt, summary, run.Error,
	)
	return eris.Wrapf(err, "postgres: save run %s", run.ID)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, status, started_at, completed_at, summary, error FROM pipeline_runs`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC` + limitClause(filter.Limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var status string
		var summary []byte
		var errMsg *string
		if err := rows.Scan(&r.ID, &status, &r.StartedAt, &r.CompletedAt, &summary, &errMsg); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = RunStatus(status)
		if len(summary) > 0 {
			r.Summary = json.RawMessage(summary)
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs")
}
