package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/vaaleriarv/proyecto-salud/internal/schema"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME NOT NULL,
	summary      TEXT,
	error        TEXT
);

CREATE TABLE IF NOT EXISTS relation_catalog (
	name       TEXT PRIMARY KEY,
	schema     TEXT NOT NULL,
	row_count  INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_status ON pipeline_runs(status);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started_at ON pipeline_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func sqliteType(t schema.Type) string {
	switch t {
	case schema.Number:
		return "REAL"
	case schema.Bool:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func createTableSQL(s schema.Schema, typeOf func(schema.Type) string) string {
	defs := make([]string, 0, len(s.Fields)+1)
	for _, f := range s.Fields {
		def := quoteIdent(f.Name) + " " + typeOf(f.Type)
		if f.Required {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if len(s.Key) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quoteAll(s.Key)))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", quoteIdent(s.Name), strings.Join(defs, ",\n\t"))
}

// WriteRelation replaces the table named after the relation and records it
// in the relation catalog, in one transaction.
func (s *SQLiteStore) WriteRelation(ctx context.Context, rel *schema.Relation) error {
	name := rel.Name()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin write %s", name)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
		return eris.Wrapf(err, "sqlite: drop %s", name)
	}
	if _, err := tx.ExecContext(ctx, createTableSQL(rel.Schema, sqliteType)); err != nil {
		return eris.Wrapf(err, "sqlite: create %s", name)
	}

	cols := rel.Schema.Columns()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(name), quoteAll(cols), placeholders))
	if err != nil {
		return eris.Wrapf(err, "sqlite: prepare insert %s", name)
	}
	defer stmt.Close()

	for _, rec := range rel.Records() {
		if _, err := stmt.ExecContext(ctx, rec...); err != nil {
			return eris.Wrapf(err, "sqlite: insert into %s", name)
		}
	}

	schemaJSON, err := json.Marshal(rel.Schema)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal schema %s", name)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO relation_catalog (name, schema, row_count, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET schema = excluded.schema, row_count = excluded.row_count, updated_at = excluded.updated_at`,
		name, string(schemaJSON), rel.Len(), time.Now().UTC(),
	); err != nil {
		return eris.Wrapf(err, "sqlite: catalog %s", name)
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrapf(err, "sqlite: commit write %s", name)
	}
	zap.L().Debug("relation written",
		zap.String("component", "store.sqlite"),
		zap.String("relation", name),
		zap.Int("rows", rel.Len()),
	)
	return nil
}

func (s *SQLiteStore) tableColumns(ctx context.Context, name string) ([]string, error) {
	var found string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, name,
	).Scan(&found)
	if err == sql.ErrNoRows {
		return nil, missing(name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: lookup table %s", name)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT 0", quoteIdent(name)))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: columns of %s", name)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	return cols, eris.Wrapf(err, "sqlite: columns of %s", name)
}

// ReadRelation reads up to limit rows (all when limit <= 0) of the table
// named by s. A missing table is a *model.MissingSourceError; a missing
// required column is a *model.SchemaViolationError.
func (s *SQLiteStore) ReadRelation(ctx context.Context, sch schema.Schema, limit int) (*schema.Relation, error) {
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

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s%s",
		quoteAll(cols), quoteIdent(sch.Name), limitClause(limit)))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read %s", sch.Name)
	}
	defer rows.Close()

	rel, err := scanRows(sch, cols, rows.Next, rows.Scan)
	if err != nil {
		return nil, err
	}
	return rel, eris.Wrapf(rows.Err(), "sqlite: read %s", sch.Name)
}

// RelationSchema returns the schema a relation was last written with.
func (s *SQLiteStore) RelationSchema(ctx context.Context, name string) (schema.Schema, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT schema FROM relation_catalog WHERE name = ?`, name).Scan(&raw)
	if err == sql.ErrNoRows {
		return schema.Schema{}, missing(name)
	}
	if err != nil {
		return schema.Schema{}, eris.Wrapf(err, "sqlite: relation schema %s", name)
	}
	var out schema.Schema
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return schema.Schema{}, eris.Wrapf(err, "sqlite: decode schema %s", name)
	}
	return out, nil
}

func (s *SQLiteStore) ListRelations(ctx context.Context) ([]RelationInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, schema, row_count, updated_at FROM relation_catalog ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list relations")
	}
	defer rows.Close()

	var out []RelationInfo
	for rows.Next() {
		var info RelationInfo
		var raw string
		if err := rows.Scan(&info.Name, &raw, &info.Rows, &info.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan relation")
		}
		if err := json.Unmarshal([]byte(raw), &info.Schema); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode schema %s", info.Name)
		}
		out = append(out, info)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list relations")
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	prepareRun(run)
	var summary any
	if len(run.Summary) > 0 {
		summary = string(run.Summary)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, status, started_at, completed_at, summary, error) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, completed_at = excluded.completed_at,
		 summary = excluded.summary, error = excluded.error`,
		run.ID, string(run.Status), run.StartedAt, run.CompletedAt, summary, run.Error,
	)
	return eris.Wrapf(err, "sqlite: save run %s", run.ID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, status, started_at, completed_at, summary, error FROM pipeline_runs`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC` + limitClause(filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var status string
		var summary, errMsg sql.NullString
		if err := rows.Scan(&r.ID, &status, &r.StartedAt, &r.CompletedAt, &summary, &errMsg); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Status = RunStatus(status)
		if summary.Valid {
			r.Summary = json.RawMessage(summary.String)
		}
		r.Error = errMsg.String
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs")
}
