// Package store persists named relations and the run log in SQLite or
// Postgres.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/vaaleriarv/proyecto-salud/internal/model"
	"github.com/vaaleriarv/proyecto-salud/internal/schema"
)

// RunStatus is the outcome of a pipeline run.
type RunStatus string

const (
	RunComplete RunStatus = "complete"
	RunPartial  RunStatus = "partial"
	RunFailed   RunStatus = "failed"
)

// Run is one entry of the run log. Summary is the JSON run summary.
type Run struct {
	ID          string          `json:"id"`
	Status      RunStatus       `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Summary     json.RawMessage `json:"summary,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status RunStatus `json:"status,omitempty"`
	Limit  int       `json:"limit,omitempty"`
}

// RelationInfo describes a stored relation.
type RelationInfo struct {
	Name      string        `json:"name"`
	Schema    schema.Schema `json:"schema"`
	Rows      int64         `json:"rows"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Store persists relations and runs.
type Store interface {
	// Relations
	ReadRelation(ctx context.Context, s schema.Schema, limit int) (*schema.Relation, error)
	WriteRelation(ctx context.Context, rel *schema.Relation) error
	RelationSchema(ctx context.Context, name string) (schema.Schema, error)
	ListRelations(ctx context.Context) ([]RelationInfo, error)

	// Runs
	SaveRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the store selected by driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite", "":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteAll(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = quoteIdent(c)
	}
	return strings.Join(out, ", ")
}

func prepareRun(run *Run) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CompletedAt.IsZero() {
		run.CompletedAt = time.Now().UTC()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = run.CompletedAt
	}
	if run.Status == "" {
		run.Status = RunComplete
	}
}

func missing(name string) error {
	return &model.MissingSourceError{Source: name, Err: eris.Errorf("store: table %s does not exist", name)}
}

// columnPlan maps declared fields onto the columns present in a stored
// table. Required fields that are absent are a schema violation; optional
// ones read as null.
func columnPlan(s schema.Schema, present []string) ([]string, error) {
	if err := s.ValidateHeader(present); err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(present))
	for _, c := range present {
		have[c] = true
	}
	var cols []string
	for _, f := range s.Fields {
		if have[f.Name] {
			cols = append(cols, f.Name)
		}
	}
	return cols, nil
}

// decodeCell converts a scanned driver value to the relation cell type of f.
func decodeCell(f schema.Field, raw any) any {
	if raw == nil {
		if f.Type == schema.Number {
			return model.Missing
		}
		return nil
	}
	switch f.Type {
	case schema.Number:
		v, err := model.Coerce(raw)
		if err != nil {
			return model.Missing
		}
		return v
	case schema.Bool:
		switch b := raw.(type) {
		case bool:
			return b
		case int64:
			return b != 0
		default:
			s := strings.ToLower(model.Label(raw))
			return s == "1" || s == "true" || s == "t"
		}
	default:
		return model.Label(raw)
	}
}

func limitClause(limit int) string {
	if limit > 0 {
		return fmt.Sprintf(" LIMIT %d", limit)
	}
	return ""
}

func scanRows(s schema.Schema, cols []string, next func() bool, scan func(dest ...any) error) (*schema.Relation, error) {
	rel := schema.NewRelation(s)
	fields := make([]schema.Field, len(cols))
	for i, c := range cols {
		fields[i], _ = s.Field(c)
	}
	for next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := scan(ptrs...); err != nil {
			return nil, eris.Wrapf(err, "store: scan %s", s.Name)
		}
		row := make(schema.Row, len(s.Fields))
		for _, f := range s.Fields {
			row[f.Name] = decodeCell(f, nil)
		}
		for i, f := range fields {
			row[f.Name] = decodeCell(f, raw[i])
		}
		rel.Append(row)
	}
	return rel, nil
}
