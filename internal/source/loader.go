// Package source loads configured file snapshots into relations with the
// declared input schemas.
package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vaaleriarv/proyecto-salud/internal/config"
	"github.com/vaaleriarv/proyecto-salud/internal/fetcher"
	"github.com/vaaleriarv/proyecto-salud/internal/model"
	"github.com/vaaleriarv/proyecto-salud/internal/schema"
)

// Options configures a Loader.
type Options struct {
	CacheDir    string
	Fetch       fetcher.Options
	Concurrency int
}

// OptionsFromConfig derives loader options from the fetch section.
func OptionsFromConfig(cfg config.FetchConfig) Options {
	return Options{
		CacheDir: cfg.CacheDir,
		Fetch: fetcher.Options{
			UserAgent:   cfg.UserAgent,
			Timeout:     time.Duration(cfg.TimeoutSecs) * time.Second,
			MaxRetries:  cfg.MaxRetries,
			RatePerHost: cfg.RatePerHost,
		},
	}
}

// Report describes the outcome of loading one source.
type Report struct {
	Source      string   `json:"source"`
	Relation    string   `json:"relation"`
	Location    string   `json:"location"`
	Rows        int      `json:"rows"`
	ParseErrors int      `json:"parse_errors"`
	Dropped     int      `json:"dropped_rows"`
	Merged      int      `json:"merged_rows"`
	Unmapped    []string `json:"unmapped_columns,omitempty"`
	Optional    bool     `json:"optional"`
	Error       string   `json:"error,omitempty"`
	Err         error    `json:"-"`
}

// Result holds the loaded relations keyed by relation name and one report
// per configured source, in configuration order.
type Result struct {
	Relations map[string]*schema.Relation
	Reports   []Report
}

// Missing returns the failed sources of one kind: required ones when
// required is true, optional ones otherwise.
func (r *Result) Missing(required bool) []*model.MissingSourceError {
	var out []*model.MissingSourceError
	for _, rep := range r.Reports {
		if rep.Err == nil || rep.Optional == required {
			continue
		}
		var ms *model.MissingSourceError
		if !errors.As(rep.Err, &ms) {
			ms = &model.MissingSourceError{Source: rep.Source, Err: rep.Err}
		}
		out = append(out, ms)
	}
	return out
}

// Loader reads snapshots. Remote paths are downloaded into the cache
// directory first; .zip paths are unpacked there.
type Loader struct {
	opts       Options
	log        *zap.Logger
	newFetcher func(url string) (fetcher.Fetcher, error)
}

// NewLoader creates a Loader.
func NewLoader(opts Options) *Loader {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.CacheDir == "" {
		opts.CacheDir = filepath.Join(os.TempDir(), "salud-snapshots")
	}
	l := &Loader{
		opts: opts,
		log:  zap.L().With(zap.String("component", "source")),
	}
	l.newFetcher = func(url string) (fetcher.Fetcher, error) {
		return fetcher.ForURL(url, l.opts.Fetch)
	}
	return l
}

// Load reads every source concurrently. A source that cannot be read is
// reported with a *model.MissingSourceError and left out; only context
// cancellation fails the whole load. Sources sharing a relation are
// concatenated in configuration order, and rows repeating a relation key
// are collapsed with the duplicates policy of the first source feeding
// that relation.
func (l *Loader) Load(ctx context.Context, sources []config.SourceConfig) (*Result, error) {
	loaded := make([]*schema.Relation, len(sources))
	reports := make([]Report, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Concurrency)
	for i, src := range sources {
		g.Go(func() error {
			rel, rep := l.loadOne(gctx, src)
			if rep.Err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			loaded[i], reports[i] = rel, rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "source: load")
	}

	res := &Result{Relations: make(map[string]*schema.Relation), Reports: reports}
	mergers := make(map[string]*merger)
	for i, rel := range loaded {
		if rel == nil {
			continue
		}
		m, ok := mergers[rel.Name()]
		if !ok {
			m = newMerger(rel.Schema, sources[i].Duplicates)
			mergers[rel.Name()] = m
			res.Relations[rel.Name()] = m.rel
		}
		reports[i].Merged = m.add(rel.Rows)
	}

	for _, rep := range reports {
		if rep.Err != nil {
			level := l.log.Error
			if rep.Optional {
				level = l.log.Warn
			}
			level("source unavailable",
				zap.String("source", rep.Source),
				zap.String("relation", rep.Relation),
				zap.Error(rep.Err),
			)
			continue
		}
		l.log.Info("source loaded",
			zap.String("source", rep.Source),
			zap.String("relation", rep.Relation),
			zap.Int("rows", rep.Rows),
			zap.Int("parse_errors", rep.ParseErrors),
			zap.Int("dropped_rows", rep.Dropped),
			zap.Int("merged_rows", rep.Merged),
		)
	}
	return res, nil
}

func (l *Loader) loadOne(ctx context.Context, src config.SourceConfig) (*schema.Relation, Report) {
	rep := Report{Source: src.Name, Relation: src.RelationName(), Location: src.Path, Optional: src.Optional}
	fail := func(err error) (*schema.Relation, Report) {
		rep.Err = &model.MissingSourceError{Source: src.Name, Err: err}
		rep.Error = rep.Err.Error()
		return nil, rep
	}

	sch, err := Declared(rep.Relation)
	if err != nil {
		return fail(err)
	}
	path, err := l.localize(ctx, src)
	if err != nil {
		return fail(err)
	}
	tbl, err := readTable(ctx, path, src)
	if err != nil {
		return fail(err)
	}

	var rel *schema.Relation
	if src.IDColumn != "" {
		rel, err = melt(sch, tbl, src, &rep)
	} else {
		rel, err = project(sch, tbl, src, &rep)
	}
	if err != nil {
		return fail(err)
	}
	rep.Rows = rel.Len()
	return rel, rep
}

// localize returns a local file path for the source, downloading and
// unpacking as needed.
func (l *Loader) localize(ctx context.Context, src config.SourceConfig) (string, error) {
	path := src.Path
	if fetcher.IsRemote(path) {
		f, err := l.newFetcher(path)
		if err != nil {
			return "", err
		}
		dest := filepath.Join(l.opts.CacheDir, fetcher.CacheName(src.Name, path))
		n, err := f.DownloadToFile(ctx, path, dest)
		if err != nil {
			return "", eris.Wrapf(err, "source: download %s", src.Name)
		}
		l.log.Debug("snapshot downloaded",
			zap.String("source", src.Name),
			zap.String("path", dest),
			zap.Int64("bytes", n),
		)
		path = dest
	} else if _, err := os.Stat(path); err != nil {
		return "", eris.Wrapf(err, "source: stat %s", path)
	}

	if strings.EqualFold(filepath.Ext(path), ".zip") {
		dir := filepath.Join(l.opts.CacheDir, src.Name)
		extracted, err := fetcher.ExtractMember(path, src.Member, dir)
		if err != nil {
			return "", err
		}
		path = extracted
	}
	return path, nil
}

func readTable(ctx context.Context, path string, src config.SourceConfig) (*fetcher.Table, error) {
	format := fetcher.DetectFormat(src.Format, path)
	switch format {
	case fetcher.FormatXLSX:
		return fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: src.Sheet, SkipRows: src.SkipRows})
	case fetcher.FormatCSV, fetcher.FormatTSV, fetcher.FormatJSON:
	default:
		return nil, eris.Errorf("source: unknown format %q", format)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	if format == fetcher.FormatJSON {
		return fetcher.ReadJSONTable(ctx, f)
	}
	return fetcher.ReadCSV(ctx, f, fetcher.CSVOptions{
		Delimiter:  delimiter(src.Delimiter, format),
		LazyQuotes: true,
	})
}

func delimiter(s string, format fetcher.Format) rune {
	switch s {
	case "":
		if format == fetcher.FormatTSV {
			return '\t'
		}
		return ','
	case `\t`, "tab":
		return '\t'
	default:
		return []rune(s)[0]
	}
}

// project maps header columns onto the declared fields. Wholly blank rows
// are skipped; rows missing a required value are dropped and counted.
func project(sch schema.Schema, tbl *fetcher.Table, src config.SourceConfig, rep *Report) (*schema.Relation, error) {
	cols := columnMap(sch, tbl.Header, src.Columns)
	if err := sch.ValidateHeader(presentFields(cols)); err != nil {
		return nil, err
	}
	rep.Unmapped = unmapped(tbl.Header, cols)

	_, wantsSource := sch.Field("source_id")
	_, hasSource := cols["source_id"]

	rel := schema.NewRelation(sch)
	for i := range tbl.Rows {
		row := make(schema.Row, len(sch.Fields))
		blank := true
		for _, f := range sch.Fields {
			j, ok := cols[f.Name]
			if !ok {
				row[f.Name] = absent(f)
				continue
			}
			cell := tbl.Cell(i, j)
			if f.Type == schema.Number {
				v, err := numberCell(f.Name, cell)
				if err != nil {
					rep.ParseErrors++
				}
				row[f.Name] = v
				if v.Valid {
					blank = false
				}
				continue
			}
			row[f.Name] = textCell(cell)
			if row[f.Name] != nil {
				blank = false
			}
		}
		if blank {
			continue
		}
		if wantsSource && !hasSource {
			row["source_id"] = src.Name
		}
		if _, ok := sch.Blank(row); ok {
			rep.Dropped++
			continue
		}
		rel.Append(row)
	}
	return rel, nil
}

// melt turns a wide file (one row per entity, one column per attribute)
// into measurement records. Every column other than the id column and
// explicitly mapped ones becomes an attribute_id.
func melt(sch schema.Schema, tbl *fetcher.Table, src config.SourceConfig, rep *Report) (*schema.Relation, error) {
	if _, ok := sch.Field("attribute_id"); !ok {
		return nil, eris.Errorf("source: %s: id_column applies to measurement relations only", src.Name)
	}
	idIdx := -1
	for i, h := range tbl.Header {
		if normalizeCol(h) == normalizeCol(src.IDColumn) {
			idIdx = i
			break
		}
	}
	if idIdx < 0 {
		return nil, &model.SchemaViolationError{
			Relation: sch.Name,
			Field:    src.IDColumn,
			Reason:   "id column absent",
		}
	}

	skip := map[int]bool{idIdx: true}
	for _, name := range src.Columns {
		for i, h := range tbl.Header {
			if normalizeCol(h) == normalizeCol(name) {
				skip[i] = true
			}
		}
	}

	rel := schema.NewRelation(sch)
	for i := range tbl.Rows {
		id := textCell(tbl.Cell(i, idIdx))
		if id == nil {
			continue
		}
		for j, attr := range tbl.Header {
			if skip[j] || attr == "" {
				continue
			}
			v, err := numberCell(attr, tbl.Cell(i, j))
			if err != nil {
				rep.ParseErrors++
			}
			rel.Append(schema.Row{
				"source_id":    src.Name,
				"entity_id":    id,
				"attribute_id": attr,
				"value":        v,
			})
		}
	}
	return rel, nil
}

func absent(f schema.Field) any {
	if f.Type == schema.Number {
		return model.Missing
	}
	return nil
}

func unmapped(header []string, cols map[string]int) []string {
	used := make(map[int]bool, len(cols))
	for _, j := range cols {
		used[j] = true
	}
	var out []string
	for i, h := range header {
		if !used[i] && h != "" {
			out = append(out, h)
		}
	}
	return out
}
