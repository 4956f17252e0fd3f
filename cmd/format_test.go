package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vaaleriarv/proyecto-salud/internal/model"
	"github.com/vaaleriarv/proyecto-salud/internal/pipeline"
	"github.com/vaaleriarv/proyecto-salud/internal/source"
	"github.com/vaaleriarv/proyecto-salud/internal/store"
)

func TestFormatSummary(t *testing.T) {
	sum := &pipeline.Summary{
		Status: store.RunPartial,
		Stages: []pipeline.StageSummary{
			{Name: "reshape_nutrients", Status: pipeline.StageOK, Rows: map[string]int{"nutrient_features": 12}},
			{Name: "resolve_catalogs", Status: pipeline.StageOK, Rows: map[string]int{"catalog_links": 3},
				Warnings: 1, MissingOptional: []string{"nutrition_catalog"}},
			{Name: "reshape_clinical", Status: pipeline.StageSkipped, MissingRequired: []string{"clinical_measurements"}},
		},
		Elapsed: 1500 * time.Millisecond,
	}

	var buf bytes.Buffer
	formatSummary(&buf, sum)
	out := buf.String()

	assert.Contains(t, out, "STAGE")
	assert.Contains(t, out, "reshape_nutrients")
	assert.Contains(t, out, "without [nutrition_catalog]")
	assert.Contains(t, out, "missing [clinical_measurements]")
	assert.Contains(t, out, "status: partial (2 ok, 1 skipped, 0 failed) in 1.5s")
}

func TestFormatLoadReports(t *testing.T) {
	var buf bytes.Buffer
	formatLoadReports(&buf, []source.Report{
		{Source: "precios", Relation: "price_catalog", Rows: 10, ParseErrors: 1},
		{Source: "foods", Relation: "nutrition_catalog", Optional: true, Err: errors.New("gone"), Error: "gone"},
		{Source: "nhanes", Relation: "clinical_measurements", Err: errors.New("boom"), Error: "boom"},
	})
	out := buf.String()

	assert.Contains(t, out, "precios")
	assert.Contains(t, out, "absent (optional)")
	assert.Contains(t, out, "failed: boom")
}

func TestFormatLinks(t *testing.T) {
	links := []model.MatchLink{
		{EntityIDA: "P1", NormalizedNameA: "red apple", EntityIDB: "1102644", NormalizedNameB: "apples raw", Score: 71.43, Status: model.Matched},
		{EntityIDA: "P2", NormalizedNameA: "guava", Score: 20, Status: model.Unmatched},
	}

	var buf bytes.Buffer
	formatLinks(&buf, links, 1)
	out := buf.String()

	assert.Contains(t, out, "red apple")
	assert.Contains(t, out, "71.4")
	assert.NotContains(t, out, "guava")
	assert.Contains(t, out, "1 matched, 0 ambiguous, 1 unmatched")
}

func TestFormatRunsList(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	formatRunsList(&buf, []store.Run{
		{ID: "run-1", Status: store.RunComplete, StartedAt: start, CompletedAt: start.Add(2 * time.Second)},
		{ID: "run-2", Status: store.RunFailed, StartedAt: start, CompletedAt: start, Error: "schema violation"},
	})
	out := buf.String()

	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "2026-03-01 10:00:00")
	assert.Contains(t, out, "2s")
	assert.Contains(t, out, "schema violation")
}
