package pipeline

import (
	"time"

	"github.com/vaaleriarv/proyecto-salud/internal/cleaning"
	"github.com/vaaleriarv/proyecto-salud/internal/source"
	"github.com/vaaleriarv/proyecto-salud/internal/store"
)

// StageStatus is the outcome of one stage within a run.
type StageStatus string

const (
	StageOK      StageStatus = "ok"
	StageSkipped StageStatus = "skipped"
	StageFailed  StageStatus = "failed"
)

// StageSummary reports one stage of a run.
type StageSummary struct {
	Name            string         `json:"name"`
	Status          StageStatus    `json:"status"`
	MissingRequired []string       `json:"missing_required,omitempty"`
	MissingOptional []string       `json:"missing_optional,omitempty"`
	Rows            map[string]int `json:"rows,omitempty"`
	Metrics         map[string]any `json:"metrics,omitempty"`
	Warnings        int            `json:"warnings,omitempty"`
	Error           string         `json:"error,omitempty"`
	Elapsed         time.Duration  `json:"elapsed_ns"`
}

// Summary is the JSON document stored with each run.
type Summary struct {
	Status   store.RunStatus    `json:"status"`
	Sources  []source.Report    `json:"sources,omitempty"`
	Cleaning []*cleaning.Report `json:"cleaning,omitempty"`
	Flagged  int                `json:"flagged_values"`
	Stages   []StageSummary     `json:"stages"`
	Elapsed  time.Duration      `json:"elapsed_ns"`
}

// Counts returns the number of stages per status.
func (s *Summary) Counts() (ok, skipped, failed int) {
	for _, st := range s.Stages {
		switch st.Status {
		case StageOK:
			ok++
		case StageSkipped:
			skipped++
		case StageFailed:
			failed++
		}
	}
	return ok, skipped, failed
}

// Stage returns the summary of the named stage, or nil.
func (s *Summary) Stage(name string) *StageSummary {
	for i := range s.Stages {
		if s.Stages[i].Name == name {
			return &s.Stages[i]
		}
	}
	return nil
}

// status derives the run status: failed when halted, partial when any
// stage or required source did not complete or an optional input was
// missing, complete otherwise.
func (s *Summary) status(halted bool) store.RunStatus {
	if halted {
		return store.RunFailed
	}
	for _, st := range s.Stages {
		if st.Status != StageOK || len(st.MissingOptional) > 0 {
			return store.RunPartial
		}
	}
	for _, rep := range s.Sources {
		if rep.Err != nil && !rep.Optional {
			return store.RunPartial
		}
	}
	return store.RunComplete
}
