package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaaleriarv/proyecto-salud/internal/schema"
)

type fakeStage struct {
	name     string
	requires []string
	optional []string
	produces []string
	run      func(in Inputs) (*StageResult, error)
}

func (f *fakeStage) Name() string       { return f.name }
func (f *fakeStage) Requires() []string { return f.requires }
func (f *fakeStage) Optional() []string { return f.optional }
func (f *fakeStage) Produces() []string { return f.produces }

func (f *fakeStage) Run(_ context.Context, in Inputs) (*StageResult, error) {
	if f.run != nil {
		return f.run(in)
	}
	var rels []*schema.Relation
	for _, p := range f.produces {
		rels = append(rels, schema.NewRelation(schema.Catalog(p)))
	}
	return &StageResult{Relations: rels}, nil
}

func names(stages []Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = s.Name()
	}
	return out
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name   string
		stages []Stage
		want   []string
	}{
		{
			name: "already ordered",
			stages: []Stage{
				&fakeStage{name: "a", requires: []string{"raw"}, produces: []string{"x"}},
				&fakeStage{name: "b", requires: []string{"x"}, produces: []string{"y"}},
			},
			want: []string{"a", "b"},
		},
		{
			name: "consumer registered first",
			stages: []Stage{
				&fakeStage{name: "indicators", requires: []string{"joined"}, produces: []string{"out"}},
				&fakeStage{name: "join", requires: []string{"prices"}, optional: []string{"links"}, produces: []string{"joined"}},
				&fakeStage{name: "resolve", requires: []string{"prices"}, produces: []string{"links"}},
			},
			want: []string{"resolve", "join", "indicators"},
		},
		{
			name: "independent stages keep registration order",
			stages: []Stage{
				&fakeStage{name: "clinical", requires: []string{"c"}, produces: []string{"cf"}},
				&fakeStage{name: "nutrients", requires: []string{"n"}, produces: []string{"nf"}},
				&fakeStage{name: "prices", requires: []string{"p"}, produces: []string{"pf"}},
			},
			want: []string{"clinical", "nutrients", "prices"},
		},
		{
			name: "optional input orders too",
			stages: []Stage{
				&fakeStage{name: "join", requires: []string{"prices"}, optional: []string{"features"}, produces: []string{"joined"}},
				&fakeStage{name: "reshape", requires: []string{"long"}, produces: []string{"features"}},
			},
			want: []string{"reshape", "join"},
		},
		{
			name:   "empty",
			stages: nil,
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Plan(tt.stages)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(got))
		})
	}
}

func TestPlan_DuplicateProducer(t *testing.T) {
	_, err := Plan([]Stage{
		&fakeStage{name: "a", produces: []string{"x"}},
		&fakeStage{name: "b", produces: []string{"x"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `relation "x" produced by both a and b`)
}

func TestPlan_Cycle(t *testing.T) {
	_, err := Plan([]Stage{
		&fakeStage{name: "ok", requires: []string{"raw"}, produces: []string{"w"}},
		&fakeStage{name: "a", requires: []string{"y"}, produces: []string{"x"}},
		&fakeStage{name: "b", requires: []string{"x"}, produces: []string{"y"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency cycle among a, b")
}

func TestPlan_SelfDependency(t *testing.T) {
	_, err := Plan([]Stage{
		&fakeStage{name: "loop", requires: []string{"x"}, produces: []string{"x"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consumes its own output")
}

func TestRegistry_Select(t *testing.T) {
	r := NewEmptyRegistry()
	r.Register(&fakeStage{name: "a"})
	r.Register(&fakeStage{name: "b"})
	r.Register(&fakeStage{name: "c"})

	all, err := r.Select(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names(all))

	some, err := r.Select([]string{"c", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, names(some))

	_, err = r.Select([]string{"nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown stage "nope"`)
}
