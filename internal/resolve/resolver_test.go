package resolve

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaaleriarv/proyecto-salud/internal/model"
	"github.com/vaaleriarv/proyecto-salud/internal/schema"
)

func entry(catalog, id, name, group string) model.CatalogEntry {
	return model.CatalogEntry{CatalogID: catalog, EntityID: id, CanonicalName: name, GroupLabel: group}
}

func newResolver(t *testing.T, opts Options) *Resolver {
	t.Helper()
	r, err := New(opts)
	require.NoError(t, err)
	return r
}

func TestResolve_RedApple(t *testing.T) {
	r := newResolver(t, Options{Threshold: 50})
	res, err := r.Resolve(context.Background(),
		[]model.CatalogEntry{entry("odepa", "a1", "Red Apple", "Frutas")},
		[]model.CatalogEntry{
			entry("fdc", "b1", "APPLES, RAW", "Fruits"),
			entry("fdc", "b2", "BEEF, GROUND", "Beef Products"),
		},
	)
	require.NoError(t, err)
	require.Len(t, res.Links, 1)

	l := res.Links[0]
	assert.Equal(t, model.Matched, l.Status)
	assert.Equal(t, "b1", l.EntityIDB)
	assert.Equal(t, "red apple", l.NormalizedNameA)
	assert.Equal(t, "apples raw", l.NormalizedNameB)
	assert.Greater(t, l.Score, 50.0)
	assert.Equal(t, 1, l.TiedCandidates)
	assert.Empty(t, res.Warnings)
}

func TestResolve_TieIsAmbiguousFirstCandidate(t *testing.T) {
	r := newResolver(t, Options{Threshold: 50})
	res, err := r.Resolve(context.Background(),
		[]model.CatalogEntry{entry("odepa", "a1", "Apple", "")},
		[]model.CatalogEntry{
			entry("fdc", "b1", "Apple, raw", ""),
			entry("fdc", "b2", "Apple juice", ""),
		},
	)
	require.NoError(t, err)
	l := res.Links[0]
	assert.Equal(t, model.Ambiguous, l.Status)
	assert.Equal(t, "b1", l.EntityIDB)
	assert.Equal(t, 2, l.TiedCandidates)
	require.Len(t, res.Warnings, 1)
	var w *model.AmbiguousMatchWarning
	require.ErrorAs(t, res.Warnings[0], &w)
	assert.Equal(t, "a1", w.EntityID)
	assert.Equal(t, 1, res.Stats.Ambiguous)
}

func TestResolve_BelowThreshold(t *testing.T) {
	r := newResolver(t, Options{Threshold: 50})
	res, err := r.Resolve(context.Background(),
		[]model.CatalogEntry{entry("odepa", "a1", "Quinoa", "")},
		[]model.CatalogEntry{entry("fdc", "b1", "Beef steak", "")},
	)
	require.NoError(t, err)
	l := res.Links[0]
	assert.Equal(t, model.Unmatched, l.Status)
	assert.Equal(t, "b1", l.EntityIDB)
	assert.Less(t, l.Score, 50.0)
	assert.False(t, l.Usable(true))
	var w *model.UnmatchedEntityWarning
	require.ErrorAs(t, res.Warnings[0], &w)
}

func TestResolve_EmptyCatalogs(t *testing.T) {
	r := newResolver(t, Options{Threshold: 50})

	res, err := r.Resolve(context.Background(), nil, []model.CatalogEntry{entry("fdc", "b1", "Apples", "")})
	require.NoError(t, err)
	assert.Empty(t, res.Links)

	res, err = r.Resolve(context.Background(), []model.CatalogEntry{entry("odepa", "a1", "Manzana", "")}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Links)
}

func TestResolve_InvalidName(t *testing.T) {
	r := newResolver(t, Options{Threshold: 50})
	_, err := r.Resolve(context.Background(),
		[]model.CatalogEntry{entry("odepa", "a1", " ,; ", "")},
		[]model.CatalogEntry{entry("fdc", "b1", "Apples", "")},
	)
	require.Error(t, err)
	var inv *InvalidEntityNameError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, "a1", inv.EntityID)

	_, err = r.Resolve(context.Background(),
		[]model.CatalogEntry{entry("odepa", "a1", "Manzana", "")},
		[]model.CatalogEntry{entry("fdc", "b1", "", "")},
	)
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, "fdc", inv.CatalogID)
}

func TestResolve_DeterministicAcrossWorkers(t *testing.T) {
	var a, b []model.CatalogEntry
	names := []string{"apple", "apple raw", "banana", "bananas ripe", "milk whole", "whole milk", "bread", "rice white", "beans", "lentils"}
	for i := 0; i < 37; i++ {
		a = append(a, entry("odepa", fmt.Sprintf("a%d", i), names[i%len(names)]+fmt.Sprintf(" %d", i%3), ""))
	}
	for i, n := range names {
		b = append(b, entry("fdc", fmt.Sprintf("b%d", i), n, ""))
	}

	single, err := newResolver(t, Options{Threshold: 40, Workers: 1}).Resolve(context.Background(), a, b)
	require.NoError(t, err)
	sharded, err := newResolver(t, Options{Threshold: 40, Workers: 4}).Resolve(context.Background(), a, b)
	require.NoError(t, err)

	require.Len(t, single.Links, len(a))
	assert.Equal(t, single.Links, sharded.Links)
	assert.Equal(t, single.Stats, sharded.Stats)
	for i, l := range sharded.Links {
		assert.Equal(t, a[i].EntityID, l.EntityIDA)
	}
}

func TestResolve_Blocking(t *testing.T) {
	r := newResolver(t, Options{
		Threshold:    50,
		Blocking:     true,
		GroupAliases: map[string]string{"Frutas": "Fruits and Fruit Juices"},
	})
	res, err := r.Resolve(context.Background(),
		[]model.CatalogEntry{
			entry("odepa", "a1", "Apple", "Frutas"),
			entry("odepa", "a2", "Apple", "Sin grupo"),
		},
		[]model.CatalogEntry{
			entry("fdc", "b1", "Apple pie", "Baked Products"),
			entry("fdc", "b2", "Apples, raw", "Fruits and Fruit Juices"),
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "b2", res.Links[0].EntityIDB)
	assert.Equal(t, model.Matched, res.Links[0].Status)

	// no candidates in the group: still exactly one link, unmatched
	assert.Equal(t, model.Unmatched, res.Links[1].Status)
	assert.Empty(t, res.Links[1].EntityIDB)
	assert.Equal(t, int64(1), res.Stats.Comparisons)
}

func TestResolve_Vocabulary(t *testing.T) {
	r := newResolver(t, Options{Threshold: 80, Vocabulary: map[string]string{"manzana": "apple"}})
	res, err := r.Resolve(context.Background(),
		[]model.CatalogEntry{entry("odepa", "a1", "Manzana", "")},
		[]model.CatalogEntry{
			entry("fdc", "b1", "Pears, raw", ""),
			entry("fdc", "b2", "Apples, raw", ""),
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "apple", res.Links[0].NormalizedNameA)
	assert.Equal(t, "b2", res.Links[0].EntityIDB)
}

func TestResolve_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newResolver(t, Options{Threshold: 50})
	_, err := r.Resolve(ctx,
		[]model.CatalogEntry{entry("odepa", "a1", "Apple", "")},
		[]model.CatalogEntry{entry("fdc", "b1", "Apple", "")},
	)
	assert.Error(t, err)
}

func TestNew_InvalidThreshold(t *testing.T) {
	_, err := New(Options{Threshold: 120})
	assert.Error(t, err)
}

func TestLinksRelation_RoundTrip(t *testing.T) {
	links := []model.MatchLink{{
		EntityIDA: "a1", EntityIDB: "b1", NormalizedNameA: "red apple", NormalizedNameB: "apples raw",
		Score: 70, Status: model.Matched, TiedCandidates: 1,
	}}
	rel := LinksRelation("catalog_links", links)
	require.NoError(t, rel.Validate())
	assert.Equal(t, links, DecodeLinks(rel))
}

func TestDecodeCatalog(t *testing.T) {
	rel := schema.NewRelation(schema.Catalog("price_catalog", "price_per_kg"))
	rel.Append(schema.Row{"entity_id": "a1", "name": "Red Apple", "group_label": "Frutas", "price_per_kg": "1200"})
	rel.Append(schema.Row{"entity_id": "a2", "name": "Pera", "price_per_kg": "n/d"})

	entries := DecodeCatalog(rel, "odepa", "price_per_kg")
	require.Len(t, entries, 2)
	assert.Equal(t, "Red Apple", entries[0].CanonicalName)
	assert.Equal(t, model.Num(1200), entries[0].Attributes["price_per_kg"])
	assert.False(t, entries[1].Attributes["price_per_kg"].Valid)
	assert.Empty(t, entries[0].NormalizedName)
}
