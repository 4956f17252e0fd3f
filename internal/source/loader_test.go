package source

import (
	"archive/zip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/vaaleriarv/proyecto-salud/internal/config"
	"github.com/vaaleriarv/proyecto-salud/internal/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	return NewLoader(Options{CacheDir: filepath.Join(t.TempDir(), "cache"), Concurrency: 2})
}

func TestLoad_PriceCatalogCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "precios.csv",
		"Codigo;Producto;Grupo;Precio por kg;Region\n"+
			"p1;Red Apple;Frutas;1200;RM\n"+
			"p2;Pan;Panaderia;s/i;RM\n"+
			";;;;\n")

	res, err := newTestLoader(t).Load(context.Background(), []config.SourceConfig{{
		Name:      PriceCatalog,
		Path:      path,
		Delimiter: ";",
		Columns: map[string]string{
			"entity_id":    "Codigo",
			"name":         "Producto",
			"group_label":  "Grupo",
			"price_per_kg": "Precio por kg",
		},
	}})
	require.NoError(t, err)

	rel := res.Relations[PriceCatalog]
	require.NotNil(t, rel)
	require.Equal(t, 2, rel.Len(), "blank rows are dropped")
	assert.Equal(t, "Red Apple", rel.Rows[0]["name"])
	assert.Equal(t, "Frutas", rel.Rows[0]["group_label"])
	assert.Equal(t, model.Num(1200), rel.Rows[0]["price_per_kg"])
	assert.Equal(t, model.Missing, rel.Rows[1]["price_per_kg"])

	require.Len(t, res.Reports, 1)
	rep := res.Reports[0]
	assert.NoError(t, rep.Err)
	assert.Equal(t, 2, rep.Rows)
	assert.Equal(t, 1, rep.ParseErrors)
	assert.Equal(t, []string{"Region"}, rep.Unmapped)
}

func TestLoad_NormalizedHeaderMatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "food_nutrient.csv",
		"Entity ID,Attribute-ID,Value\n"+
			"1102644,1079,2.4\n"+
			"1102644,1003,.\n")

	res, err := newTestLoader(t).Load(context.Background(), []config.SourceConfig{{
		Name: NutrientMeasurements,
		Path: path,
	}})
	require.NoError(t, err)

	rel := res.Relations[NutrientMeasurements]
	require.Equal(t, 2, rel.Len())
	assert.Equal(t, "1079", rel.Rows[0]["attribute_id"])
	assert.Equal(t, model.Num(2.4), rel.Rows[0]["value"])
	assert.Equal(t, model.Missing, rel.Rows[1]["value"], `"." placeholder is missing`)
	assert.Equal(t, NutrientMeasurements, rel.Rows[0]["source_id"], "source_id defaults to the source name")
	assert.Equal(t, 1, res.Reports[0].ParseErrors)
}

func TestLoad_MeltWideFile(t *testing.T) {
	dir := t.TempDir()
	ghb := writeFile(t, dir, "GHB_J.csv", "SEQN,LBXGH\n93703,5.6\n93704,\n")
	bmx := writeFile(t, dir, "BMX_J.csv", "SEQN,BMXBMI,BMXWAIST\n93703,31.2,102\n")

	res, err := newTestLoader(t).Load(context.Background(), []config.SourceConfig{
		{Name: "nhanes_ghb", Relation: ClinicalMeasurements, Path: ghb, IDColumn: "SEQN"},
		{Name: "nhanes_bmx", Relation: ClinicalMeasurements, Path: bmx, IDColumn: "seqn"},
	})
	require.NoError(t, err)

	rel := res.Relations[ClinicalMeasurements]
	require.NotNil(t, rel)
	require.Equal(t, 4, rel.Len())

	assert.Equal(t, "nhanes_ghb", rel.Rows[0]["source_id"])
	assert.Equal(t, "93703", rel.Rows[0]["entity_id"])
	assert.Equal(t, "LBXGH", rel.Rows[0]["attribute_id"])
	assert.Equal(t, model.Num(5.6), rel.Rows[0]["value"])
	assert.Equal(t, model.Missing, rel.Rows[1]["value"])

	assert.Equal(t, "nhanes_bmx", rel.Rows[2]["source_id"], "sources keep configuration order")
	assert.Equal(t, "BMXBMI", rel.Rows[2]["attribute_id"])
	assert.Equal(t, "BMXWAIST", rel.Rows[3]["attribute_id"])
}

func TestLoad_MeltMissingIDColumn(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "GHB_J.csv", "ID,LBXGH\n1,5.6\n")

	res, err := newTestLoader(t).Load(context.Background(), []config.SourceConfig{
		{Name: ClinicalMeasurements, Path: path, IDColumn: "SEQN"},
	})
	require.NoError(t, err)
	require.Error(t, res.Reports[0].Err)
	assert.True(t, model.IsMissingSource(res.Reports[0].Err))
	assert.True(t, model.IsSchemaViolation(res.Reports[0].Err))
}

func TestLoad_MissingRequiredColumn(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "precios.csv", "entity_id,precio\np1,1200\n")

	res, err := newTestLoader(t).Load(context.Background(), []config.SourceConfig{
		{Name: PriceCatalog, Path: path},
	})
	require.NoError(t, err)
	assert.Nil(t, res.Relations[PriceCatalog])
	assert.True(t, model.IsSchemaViolation(res.Reports[0].Err))
	require.Len(t, res.Missing(true), 1)
	assert.Equal(t, PriceCatalog, res.Missing(true)[0].Source)
	assert.Empty(t, res.Missing(false))
}

func TestLoad_OptionalSourceAbsent(t *testing.T) {
	dir := t.TempDir()
	prices := writeFile(t, dir, "precios.csv", "entity_id,name,price_per_kg\np1,Red Apple,1200\n")

	res, err := newTestLoader(t).Load(context.Background(), []config.SourceConfig{
		{Name: PriceCatalog, Path: prices},
		{Name: NutritionCatalog, Path: filepath.Join(dir, "food.csv"), Optional: true},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Relations[PriceCatalog].Len())
	assert.Nil(t, res.Relations[NutritionCatalog])
	missing := res.Missing(false)
	require.Len(t, missing, 1)
	assert.Equal(t, NutritionCatalog, missing[0].Source)
	assert.Empty(t, res.Missing(true))
}

func TestLoad_UndeclaredRelation(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "x.csv", "a\n1\n")

	res, err := newTestLoader(t).Load(context.Background(), []config.SourceConfig{{Name: "weather", Path: path}})
	require.NoError(t, err)
	assert.ErrorContains(t, res.Reports[0].Err, `no declared schema for relation "weather"`)
}

func TestLoad_JSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "food.json", `[
		{"fdc_id": 1102644, "description": "Apples, raw", "food_category": "Fruits"},
		{"fdc_id": 1102653, "description": "Bananas, raw", "food_category": "Fruits"}
	]`)

	res, err := newTestLoader(t).Load(context.Background(), []config.SourceConfig{{
		Name:    NutritionCatalog,
		Path:    path,
		Columns: map[string]string{"entity_id": "fdc_id", "name": "description", "group_label": "food_category"},
	}})
	require.NoError(t, err)

	rel := res.Relations[NutritionCatalog]
	require.Equal(t, 2, rel.Len())
	assert.Equal(t, "1102644", rel.Rows[0]["entity_id"], "numeric ids render without a decimal part")
	assert.Equal(t, "Apples, raw", rel.Rows[0]["name"])
}

func TestLoad_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	sh, err := f.AddSheet("Precios")
	require.NoError(t, err)
	hdr := sh.AddRow()
	for _, h := range []string{"entity_id", "name", "price_per_kg"} {
		hdr.AddCell().SetString(h)
	}
	row := sh.AddRow()
	row.AddCell().SetString("p1")
	row.AddCell().SetString("Red Apple")
	row.AddCell().SetFloat(1200)
	path := filepath.Join(t.TempDir(), "precios.xlsx")
	require.NoError(t, f.Save(path))

	res, err := newTestLoader(t).Load(context.Background(), []config.SourceConfig{
		{Name: PriceCatalog, Path: path, Sheet: "Precios"},
	})
	require.NoError(t, err)
	require.NoError(t, res.Reports[0].Err)
	rel := res.Relations[PriceCatalog]
	require.Equal(t, 1, rel.Len())
	assert.Equal(t, model.Num(1200), rel.Rows[0]["price_per_kg"])
}

func TestLoad_ZipMember(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "FoodData_Central.zip")
	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	w := zip.NewWriter(zf)
	for name, body := range map[string]string{
		"FoodData/food.csv":          "fdc_id,description\n1,Apples",
		"FoodData/food_nutrient.csv": "fdc_id,nutrient_id,amount\n1102644,1079,2.4\n",
	} {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, zf.Close())

	res, err := newTestLoader(t).Load(context.Background(), []config.SourceConfig{{
		Name:    NutrientMeasurements,
		Path:    zipPath,
		Member:  "FoodData/food_nutrient.csv",
		Columns: map[string]string{"entity_id": "fdc_id", "attribute_id": "nutrient_id", "value": "amount"},
	}})
	require.NoError(t, err)
	require.NoError(t, res.Reports[0].Err)
	rel := res.Relations[NutrientMeasurements]
	require.Equal(t, 1, rel.Len())
	assert.Equal(t, model.Num(2.4), rel.Rows[0]["value"])
}

func TestLoad_RemoteSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/export/precios.csv" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("entity_id,name,price_per_kg\np1,Red Apple,1200\n")) //nolint:errcheck
	}))
	defer srv.Close()

	l := newTestLoader(t)
	res, err := l.Load(context.Background(), []config.SourceConfig{
		{Name: PriceCatalog, Path: srv.URL + "/export/precios.csv"},
		{Name: NutritionCatalog, Path: srv.URL + "/missing.csv", Optional: true},
	})
	require.NoError(t, err)
	require.NoError(t, res.Reports[0].Err)
	assert.Equal(t, 1, res.Relations[PriceCatalog].Len())
	assert.FileExists(t, filepath.Join(l.opts.CacheDir, "price_catalog_precios.csv"))
	assert.True(t, model.IsMissingSource(res.Reports[1].Err))
}

func TestLoad_Cancelled(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestLoader(t).Load(ctx, []config.SourceConfig{
		{Name: PriceCatalog, Path: filepath.Join(dir, "nope.csv")},
	})
	require.Error(t, err)
}

func TestDeclared(t *testing.T) {
	tests := []struct {
		relation string
		key      []string
		hasPrice bool
		wantErr  bool
	}{
		{relation: PriceCatalog, key: []string{"entity_id"}, hasPrice: true},
		{relation: NutritionCatalog, key: []string{"entity_id"}},
		{relation: ClinicalMeasurements},
		{relation: "lab_measurements"},
		{relation: "weather", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.relation, func(t *testing.T) {
			s, err := Declared(tt.relation)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.relation, s.Name)
			assert.Equal(t, tt.key, s.Key)
			_, ok := s.Field("price_per_kg")
			assert.Equal(t, tt.hasPrice, ok)
		})
	}
}

func TestNormalizeCol(t *testing.T) {
	assert.Equal(t, "price_per_kg", normalizeCol(" Price per kg "))
	assert.Equal(t, "attribute_id", normalizeCol("Attribute-ID"))
	assert.Equal(t, "precio_$", normalizeCol("Precio ($)"))
}

func TestDelimiter(t *testing.T) {
	assert.Equal(t, ',', delimiter("", "csv"))
	assert.Equal(t, '\t', delimiter("", "tsv"))
	assert.Equal(t, '\t', delimiter(`\t`, "csv"))
	assert.Equal(t, ';', delimiter(";", "csv"))
}

func TestLoad_RepeatedKeysAveraged(t *testing.T) {
	dir := t.TempDir()
	odepa := writeFile(t, dir, "odepa.csv",
		"entity_id,name,group_label,price_per_kg\n"+
			"P1,Red Apple,,1200\n"+
			"P2,Pan,Panaderia,900\n"+
			"P1,Red Apple,Frutas,1300\n"+
			"P1,Red Apple,Frutas,s/i\n")
	extra := writeFile(t, dir, "extra.csv", "entity_id,name,price_per_kg\nP2,Pan,1100\n")

	res, err := newTestLoader(t).Load(context.Background(), []config.SourceConfig{
		{Name: "odepa", Relation: PriceCatalog, Path: odepa},
		{Name: "extra", Relation: PriceCatalog, Path: extra},
	})
	require.NoError(t, err)

	rel := res.Relations[PriceCatalog]
	require.Equal(t, 2, rel.Len())
	assert.Equal(t, "P1", rel.Rows[0]["entity_id"])
	assert.Equal(t, model.Num(1250), rel.Rows[0]["price_per_kg"], "unparseable observations are left out of the mean")
	assert.Equal(t, "Frutas", rel.Rows[0]["group_label"], "blank text is filled from later rows")
	assert.Equal(t, model.Num(1000), rel.Rows[1]["price_per_kg"], "keys repeat across sources")

	assert.Equal(t, 2, res.Reports[0].Merged)
	assert.Equal(t, 1, res.Reports[1].Merged)
	assert.Equal(t, 1, res.Reports[0].ParseErrors)
	require.NoError(t, rel.Validate())
}

func TestLoad_DuplicatePolicies(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "precios.csv",
		"entity_id,name,price_per_kg\nP1,Red Apple,1200\nP1,Manzana Roja,1300\n")

	tests := []struct {
		policy string
		name   string
		price  float64
	}{
		{"", "Red Apple", 1250},
		{"first", "Red Apple", 1200},
		{"last", "Manzana Roja", 1300},
	}
	for _, tt := range tests {
		t.Run("policy="+tt.policy, func(t *testing.T) {
			res, err := newTestLoader(t).Load(context.Background(), []config.SourceConfig{
				{Name: PriceCatalog, Path: path, Duplicates: tt.policy},
			})
			require.NoError(t, err)
			rel := res.Relations[PriceCatalog]
			require.Equal(t, 1, rel.Len())
			assert.Equal(t, tt.name, rel.Rows[0]["name"])
			assert.Equal(t, model.Num(tt.price), rel.Rows[0]["price_per_kg"])
		})
	}
}

func TestLoad_BlankRequiredCellDropped(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "food_nutrient.csv",
		"entity_id,attribute_id,value\n1102644,1079,2.4\n,1079,3.1\n1102644,,1.0\n")

	res, err := newTestLoader(t).Load(context.Background(), []config.SourceConfig{
		{Name: NutrientMeasurements, Path: path},
	})
	require.NoError(t, err)

	rel := res.Relations[NutrientMeasurements]
	require.Equal(t, 1, rel.Len())
	assert.Equal(t, 2, res.Reports[0].Dropped)
	assert.Equal(t, 1, res.Reports[0].Rows)
	require.NoError(t, rel.Validate())
}
