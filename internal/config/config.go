package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vaaleriarv/proyecto-salud/internal/reshape"
	"github.com/vaaleriarv/proyecto-salud/internal/resolve"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Sources    []SourceConfig   `yaml:"sources" mapstructure:"sources"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Reshape    ReshapeConfig    `yaml:"reshape" mapstructure:"reshape"`
	Resolve    ResolveConfig    `yaml:"resolve" mapstructure:"resolve"`
	Indicators IndicatorsConfig `yaml:"indicators" mapstructure:"indicators"`
	Cleaning   CleaningConfig   `yaml:"cleaning" mapstructure:"cleaning"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
}

// StoreConfig configures the relation store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// SourceConfig describes one snapshot loaded into a relation. Relation
// defaults to Name; several sources may feed the same relation. Path is a
// local file or an http(s)/ftp URL; Member picks a file inside a .zip
// path. Columns maps declared field names to header names. IDColumn marks
// a wide file that is melted into measurement records. Duplicates picks how
// rows repeating a relation key are collapsed: mean (default), first or last.
type SourceConfig struct {
	Name       string            `yaml:"name" mapstructure:"name"`
	Relation   string            `yaml:"relation" mapstructure:"relation"`
	Path       string            `yaml:"path" mapstructure:"path"`
	Member     string            `yaml:"member" mapstructure:"member"`
	Format     string            `yaml:"format" mapstructure:"format"`
	Delimiter  string            `yaml:"delimiter" mapstructure:"delimiter"`
	Sheet      string            `yaml:"sheet" mapstructure:"sheet"`
	SkipRows   int               `yaml:"skip_rows" mapstructure:"skip_rows"`
	Columns    map[string]string `yaml:"columns" mapstructure:"columns"`
	IDColumn   string            `yaml:"id_column" mapstructure:"id_column"`
	Optional   bool              `yaml:"optional" mapstructure:"optional"`
	Duplicates string            `yaml:"duplicates" mapstructure:"duplicates"`
}

// RelationName returns the relation the source loads into.
func (s SourceConfig) RelationName() string {
	if s.Relation != "" {
		return s.Relation
	}
	return s.Name
}

// FetchConfig configures remote snapshot downloads.
type FetchConfig struct {
	CacheDir    string  `yaml:"cache_dir" mapstructure:"cache_dir"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerHost float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// ReshapeConfig holds one section per reshaped measurement family.
type ReshapeConfig struct {
	Nutrients ReshapeSection `yaml:"nutrients" mapstructure:"nutrients"`
	Clinical  ReshapeSection `yaml:"clinical" mapstructure:"clinical"`
}

// ReshapeSection configures one long-to-wide pivot.
type ReshapeSection struct {
	Source      string            `yaml:"source" mapstructure:"source"`
	Descriptors string            `yaml:"descriptors" mapstructure:"descriptors"`
	Fields      []string          `yaml:"descriptor_fields" mapstructure:"descriptor_fields"`
	Output      string            `yaml:"output" mapstructure:"output"`
	Aggregation string            `yaml:"aggregation" mapstructure:"aggregation"`
	Strict      bool              `yaml:"strict" mapstructure:"strict"`
	Attributes  map[string]string `yaml:"attributes" mapstructure:"attributes"`
	Ignore      []string          `yaml:"ignore" mapstructure:"ignore"`
}

// ResolveConfig configures catalog matching.
type ResolveConfig struct {
	Similarity   string            `yaml:"similarity" mapstructure:"similarity"`
	Threshold    float64           `yaml:"threshold" mapstructure:"threshold"`
	Blocking     bool              `yaml:"blocking" mapstructure:"blocking"`
	Workers      int               `yaml:"workers" mapstructure:"workers"`
	UseAmbiguous bool              `yaml:"use_ambiguous" mapstructure:"use_ambiguous"`
	GroupAliases map[string]string `yaml:"group_aliases" mapstructure:"group_aliases"`
	Vocabulary   map[string]string `yaml:"vocabulary" mapstructure:"vocabulary"`
}

// IndicatorsConfig points at an optional rule override file.
type IndicatorsConfig struct {
	RulesFile string `yaml:"rules_file" mapstructure:"rules_file"`
}

// CleaningConfig points at an optional cleaning rule file.
type CleaningConfig struct {
	RulesFile string `yaml:"rules_file" mapstructure:"rules_file"`
	Disabled  bool   `yaml:"disabled" mapstructure:"disabled"`
}

// ExportConfig configures the parquet export.
type ExportConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// DefaultNutrientAttributes maps food-composition nutrient ids to names.
func DefaultNutrientAttributes() map[string]string {
	return map[string]string{
		"1003": "protein",
		"1004": "fat",
		"1005": "carbohydrate",
		"1008": "energy",
		"1079": "fiber",
		"1087": "calcium",
		"1089": "iron",
		"1095": "zinc",
		"1253": "cholesterol",
		"1258": "saturated_fat",
		"1292": "monounsaturated_fat",
		"1293": "polyunsaturated_fat",
		"2000": "sugars",
	}
}

// DefaultClinicalAttributes maps survey variable codes to names.
func DefaultClinicalAttributes() map[string]string {
	return map[string]string{
		"LBXGH":    "hba1c",
		"LBXGLU":   "glucose",
		"LBXIN":    "insulin",
		"LBXTC":    "total_cholesterol",
		"LBDHDD":   "hdl",
		"LBXTR":    "triglycerides",
		"LBXHSCRP": "crp",
		"BMXBMI":   "bmi",
		"BMXWAIST": "waist",
		"BMXHIP":   "hip",
		"BMXWT":    "weight",
		"BMXHT":    "height",
		"RIAGENDR": "sex",
		"RIDAGEYR": "age",
		"INDFMPIR": "poverty_ratio",
	}
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SALUD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "pipeline.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("reshape.nutrients.source", "nutrient_measurements")
	v.SetDefault("reshape.nutrients.descriptors", "nutrition_catalog")
	v.SetDefault("reshape.nutrients.descriptor_fields", []string{"name", "group_label"})
	v.SetDefault("reshape.nutrients.output", "nutrient_features")
	v.SetDefault("reshape.nutrients.aggregation", "first")
	v.SetDefault("reshape.clinical.source", "clinical_measurements")
	v.SetDefault("reshape.clinical.output", "clinical_features")
	v.SetDefault("reshape.clinical.aggregation", "first")
	v.SetDefault("resolve.similarity", resolve.DefaultSimilarity)
	v.SetDefault("resolve.threshold", 50.0)
	v.SetDefault("resolve.blocking", false)
	v.SetDefault("resolve.workers", 4)
	v.SetDefault("resolve.use_ambiguous", true)
	v.SetDefault("fetch.cache_dir", ".cache/snapshots")
	v.SetDefault("fetch.timeout_secs", 120)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.rate_per_host", 2.0)
	v.SetDefault("fetch.user_agent", "proyecto-salud/1.0")
	v.SetDefault("export.dir", "export")
	v.SetDefault("server.port", 8080)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills attribute maps after unmarshal; viper would merge a
// map default key by key into a user-supplied map.
func (c *Config) applyDefaults() {
	if len(c.Reshape.Nutrients.Attributes) == 0 {
		c.Reshape.Nutrients.Attributes = DefaultNutrientAttributes()
	}
	if len(c.Reshape.Clinical.Attributes) == 0 {
		c.Reshape.Clinical.Attributes = DefaultClinicalAttributes()
	}
}

// Validate checks the settings a command mode depends on. Modes: run,
// load, serve, export, migrate.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run":
		errs = append(errs, c.validatePipeline()...)
		errs = append(errs, c.validateSources()...)
	case "load":
		errs = append(errs, c.validateSources()...)
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "export":
		if c.Export.Dir == "" {
			errs = append(errs, "export.dir is required")
		}
	case "migrate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q (valid: sqlite, postgres)", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q (valid: json, console)", c.Log.Format))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validatePipeline() []string {
	var errs []string
	sections := []struct {
		name string
		s    ReshapeSection
	}{{"nutrients", c.Reshape.Nutrients}, {"clinical", c.Reshape.Clinical}}
	for _, sec := range sections {
		name, s := sec.name, sec.s
		if _, err := reshape.ParseAggregation(s.Aggregation); err != nil {
			errs = append(errs, fmt.Sprintf("reshape.%s.aggregation %q", name, s.Aggregation))
		}
		if s.Source == "" || s.Output == "" {
			errs = append(errs, fmt.Sprintf("reshape.%s needs source and output", name))
		}
	}

	if _, err := resolve.LookupSimilarity(c.Resolve.Similarity); err != nil {
		errs = append(errs, fmt.Sprintf("resolve.similarity %q", c.Resolve.Similarity))
	}
	if c.Resolve.Threshold < 0 || c.Resolve.Threshold > 100 {
		errs = append(errs, fmt.Sprintf("resolve.threshold %.2f outside [0, 100]", c.Resolve.Threshold))
	}
	if c.Resolve.Workers < 0 {
		errs = append(errs, "resolve.workers is negative")
	}
	return errs
}

func (c *Config) validateSources() []string {
	var errs []string
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Sprintf("sources[%d] has no name", i))
		case seen[s.Name]:
			errs = append(errs, fmt.Sprintf("sources[%d] duplicates %q", i, s.Name))
		}
		seen[s.Name] = true
		if s.Path == "" {
			errs = append(errs, fmt.Sprintf("sources[%d] has no path", i))
		}
		if len([]rune(s.Delimiter)) > 1 && s.Delimiter != `\t` {
			errs = append(errs, fmt.Sprintf("sources[%d] delimiter %q is not one character", i, s.Delimiter))
		}
		switch s.Duplicates {
		case "", "mean", "first", "last":
		default:
			errs = append(errs, fmt.Sprintf("sources[%d] duplicates policy %q is not mean, first or last", i, s.Duplicates))
		}
	}
	if len(c.Sources) > 0 && c.Fetch.CacheDir == "" {
		errs = append(errs, "fetch.cache_dir is required")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
