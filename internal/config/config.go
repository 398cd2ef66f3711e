package config

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/dazubi/internal/catalog"
)

// Config holds the full application configuration.
type Config struct {
	Portal   PortalConfig   `yaml:"portal" mapstructure:"portal"`
	Fetch    FetchConfig    `yaml:"fetch" mapstructure:"fetch"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	RunLog   RunLogConfig   `yaml:"runlog" mapstructure:"runlog"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// PortalConfig locates the statistics portal.
type PortalConfig struct {
	CatalogURL string `yaml:"catalog_url" mapstructure:"catalog_url"`
	// ExportURL is a template with {attribute}, {occupation}, {country} and
	// {year} placeholders.
	ExportURL string `yaml:"export_url" mapstructure:"export_url"`
}

// FetchConfig configures HTTP downloads.
type FetchConfig struct {
	UserAgent     string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries    int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	// SkipRows is dropped from the top of every sheet before the header is
	// read. The portal puts a title row above each table.
	SkipRows int `yaml:"skip_rows" mapstructure:"skip_rows"`
}

// Timeout returns the per-request timeout.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSecs) * time.Second
}

// PipelineConfig configures the harvesting run.
type PipelineConfig struct {
	SleepSecs      float64 `yaml:"sleep_secs" mapstructure:"sleep_secs"`
	WriteEvery     int     `yaml:"write_every" mapstructure:"write_every"`
	Retain         int     `yaml:"retain" mapstructure:"retain"`
	SanityCheck    bool    `yaml:"sanity_check" mapstructure:"sanity_check"`
	Compress       bool    `yaml:"compress" mapstructure:"compress"`
	SaveAttributes bool    `yaml:"save_attributes" mapstructure:"save_attributes"`
	HeaderStrategy string  `yaml:"header_strategy" mapstructure:"header_strategy"`
	CoverSheet     string  `yaml:"cover_sheet" mapstructure:"cover_sheet"`
}

// Sleep returns the pause between downloads.
func (p PipelineConfig) Sleep() time.Duration {
	return time.Duration(p.SleepSecs * float64(time.Second))
}

// OutputConfig configures the data directory layout.
type OutputConfig struct {
	DataDir     string `yaml:"data_dir" mapstructure:"data_dir"`
	OccDir      string `yaml:"occ_dir" mapstructure:"occ_dir"`
	AttrDir     string `yaml:"attr_dir" mapstructure:"attr_dir"`
	Prefix      string `yaml:"prefix" mapstructure:"prefix"`
	FinalName   string `yaml:"final_name" mapstructure:"final_name"`
	CatalogLock string `yaml:"catalog_lock" mapstructure:"catalog_lock"`
	Delimiter   string `yaml:"delimiter" mapstructure:"delimiter"`
}

// Comma returns the CSV delimiter as a rune.
func (o OutputConfig) Comma() rune {
	r, _ := utf8.DecodeRuneInString(o.Delimiter)
	if r == utf8.RuneError {
		return ','
	}
	return r
}

// RunLogConfig configures the SQLite run ledger.
type RunLogConfig struct {
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// MetricsConfig configures the Prometheus textfile.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path" mapstructure:"textfile_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DAZUBI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("portal.catalog_url", catalog.DefaultPageURL)
	v.SetDefault("portal.export_url", catalog.DefaultExportURL)
	v.SetDefault("fetch.user_agent", "dazubi/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 5)
	v.SetDefault("fetch.rate_per_second", 0)
	v.SetDefault("fetch.skip_rows", 1)
	v.SetDefault("pipeline.sleep_secs", 1)
	v.SetDefault("pipeline.write_every", 1)
	v.SetDefault("pipeline.retain", 0)
	v.SetDefault("pipeline.sanity_check", true)
	v.SetDefault("pipeline.compress", false)
	v.SetDefault("pipeline.save_attributes", false)
	v.SetDefault("pipeline.header_strategy", "prefix")
	v.SetDefault("pipeline.cover_sheet", "Deckblatt")
	v.SetDefault("output.data_dir", "data")
	v.SetDefault("output.occ_dir", "occ")
	v.SetDefault("output.attr_dir", "attr")
	v.SetDefault("output.prefix", "dazubi")
	v.SetDefault("output.final_name", "dazubi_complete.csv")
	v.SetDefault("output.catalog_lock", "catalog.yaml")
	v.SetDefault("output.delimiter", ",")
	v.SetDefault("runlog.dsn", "data/dazubi.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

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

	return &cfg, nil
}

// Validate checks the values a download run depends on.
func (c *Config) Validate() error {
	var problems []string
	if c.Portal.CatalogURL == "" {
		problems = append(problems, "portal.catalog_url is required")
	}
	for _, ph := range []string{"{attribute}", "{occupation}", "{country}", "{year}"} {
		if !strings.Contains(c.Portal.ExportURL, ph) {
			problems = append(problems, "portal.export_url is missing "+ph)
		}
	}
	if c.Fetch.MaxRetries < 0 {
		problems = append(problems, "fetch.max_retries must not be negative")
	}
	if c.Fetch.SkipRows < 0 {
		problems = append(problems, "fetch.skip_rows must not be negative")
	}
	if c.Pipeline.SleepSecs < 0 {
		problems = append(problems, "pipeline.sleep_secs must not be negative")
	}
	if c.Pipeline.WriteEvery < 0 {
		problems = append(problems, "pipeline.write_every must not be negative")
	}
	if c.Pipeline.Retain < 0 {
		problems = append(problems, "pipeline.retain must not be negative")
	}
	switch strings.ToLower(c.Pipeline.HeaderStrategy) {
	case "", "prefix", "cumulative":
	default:
		problems = append(problems, "pipeline.header_strategy must be prefix or cumulative")
	}
	if utf8.RuneCountInString(c.Output.Delimiter) != 1 {
		problems = append(problems, "output.delimiter must be a single character")
	}
	if c.Output.DataDir == "" {
		problems = append(problems, "output.data_dir is required")
	}
	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
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
