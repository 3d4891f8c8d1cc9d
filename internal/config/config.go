package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Reference ReferenceConfig `yaml:"reference" mapstructure:"reference"`
	Lookup    LookupConfig    `yaml:"lookup" mapstructure:"lookup"`
	Resolve   ResolveConfig   `yaml:"resolve" mapstructure:"resolve"`
	Run       RunConfig       `yaml:"run" mapstructure:"run"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ReferenceConfig configures the reference store that backs the system index.
type ReferenceConfig struct {
	Driver           string `yaml:"driver" mapstructure:"driver"`
	DSN              string `yaml:"dsn" mapstructure:"dsn"`
	Table            string `yaml:"table" mapstructure:"table"`
	IDColumn         string `yaml:"id_column" mapstructure:"id_column"`
	NameColumn       string `yaml:"name_column" mapstructure:"name_column"`
	ConnectAttempts  int    `yaml:"connect_attempts" mapstructure:"connect_attempts"`
	ConnectBackoffMs int    `yaml:"connect_backoff_ms" mapstructure:"connect_backoff_ms"`
}

// LookupConfig configures the upstream faction site.
type LookupConfig struct {
	Source            string        `yaml:"source" mapstructure:"source"`
	SourceFile        string        `yaml:"source_file" mapstructure:"source_file"`
	UserAgent         string        `yaml:"user_agent" mapstructure:"user_agent"`
	SearchTimeout     time.Duration `yaml:"search_timeout" mapstructure:"search_timeout"`
	DetailsTimeout    time.Duration `yaml:"details_timeout" mapstructure:"details_timeout"`
	SearchRetries     int           `yaml:"search_retries" mapstructure:"search_retries"`
	SearchBackoffMs   int           `yaml:"search_backoff_ms" mapstructure:"search_backoff_ms"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// ResolveConfig bounds the work spent on a single faction.
type ResolveConfig struct {
	MaxRetries   int           `yaml:"max_retries" mapstructure:"max_retries"`
	HardDeadline time.Duration `yaml:"hard_deadline" mapstructure:"hard_deadline"`
	RetryBackoff time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// RunConfig controls pacing and finalization of a pass.
type RunConfig struct {
	Delay       time.Duration `yaml:"delay" mapstructure:"delay"`
	NoCommit    bool          `yaml:"no_commit" mapstructure:"no_commit"`
	RetryMisses bool          `yaml:"retry_misses" mapstructure:"retry_misses"`
}

// OutputConfig describes the append log and the statements written to it.
type OutputConfig struct {
	Path       string `yaml:"path" mapstructure:"path"`
	Table      string `yaml:"table" mapstructure:"table"`
	KeyColumn  string `yaml:"key_column" mapstructure:"key_column"`
	IDColumn   string `yaml:"id_column" mapstructure:"id_column"`
	FlagColumn string `yaml:"flag_column" mapstructure:"flag_column"`
}

// New returns a viper instance with defaults, env binding and the optional
// config.yaml search path applied. Callers may bind flags before Load.
func New() *viper.Viper {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("NATIVESYS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("reference.driver", "sqlserver")
	v.SetDefault("reference.table", "ref.System")
	v.SetDefault("reference.id_column", "SystemID")
	v.SetDefault("reference.name_column", "SystemName")
	v.SetDefault("reference.connect_attempts", 5)
	v.SetDefault("reference.connect_backoff_ms", 10000)
	v.SetDefault("lookup.source", "inara")
	v.SetDefault("lookup.user_agent", "nativesys/1.0 (+FalconsFactionMonitor | polite fetcher)")
	v.SetDefault("lookup.search_timeout", 25*time.Second)
	v.SetDefault("lookup.details_timeout", 60*time.Second)
	v.SetDefault("lookup.search_retries", 3)
	v.SetDefault("lookup.search_backoff_ms", 1200)
	v.SetDefault("lookup.requests_per_second", 2.0)
	v.SetDefault("resolve.max_retries", 3)
	v.SetDefault("resolve.hard_deadline", 120*time.Second)
	v.SetDefault("resolve.retry_backoff", 1100*time.Millisecond)
	v.SetDefault("run.delay", 2*time.Second)
	v.SetDefault("output.path", "update_native_system_ids.sql")
	v.SetDefault("output.table", "ref.Faction")
	v.SetDefault("output.key_column", "FactionName")
	v.SetDefault("output.id_column", "NativeSystemID")
	v.SetDefault("output.flag_column", "IsPlayer")

	return v
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	return LoadFrom(New())
}

// LoadFrom reads configuration through an already prepared viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
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

// WithDefaults replaces defaults on an already loaded viper instance, for
// example with a site's pacing, and decodes the configuration again. Values
// from flags, env and the config file keep precedence.
func WithDefaults(v *viper.Viper, defaults map[string]any) (*Config, error) {
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
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

// Validate checks that the settings a resolve pass depends on are usable.
func (c *Config) Validate() error {
	var errs []string

	if c.Reference.DSN == "" {
		errs = append(errs, "reference.dsn is required")
	}
	if c.Reference.Table == "" || c.Reference.IDColumn == "" || c.Reference.NameColumn == "" {
		errs = append(errs, "reference.table, reference.id_column and reference.name_column are required")
	}
	if c.Lookup.Source == "" && c.Lookup.SourceFile == "" {
		errs = append(errs, "lookup.source or lookup.source_file is required")
	}
	if c.Lookup.SearchTimeout <= 0 || c.Lookup.DetailsTimeout <= 0 {
		errs = append(errs, "lookup.search_timeout and lookup.details_timeout must be > 0")
	}
	if c.Lookup.SearchRetries < 0 {
		errs = append(errs, "lookup.search_retries must be >= 0")
	}
	if c.Resolve.MaxRetries < 1 {
		errs = append(errs, "resolve.max_retries must be >= 1")
	}
	if c.Resolve.HardDeadline <= 0 {
		errs = append(errs, "resolve.hard_deadline must be > 0")
	}
	if c.Run.Delay < 0 {
		errs = append(errs, "run.delay must be >= 0")
	}
	if c.Output.Path == "" {
		errs = append(errs, "output.path is required")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
