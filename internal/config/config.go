package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dshills/sheetload/internal/events"
	"github.com/dshills/sheetload/internal/fingerprint"
	"github.com/dshills/sheetload/internal/objectstore"
	"github.com/dshills/sheetload/internal/serializer"
	"github.com/dshills/sheetload/pkg/types"
)

// EnvPrefix is prepended to every environment override, e.g. SHEETLOAD_WAREHOUSE_DSN
const EnvPrefix = "SHEETLOAD"

// Registry drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the effective ingestion configuration
type Config struct {
	InputDirectory    string       `mapstructure:"input_directory" yaml:"input_directory"`
	FilePattern       string       `mapstructure:"file_pattern" yaml:"file_pattern"`
	IgnorePatterns    []string     `mapstructure:"ignore_patterns" yaml:"ignore_patterns"`
	SheetName         string       `mapstructure:"sheet_name" yaml:"sheet_name"`
	Schema            types.Schema `mapstructure:"schema" yaml:"schema"`
	OutputFormat      string       `mapstructure:"output_format" yaml:"output_format"`
	ChecksumAlgorithm string       `mapstructure:"checksum_algorithm" yaml:"checksum_algorithm"`
	DryRun            bool         `mapstructure:"dry_run" yaml:"dry_run"`
	KeepArtifacts     bool         `mapstructure:"keep_artifacts" yaml:"keep_artifacts"`
	TempDirectory     string       `mapstructure:"temp_directory" yaml:"temp_directory"`
	LogLevel          string       `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string       `mapstructure:"log_format" yaml:"log_format"`
	Schedule          string       `mapstructure:"schedule" yaml:"schedule,omitempty"`

	Registry    RegistryConfig    `mapstructure:"registry" yaml:"registry"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store" yaml:"object_store"`
	Warehouse   WarehouseConfig   `mapstructure:"warehouse" yaml:"warehouse"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry" yaml:"telemetry"`
}

// RegistryConfig selects the durable registry backend
type RegistryConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"` // File path for sqlite, URL for postgres
}

// ObjectStoreConfig configures artifact uploads
type ObjectStoreConfig struct {
	Backend       string        `mapstructure:"backend" yaml:"backend"`
	Bucket        string        `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Prefix        string        `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Region        string        `mapstructure:"region" yaml:"region,omitempty"`
	Profile       string        `mapstructure:"profile" yaml:"profile,omitempty"`
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	UsePathStyle  bool          `mapstructure:"use_path_style" yaml:"use_path_style"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout" yaml:"upload_timeout"`
	PartSizeMB    int64         `mapstructure:"part_size_mb" yaml:"part_size_mb"`
	LocalRoot     string        `mapstructure:"local_root" yaml:"local_root,omitempty"`
}

// WarehouseConfig identifies the destination table
type WarehouseConfig struct {
	DSN            string        `mapstructure:"dsn" yaml:"dsn"`
	Schema         string        `mapstructure:"schema" yaml:"schema,omitempty"`
	Table          string        `mapstructure:"table" yaml:"table"`
	IAMRole        string        `mapstructure:"iam_role" yaml:"iam_role,omitempty"`
	Region         string        `mapstructure:"region" yaml:"region,omitempty"`
	LoadTimeout    time.Duration `mapstructure:"load_timeout" yaml:"load_timeout"`
	ConnectRetries int           `mapstructure:"connect_retries" yaml:"connect_retries"`
}

// TelemetryConfig controls trace export. Enabled without an endpoint writes
// spans to stderr.
type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

// flagKeys maps command-line flag names to configuration keys
var flagKeys = map[string]string{
	"input-dir":  "input_directory",
	"pattern":    "file_pattern",
	"sheet":      "sheet_name",
	"format":     "output_format",
	"checksum":   "checksum_algorithm",
	"dry-run":    "dry_run",
	"keep":       "keep_artifacts",
	"temp-dir":   "temp_directory",
	"log-level":  "log_level",
	"log-format": "log_format",
	"schedule":   "schedule",
}

// Options controls where Load looks for settings
type Options struct {
	ConfigFile string         // YAML file; empty means defaults and environment only
	EnvFile    string         // dotenv file; a missing file is ignored
	Flags      *pflag.FlagSet // Changed flags override every other source
}

// Load resolves configuration from defaults, the YAML file, the environment
// and flags, in increasing precedence, then validates it.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
		}
	}

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input_directory", "")
	v.SetDefault("file_pattern", "**/*.xlsx")
	v.SetDefault("ignore_patterns", []string{"~$*", ".~*", "*.tmp", "*.temp"})
	v.SetDefault("sheet_name", "0")
	v.SetDefault("output_format", string(serializer.FormatParquet))
	v.SetDefault("checksum_algorithm", fingerprint.AlgorithmSHA256)
	v.SetDefault("dry_run", false)
	v.SetDefault("keep_artifacts", false)
	v.SetDefault("temp_directory", filepath.Join(os.TempDir(), "sheetload"))
	v.SetDefault("log_level", "INFO")
	v.SetDefault("log_format", events.FormatJSON)
	v.SetDefault("schedule", "")

	v.SetDefault("registry.driver", DriverSQLite)
	v.SetDefault("registry.dsn", "sheetload.db")

	v.SetDefault("object_store.backend", objectstore.BackendS3)
	v.SetDefault("object_store.bucket", "")
	v.SetDefault("object_store.prefix", "")
	v.SetDefault("object_store.region", "")
	v.SetDefault("object_store.profile", "")
	v.SetDefault("object_store.endpoint", "")
	v.SetDefault("object_store.use_path_style", false)
	v.SetDefault("object_store.upload_timeout", objectstore.DefaultUploadTimeout)
	v.SetDefault("object_store.part_size_mb", objectstore.DefaultPartSizeMB)
	v.SetDefault("object_store.local_root", "")

	v.SetDefault("warehouse.dsn", "")
	v.SetDefault("warehouse.schema", "")
	v.SetDefault("warehouse.table", "")
	v.SetDefault("warehouse.iam_role", "")
	v.SetDefault("warehouse.region", "")
	v.SetDefault("warehouse.load_timeout", 30*time.Minute)
	v.SetDefault("warehouse.connect_retries", 5)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "")
}

// Validate reports every problem found, wrapped in ErrInvalidConfig
func (c *Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.InputDirectory) == "" {
		add("input_directory is required")
	}
	if !doublestar.ValidatePattern(c.FilePattern) {
		add("file_pattern %q is not a valid glob", c.FilePattern)
	}
	for _, p := range c.IgnorePatterns {
		if !doublestar.ValidatePattern(p) {
			add("ignore pattern %q is not a valid glob", p)
		}
	}
	if err := c.Schema.Validate(); err != nil {
		problems = append(problems, err)
	}
	if _, err := serializer.ParseFormat(c.OutputFormat); err != nil {
		problems = append(problems, err)
	}
	if _, err := fingerprint.New(c.ChecksumAlgorithm); err != nil {
		problems = append(problems, err)
	}
	if _, err := events.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", events.FormatJSON, events.FormatText:
	default:
		add("unknown log_format %q", c.LogFormat)
	}

	switch c.Registry.Driver {
	case DriverSQLite, DriverPostgres:
		if c.Registry.DSN == "" {
			add("registry.dsn is required")
		}
	default:
		add("unknown registry.driver %q", c.Registry.Driver)
	}

	switch c.ObjectStore.Backend {
	case objectstore.BackendS3:
		if c.ObjectStore.Bucket == "" {
			add("object_store.bucket is required for the s3 backend")
		}
	case objectstore.BackendLocal:
		if c.ObjectStore.LocalRoot == "" {
			add("object_store.local_root is required for the local backend")
		}
		// COPY only reads from S3
		if !c.DryRun {
			add("object_store.backend local cannot feed the warehouse; use s3 or set dry_run")
		}
	default:
		add("%w: %q", objectstore.ErrUnsupportedBackend, c.ObjectStore.Backend)
	}

	if c.Warehouse.DSN == "" {
		add("warehouse.dsn is required")
	}
	if c.Warehouse.Table == "" {
		add("warehouse.table is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))
	}
	return nil
}

// YAML renders the configuration with connection strings redacted
func (c *Config) YAML() ([]byte, error) {
	out := *c
	if out.Warehouse.DSN != "" {
		out.Warehouse.DSN = redacted
	}
	if out.Registry.Driver == DriverPostgres && out.Registry.DSN != "" {
		out.Registry.DSN = redacted
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to render configuration: %w", err)
	}
	return data, nil
}

const redacted = "[REDACTED]"
