// Package config loads runtime settings from featureline.yaml and
// FEATURELINE_* environment variables, with sensible defaults for a local
// run.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/terrafield-labs/featureline/internal/objectstore"
)

// Config carries every runtime setting for one pipeline invocation.
type Config struct {
	// InputDir holds the source CSV datasets.
	InputDir string
	// OutputDir receives committed artifacts, metadata and the audit log.
	OutputDir string
	// ArtifactFormat is csv or xlsx.
	ArtifactFormat string
	// PipelineFile optionally points at a pipeline document; empty means
	// the built-in versions.
	PipelineFile string
	// Workers bounds parallel version execution.
	Workers int
	// StepTimeout bounds each step; zero disables the bound.
	StepTimeout time.Duration
	// AuditMirrorDSN, when set, mirrors audit events into Postgres.
	AuditMirrorDSN string
	// ObjectStore, when enabled, publishes committed artifacts to an
	// S3-compatible bucket after the run.
	ObjectStore ObjectStoreConfig
}

type ObjectStoreConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

func (o ObjectStoreConfig) ClientConfig() objectstore.Config {
	return objectstore.Config{
		Endpoint:  o.Endpoint,
		AccessKey: o.AccessKey,
		SecretKey: o.SecretKey,
		Region:    o.Region,
		UseSSL:    o.UseSSL,
		Bucket:    o.Bucket,
		Prefix:    o.Prefix,
	}
}

func Default() Config {
	return Config{
		InputDir:       "data",
		OutputDir:      "output",
		ArtifactFormat: "csv",
		Workers:        2,
		StepTimeout:    2 * time.Minute,
	}
}

// Load reads featureline.yaml from the given directory (or the working
// directory when empty) and applies environment overrides. A missing file
// is not an error; defaults and environment carry the run.
func Load(dir string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("featureline")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	} else {
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("FEATURELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("input_dir", cfg.InputDir)
	v.SetDefault("output_dir", cfg.OutputDir)
	v.SetDefault("artifact_format", cfg.ArtifactFormat)
	v.SetDefault("workers", cfg.Workers)
	v.SetDefault("step_timeout", cfg.StepTimeout.String())
	v.SetDefault("objectstore.region", "us-east-1")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg.InputDir = v.GetString("input_dir")
	cfg.OutputDir = v.GetString("output_dir")
	cfg.ArtifactFormat = v.GetString("artifact_format")
	cfg.PipelineFile = v.GetString("pipeline_file")
	cfg.Workers = v.GetInt("workers")
	cfg.AuditMirrorDSN = v.GetString("audit_mirror_dsn")

	timeout, err := time.ParseDuration(v.GetString("step_timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid step_timeout: %w", err)
	}
	cfg.StepTimeout = timeout

	cfg.ObjectStore = ObjectStoreConfig{
		Enabled:   v.GetBool("objectstore.enabled"),
		Endpoint:  v.GetString("objectstore.endpoint"),
		AccessKey: v.GetString("objectstore.access_key"),
		SecretKey: v.GetString("objectstore.secret_key"),
		Region:    v.GetString("objectstore.region"),
		UseSSL:    v.GetBool("objectstore.use_ssl"),
		Bucket:    v.GetString("objectstore.bucket"),
		Prefix:    v.GetString("objectstore.prefix"),
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.InputDir) == "" {
		return fmt.Errorf("input_dir is required")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("output_dir is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.StepTimeout < 0 {
		return fmt.Errorf("step_timeout must not be negative")
	}
	if c.ObjectStore.Enabled {
		if err := c.ObjectStore.ClientConfig().Validate(); err != nil {
			return fmt.Errorf("objectstore: %w", err)
		}
	}
	return nil
}
