// Package config holds process-wide configuration for avrokit.
//
// Configuration is resolved once at process entry (see cmd/avrokit) from an
// optional YAML file plus environment variables, and handed to the packages
// that need it. Library packages never read the environment themselves.
package config

import (
	"os"

	"github.com/zeebo/errs"
	"gopkg.in/yaml.v3"
)

var Error = errs.Class("config")

// S3 configures the Amazon S3 storage backend. Empty fields fall back to the
// ambient AWS environment (region, credential chain).
type S3 struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

// GCS configures the Google Cloud Storage backend.
type GCS struct {
	Endpoint             string `yaml:"endpoint"`
	AnonymousCredentials bool   `yaml:"anonymous_credentials"`
}

// HTTP configures read and write behavior for http/https URLs.
type HTTP struct {
	WriteMethod string `yaml:"write_method"`
	ContentType string `yaml:"content_type"`
	SpillToFile bool   `yaml:"spill_to_file"`
	ReadMethod  string `yaml:"read_method"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// Config is the root configuration document.
type Config struct {
	// ScratchDir is where staged object-store files and spilled HTTP write
	// bodies are placed. Defaults to the OS temp dir. The file sorter does
	// not use it: its spill files go under the OS temp dir.
	ScratchDir string `yaml:"scratch_dir"`

	S3   S3   `yaml:"s3"`
	GCS  GCS  `yaml:"gcs"`
	HTTP HTTP `yaml:"http"`

	// SortBatchSize is the default in-memory batch size for the file sorter.
	SortBatchSize int `yaml:"sort_batch_size"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		ScratchDir: os.TempDir(),
		HTTP: HTTP{
			WriteMethod: "POST",
			ReadMethod:  "GET",
			ContentType: "application/octet-stream",
			TimeoutSecs: 5,
		},
		SortBatchSize: 1000,
	}
}

// Load reads a YAML config file and overlays it on the defaults. A missing
// file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, Error.Wrap(err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, Error.Wrap(err)
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	if cfg.HTTP.WriteMethod == "" {
		cfg.HTTP.WriteMethod = "POST"
	}
	if cfg.HTTP.ReadMethod == "" {
		cfg.HTTP.ReadMethod = "GET"
	}
	if cfg.HTTP.ContentType == "" {
		cfg.HTTP.ContentType = "application/octet-stream"
	}
	if cfg.SortBatchSize <= 0 {
		cfg.SortBatchSize = 1000
	}
	return cfg, nil
}

// FromEnv overlays environment variables on cfg. Recognized variables mirror
// the original process contract: S3 settings come from the ambient AWS
// environment (handled by the SDK), GCS accepts an endpoint override and an
// anonymous-credentials flag.
func FromEnv(cfg Config) Config {
	if v := os.Getenv("GOOGLE_CLOUD_STORAGE_API_ENDPOINT"); v != "" {
		cfg.GCS.Endpoint = v
	}
	if os.Getenv("GOOGLE_CLOUD_STORAGE_USE_ANONYMOUS_CREDENTIALS") == "true" {
		cfg.GCS.AnonymousCredentials = true
	}
	if v := os.Getenv("AVROKIT_SCRATCH_DIR"); v != "" {
		cfg.ScratchDir = v
	}
	return cfg
}
