// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Defaults live in New; Load layers a YAML file and SEGMENT_* env vars on top.
// - Validation is declarative through `validate` struct tags.
package config

import (
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`
	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr" validate:"required"`
	// RequestTimeoutMS bounds one HTTP request end to end.
	RequestTimeoutMS int `koanf:"request_timeout_ms" validate:"min=1"`

	// Clusters is k, the number of segments.
	Clusters int `koanf:"clusters" validate:"min=1,max=64"`
	// RandomSeed seeds k-means initialisation.
	RandomSeed int64 `koanf:"random_seed"`
	// MaxIter caps Lloyd iterations per k-means run.
	MaxIter int `koanf:"max_iter" validate:"min=1"`
	// NInit is the number of k-means restarts; the lowest inertia wins.
	NInit int `koanf:"n_init" validate:"min=1"`
	// AgeCap and IncomeCap drop training outliers (age >= cap, income >= cap).
	AgeCap    int     `koanf:"age_cap" validate:"min=1"`
	IncomeCap float64 `koanf:"income_cap" validate:"gt=0"`
	// AsOfYear is the reference year for age; 0 means the current year.
	AsOfYear int `koanf:"as_of_year" validate:"min=0"`

	// ArtifactBackend selects the artifact store: file or badger.
	ArtifactBackend string `koanf:"artifact_backend" validate:"oneof=file badger"`
	// ArtifactDir is the directory holding artifact files or the badger database.
	ArtifactDir string `koanf:"artifact_dir" validate:"required"`
	// ArtifactName names the model inside the store. The store reserves path
	// separators, colons and the "_v" version marker.
	ArtifactName string `koanf:"artifact_name" validate:"required,excludesall=/\\:,excludes=_v"`
	// KeepVersions is how many artifact versions survive pruning.
	KeepVersions int `koanf:"keep_versions" validate:"min=1"`

	// DatasetPath points to the tab-separated training file.
	DatasetPath string `koanf:"dataset_path"`
	// TestSize is the held-out fraction used to report test-split segments.
	TestSize float64 `koanf:"test_size" validate:"gte=0,lt=1"`

	// WorkerCount sets the number of assignment workers.
	WorkerCount int `koanf:"worker_count" validate:"min=1"`
	// QueueSize bounds the in-memory batch queue.
	QueueSize int `koanf:"queue_size" validate:"min=1"`
	// BatchSize is the number of rows per assignment batch.
	BatchSize int `koanf:"batch_size" validate:"min=1"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		RequestTimeoutMS: 10_000,
		Clusters:         4,
		RandomSeed:       42,
		MaxIter:          300,
		NInit:            10,
		AgeCap:           90,
		IncomeCap:        600_000,
		AsOfYear:         0,
		ArtifactBackend:  "file",
		ArtifactDir:      "models",
		ArtifactName:     "custseg",
		KeepVersions:     5,
		TestSize:         0.10,
		WorkerCount:      runtime.NumCPU(),
		QueueSize:        1024,
		BatchSize:        256,
	}
}

// RequestTimeout returns RequestTimeoutMS as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// ResolvedAsOfYear returns AsOfYear, or the year of now when unset.
func (c *Config) ResolvedAsOfYear(now time.Time) int {
	if c.AsOfYear > 0 {
		return c.AsOfYear
	}
	return now.Year()
}
