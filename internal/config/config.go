// Package config loads tabflow settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/crimson-sun/tabflow/internal/model"
)

// EnvPrefix prefixes every environment variable, e.g. TABFLOW_TRAIN_STEPS.
const EnvPrefix = "TABFLOW"

// Config holds all tabflow configuration.
type Config struct {
	Data    DataConfig    `mapstructure:"data"`
	Train   TrainConfig   `mapstructure:"train"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// DataConfig locates inputs and outputs.
type DataConfig struct {
	// Train and Eval are comma-separated glob patterns of raw TFRecords.
	Train      string `mapstructure:"train"`
	Eval       string `mapstructure:"eval"`
	WorkDir    string `mapstructure:"work_dir"`
	ServingDir string `mapstructure:"serving_dir"`
}

// TrainConfig holds trainer settings.
type TrainConfig struct {
	Steps     int    `mapstructure:"steps"`
	EvalSteps int    `mapstructure:"eval_steps"`
	BatchSize int    `mapstructure:"batch_size"`
	Seed      int64  `mapstructure:"seed"`
	LabelKind string `mapstructure:"label_kind"` // "bytes", "int64" or "float"
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	// File, when set, also receives the final training metrics.
	File string `mapstructure:"file"`
}

var defaults = map[string]any{
	"data.train":       "data/train/*.gz",
	"data.eval":        "data/eval/*.gz",
	"data.work_dir":    "work",
	"data.serving_dir": "serving_model",
	"train.steps":      1000,
	"train.eval_steps": 100,
	"train.batch_size": 128,
	"train.seed":       0,
	"train.label_kind": "bytes",
	"log.level":        "info",
	"log.format":       "console",
	"metrics.file":     "",
}

// Load reads configuration from the environment with defaults. Variables in
// envFiles (".env" when none are given) are loaded first when the files
// exist; variables already set in the process win.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, path := range envFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the config for invalid values.
func (c Config) Validate() error {
	var errs []error
	if c.Train.Steps <= 0 {
		errs = append(errs, fmt.Errorf("train steps must be positive, got %d", c.Train.Steps))
	}
	if c.Train.EvalSteps < 0 {
		errs = append(errs, fmt.Errorf("eval steps must not be negative, got %d", c.Train.EvalSteps))
	}
	if c.Train.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch size must be positive, got %d", c.Train.BatchSize))
	}
	if _, err := c.LabelKind(); err != nil {
		errs = append(errs, fmt.Errorf("label kind: %w", err))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log format must be json or console, got %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// LabelKind parses Train.LabelKind.
func (c Config) LabelKind() (model.Kind, error) {
	return model.ParseKind(c.Train.LabelKind)
}

// TrainPatterns splits Data.Train.
func (c Config) TrainPatterns() []string { return SplitPatterns(c.Data.Train) }

// EvalPatterns splits Data.Eval.
func (c Config) EvalPatterns() []string { return SplitPatterns(c.Data.Eval) }

// SplitPatterns splits a comma-separated pattern list, dropping blanks.
func SplitPatterns(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
