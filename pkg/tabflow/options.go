package tabflow

import (
	"go.uber.org/zap"

	"github.com/crimson-sun/tabflow/internal/logging"
)

const defaultModelDir = "serving_model"

type options struct {
	modelDir  string
	threshold float32
	logger    *zap.Logger
}

// Option configures a Predictor.
type Option func(*options)

// WithModelDir sets the export directory. Default: "serving_model".
func WithModelDir(dir string) Option {
	return func(o *options) {
		o.modelDir = dir
	}
}

// WithThreshold sets the probability above which a record is classed 1.
// Default: 0.5.
func WithThreshold(t float32) Option {
	return func(o *options) {
		o.threshold = t
	}
}

// WithLogger sets the logger. Default: no logging.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = logging.OrNop(l)
	}
}

func defaultOptions() options {
	return options{
		modelDir:  defaultModelDir,
		threshold: 0.5,
		logger:    zap.NewNop(),
	}
}
