package trainer

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/crimson-sun/tabflow/internal/dataset"
	"github.com/crimson-sun/tabflow/internal/logging"
	"github.com/crimson-sun/tabflow/internal/metrics"
)

const (
	tracerName      = "github.com/crimson-sun/tabflow/internal/trainer"
	defaultLogEvery = 100
)

type options struct {
	logger        *zap.Logger
	tracer        trace.TracerProvider
	metrics       *metrics.Training
	seed          int64
	shuffleBuffer int
	workers       int
	logEvery      int
}

// Option configures a training run.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = logging.OrNop(l) }
}

// WithTracerProvider sets the provider spans are started on. The global
// provider is used by default and when tp is nil.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp
	}
}

// WithMetrics records into m instead of a fresh collector set.
func WithMetrics(m *metrics.Training) Option {
	return func(o *options) { o.metrics = m }
}

// WithSeed seeds weight initialization and dataset shuffling.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// WithShuffleBuffer overrides the dataset shuffle buffer size.
func WithShuffleBuffer(n int) Option {
	return func(o *options) { o.shuffleBuffer = n }
}

// WithWorkers bounds the dataset parse workers.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithLogEvery sets how often, in steps, training progress is logged.
func WithLogEvery(n int) Option {
	return func(o *options) { o.logEvery = n }
}

func defaultOptions() options {
	return options{
		logger:        zap.NewNop(),
		tracer:        otel.GetTracerProvider(),
		shuffleBuffer: dataset.DefaultShuffleBuffer,
		workers:       4,
		logEvery:      defaultLogEvery,
	}
}
