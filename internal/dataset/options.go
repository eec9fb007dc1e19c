package dataset

import (
	"go.uber.org/zap"

	"github.com/crimson-sun/tabflow/internal/logging"
)

// Defaults match the training input pipeline: shuffle(10000).repeat().batch(128).
const (
	DefaultBatchSize     = 128
	DefaultShuffleBuffer = 10000
	defaultPrefetch      = 2
	defaultWorkers       = 4
)

type options struct {
	batchSize     int
	shuffleBuffer int
	repeat        bool
	seed          int64
	workers       int
	prefetch      int
	logger        *zap.Logger
}

// Option configures a Dataset.
type Option func(*options)

// WithBatchSize sets the number of rows per batch.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithShuffle sets the shuffle buffer size. Sizes below 2 disable shuffling.
func WithShuffle(buffer int) Option {
	return func(o *options) { o.shuffleBuffer = buffer }
}

// WithRepeat makes the dataset cycle over its files indefinitely.
func WithRepeat(repeat bool) Option {
	return func(o *options) { o.repeat = repeat }
}

// WithSeed sets the shuffle seed.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// WithWorkers bounds the number of concurrent parse goroutines.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithPrefetch sets how many ready batches are buffered ahead of the consumer.
func WithPrefetch(n int) Option {
	return func(o *options) { o.prefetch = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = logging.OrNop(l) }
}

func defaultOptions() options {
	return options{
		batchSize:     DefaultBatchSize,
		shuffleBuffer: DefaultShuffleBuffer,
		repeat:        true,
		workers:       defaultWorkers,
		prefetch:      defaultPrefetch,
		logger:        zap.NewNop(),
	}
}
