package transform

import "go.uber.org/zap"

const defaultBatchSize = 1024

type options struct {
	topK      int
	batchSize int
	logger    *zap.Logger
}

// Option configures fitting and materialization.
type Option func(*options)

// WithTopK overrides the vocabulary size bound. Default: TopK.
func WithTopK(k int) Option {
	return func(o *options) { o.topK = k }
}

// WithBatchSize sets how many records are decoded per analysis step.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func defaultOptions() options {
	return options{
		topK:      TopK,
		batchSize: defaultBatchSize,
	}
}
