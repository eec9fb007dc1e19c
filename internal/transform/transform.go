package transform

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/crimson-sun/tabflow/internal/example"
	"github.com/crimson-sun/tabflow/internal/logging"
	"github.com/crimson-sun/tabflow/internal/model"
	"github.com/crimson-sun/tabflow/internal/tfrecord"
)

// Fit runs the analysis pass over every raw record matched by patterns and
// returns the fitted artifact.
func Fit(ctx context.Context, patterns []string, raw model.Schema, opts ...Option) (*Artifact, error) {
	if err := raw.Validate(); err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrNop(o.logger)

	files, err := tfrecord.ResolvePatterns(patterns...)
	if err != nil {
		return nil, err
	}
	comp := tfrecord.DetectCompression(files)
	logger.Info("analyzing raw records",
		zap.Int("files", len(files)),
		zap.String("compression", comp.String()))

	an := NewAnalyzer(raw, opts...)
	err = tfrecord.ForEachBatch(ctx, files, comp, o.batchSize, func(batch [][]byte) error {
		cols, err := example.ParseBatch(batch, raw)
		if err != nil {
			return fmt.Errorf("transform: analyze: %w", err)
		}
		if err := an.Update(cols); err != nil {
			return fmt.Errorf("transform: analyze: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	art := an.Finalize()
	logger.Info("transform fitted",
		zap.Int64("rows", art.NumRows),
		zap.Int("numeric", len(art.Moments)),
		zap.Int("categorical", len(art.Vocabularies)))
	return art, nil
}

// Materialize transforms every raw record matched by patterns and writes the
// results as tf.Examples to out. The output is gzip-compressed when out ends
// in .gz. It returns the number of records written.
func Materialize(ctx context.Context, art *Artifact, patterns []string, out string, opts ...Option) (int, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrNop(o.logger)

	files, err := tfrecord.ResolvePatterns(patterns...)
	if err != nil {
		return 0, err
	}

	outComp := tfrecord.None
	if strings.HasSuffix(out, ".gz") {
		outComp = tfrecord.Gzip
	}
	w, err := tfrecord.Create(out, outComp)
	if err != nil {
		return 0, err
	}

	n := 0
	err = tfrecord.ForEachBatch(ctx, files, tfrecord.DetectCompression(files), o.batchSize, func(batch [][]byte) error {
		cols, err := example.ParseBatch(batch, art.RawSchema)
		if err != nil {
			return fmt.Errorf("transform: materialize: %w", err)
		}
		transformed, err := Preprocess(cols, art)
		if err != nil {
			return err
		}
		for _, ex := range transformed.Examples() {
			if err := w.Write(example.Marshal(ex)); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		w.Close()
		return n, err
	}
	if err := w.Close(); err != nil {
		return n, err
	}
	logger.Info("transformed records written", zap.String("path", out), zap.Int("records", n))
	return n, nil
}
