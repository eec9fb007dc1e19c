// Package pipeline runs the transform and trainer components in order:
// fit the transform, materialize transformed splits, train, export.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/crimson-sun/tabflow/internal/model"
	"github.com/crimson-sun/tabflow/internal/trainer"
	"github.com/crimson-sun/tabflow/internal/transform"
)

// Layout of the working directory.
const (
	TransformDir   = "transform"
	TransformedDir = "transformed"
	trainSplit     = "train"
	evalSplit      = "eval"
	splitFile      = "part-00000.gz"
)

// Config describes one pipeline run.
type Config struct {
	// TrainPatterns and EvalPatterns select raw TFRecord files.
	TrainPatterns []string
	EvalPatterns  []string
	// WorkDir receives the transform artifact and transformed splits.
	WorkDir         string
	ServingModelDir string
	TrainSteps      int
	EvalSteps       int
	BatchSize       int
	// LabelKind is the raw label encoding. Defaults to bytes ("yes"/"no").
	LabelKind model.Kind
}

// Pipeline connects the transform and trainer components.
type Pipeline struct {
	cfg         Config
	logger      *zap.Logger
	trainerOpts []trainer.Option
}

// New creates a Pipeline. trainerOpts are passed to every training run.
func New(cfg Config, logger *zap.Logger, trainerOpts ...trainer.Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:         cfg,
		logger:      logger,
		trainerOpts: append([]trainer.Option{trainer.WithLogger(logger)}, trainerOpts...),
	}
}

// TransformOutput returns the artifact directory.
func (p *Pipeline) TransformOutput() string { return filepath.Join(p.cfg.WorkDir, TransformDir) }

// TransformedFiles returns the pattern of a transformed split.
func (p *Pipeline) TransformedFiles(split string) string {
	return filepath.Join(p.cfg.WorkDir, TransformedDir, split, "*.gz")
}

// Transform fits the transform on the train split, saves the artifact and
// materializes transformed train and eval splits.
func (p *Pipeline) Transform(ctx context.Context) (*transform.Artifact, error) {
	opts := []transform.Option{transform.WithLogger(p.logger)}
	art, err := transform.Fit(ctx, p.cfg.TrainPatterns, transform.RawSchema(p.cfg.LabelKind), opts...)
	if err != nil {
		return nil, fmt.Errorf("pipeline transform: %w", err)
	}
	if err := art.Save(p.TransformOutput()); err != nil {
		return nil, fmt.Errorf("pipeline transform: %w", err)
	}

	splits := []struct {
		name     string
		patterns []string
	}{
		{trainSplit, p.cfg.TrainPatterns},
		{evalSplit, p.cfg.EvalPatterns},
	}
	for _, s := range splits {
		if len(s.patterns) == 0 {
			continue
		}
		out := filepath.Join(p.cfg.WorkDir, TransformedDir, s.name, splitFile)
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return nil, fmt.Errorf("pipeline transform: %w", err)
		}
		n, err := transform.Materialize(ctx, art, s.patterns, out, opts...)
		if err != nil {
			return nil, fmt.Errorf("pipeline transform %s: %w", s.name, err)
		}
		p.logger.Info("split materialized", zap.String("split", s.name), zap.Int("records", n))
	}
	return art, nil
}

// Train runs the trainer on the materialized splits.
func (p *Pipeline) Train(ctx context.Context) (*trainer.Result, error) {
	args := trainer.FnArgs{
		TrainFiles:      []string{p.TransformedFiles(trainSplit)},
		TransformOutput: p.TransformOutput(),
		ServingModelDir: p.cfg.ServingModelDir,
		TrainSteps:      p.cfg.TrainSteps,
		EvalSteps:       p.cfg.EvalSteps,
		BatchSize:       p.cfg.BatchSize,
	}
	if len(p.cfg.EvalPatterns) > 0 {
		args.EvalFiles = []string{p.TransformedFiles(evalSplit)}
	} else {
		args.EvalSteps = 0
	}
	res, err := trainer.Run(ctx, args, p.trainerOpts...)
	if err != nil {
		return nil, fmt.Errorf("pipeline train: %w", err)
	}
	return res, nil
}

// Run executes Transform then Train.
func (p *Pipeline) Run(ctx context.Context) (*trainer.Result, error) {
	if _, err := p.Transform(ctx); err != nil {
		return nil, err
	}
	return p.Train(ctx)
}
