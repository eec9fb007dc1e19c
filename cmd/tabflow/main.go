// Command tabflow fits the feature transform, trains the classifier and
// scores raw records with an exported model.
//
// Usage:
//
//	tabflow transform [flags]
//	tabflow train [flags]
//	tabflow run [flags]
//	tabflow predict [flags] PATTERN...
//
// Flag defaults come from TABFLOW_* environment variables and .env.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/crimson-sun/tabflow/internal/config"
	"github.com/crimson-sun/tabflow/internal/logging"
	"github.com/crimson-sun/tabflow/internal/metrics"
	"github.com/crimson-sun/tabflow/internal/model"
	"github.com/crimson-sun/tabflow/internal/output"
	"github.com/crimson-sun/tabflow/internal/output/file"
	"github.com/crimson-sun/tabflow/internal/output/multi"
	"github.com/crimson-sun/tabflow/internal/output/stdout"
	"github.com/crimson-sun/tabflow/internal/pipeline"
	"github.com/crimson-sun/tabflow/internal/serving"
	"github.com/crimson-sun/tabflow/internal/tfrecord"
	"github.com/crimson-sun/tabflow/internal/trainer"
)

const usage = `usage: tabflow <command> [flags]

commands:
  transform   fit the transform and materialize transformed splits
  train       train on transformed splits and export the serving model
  run         transform, then train
  predict     score raw TFRecord files with an exported model
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdoutW, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "tabflow: %v\n", err)
		return 1
	}

	cmd := &command{cfg: cfg, stdout: stdoutW}
	fs := cmd.flags(args[0], stderr)
	switch args[0] {
	case "transform", "train", "run":
	case "predict":
		cmd.predictFlags(fs)
	case "-h", "--help", "help":
		fmt.Fprint(stdoutW, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "tabflow: unknown command %q\n%s", args[0], usage)
		return 2
	}
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(stderr, "tabflow: logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()
	cmd.logger = logger

	switch args[0] {
	case "transform":
		err = cmd.transform(ctx)
	case "train":
		err = cmd.train(ctx, false)
	case "run":
		err = cmd.train(ctx, true)
	case "predict":
		err = cmd.predict(ctx, fs.Args())
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("interrupted")
			return 130
		}
		logger.Error("command failed", zap.String("command", args[0]), zap.Error(err))
		return 1
	}
	return 0
}

type command struct {
	cfg    *config.Config
	logger *zap.Logger
	stdout io.Writer

	// predict
	modelDir  string
	outFile   string
	verbosity string
	quiet     bool
	pretty    bool
	maxSize   int64
	batchSize int
}

// flags binds the shared flags onto cfg so flags override the environment.
func (c *command) flags(name string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&c.cfg.Data.Train, "train", c.cfg.Data.Train, "comma-separated patterns of raw train TFRecords")
	fs.StringVar(&c.cfg.Data.Eval, "eval", c.cfg.Data.Eval, "comma-separated patterns of raw eval TFRecords")
	fs.StringVar(&c.cfg.Data.WorkDir, "work-dir", c.cfg.Data.WorkDir, "directory for the transform artifact and transformed splits")
	fs.StringVar(&c.cfg.Data.ServingDir, "serving-dir", c.cfg.Data.ServingDir, "export directory")
	fs.IntVar(&c.cfg.Train.Steps, "train-steps", c.cfg.Train.Steps, "training batches")
	fs.IntVar(&c.cfg.Train.EvalSteps, "eval-steps", c.cfg.Train.EvalSteps, "evaluation batches, 0 to skip")
	fs.IntVar(&c.cfg.Train.BatchSize, "batch-size", c.cfg.Train.BatchSize, "records per batch")
	fs.Int64Var(&c.cfg.Train.Seed, "seed", c.cfg.Train.Seed, "weight init and shuffle seed")
	fs.StringVar(&c.cfg.Train.LabelKind, "label-kind", c.cfg.Train.LabelKind, "raw label encoding: bytes, int64 or float")
	fs.StringVar(&c.cfg.Metrics.File, "metrics-file", c.cfg.Metrics.File, "also write final metrics in Prometheus text format here")
	fs.StringVar(&c.cfg.Log.Level, "log-level", c.cfg.Log.Level, "debug, info, warn or error")
	fs.StringVar(&c.cfg.Log.Format, "log-format", c.cfg.Log.Format, "json or console")
	return fs
}

func (c *command) predictFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.modelDir, "model-dir", c.cfg.Data.ServingDir, "export to load")
	fs.StringVarP(&c.outFile, "output", "o", "", "also append predictions as NDJSON to this file")
	fs.StringVar(&c.verbosity, "verbosity", "standard", "minimal or standard")
	fs.BoolVarP(&c.quiet, "quiet", "q", false, "do not print predictions to stdout")
	fs.BoolVar(&c.pretty, "pretty", false, "indent stdout JSON")
	fs.Int64Var(&c.maxSize, "output-max-size", 0, "rotate the output file at this many bytes, 0 to disable")
	fs.IntVar(&c.batchSize, "predict-batch", 256, "records scored per call")
}

func (c *command) pipeline(m *metrics.Training) (*pipeline.Pipeline, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}
	kind, err := c.cfg.LabelKind()
	if err != nil {
		return nil, err
	}
	pc := pipeline.Config{
		TrainPatterns:   c.cfg.TrainPatterns(),
		EvalPatterns:    c.cfg.EvalPatterns(),
		WorkDir:         c.cfg.Data.WorkDir,
		ServingModelDir: c.cfg.Data.ServingDir,
		TrainSteps:      c.cfg.Train.Steps,
		EvalSteps:       c.cfg.Train.EvalSteps,
		BatchSize:       c.cfg.Train.BatchSize,
		LabelKind:       kind,
	}
	return pipeline.New(pc, c.logger,
		trainer.WithSeed(c.cfg.Train.Seed),
		trainer.WithMetrics(m),
	), nil
}

func (c *command) transform(ctx context.Context) error {
	p, err := c.pipeline(metrics.NewTraining())
	if err != nil {
		return err
	}
	_, err = p.Transform(ctx)
	return err
}

// train runs the trainer, after the transform when withTransform is set.
func (c *command) train(ctx context.Context, withTransform bool) error {
	m := metrics.NewTraining()
	p, err := c.pipeline(m)
	if err != nil {
		return err
	}
	var res *trainer.Result
	if withTransform {
		res, err = p.Run(ctx)
	} else {
		res, err = p.Train(ctx)
	}
	if err != nil {
		return err
	}
	if path := c.cfg.Metrics.File; path != "" {
		if err := m.WriteTextfile(path); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		c.logger.Info("metrics written", zap.String("path", path))
	}
	fmt.Fprintf(c.stdout, "export %s: steps=%d loss=%.4f auc=%.4f val_loss=%.4f val_auc=%.4f\n",
		res.Export.ID, res.Steps, res.Train.Loss, res.Train.AUC, res.Eval.Loss, res.Eval.AUC)
	return nil
}

func (c *command) predict(ctx context.Context, patterns []string) error {
	if len(patterns) == 0 {
		return errors.New("predict: no input patterns")
	}
	files, err := tfrecord.ResolvePatterns(patterns...)
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}
	mod, sm, err := serving.Load(c.modelDir)
	if err != nil {
		return err
	}
	c.logger.Info("model loaded", zap.String("dir", c.modelDir), zap.String("id", sm.ID))

	out, err := c.outputs()
	if err != nil {
		return err
	}
	defer out.Close()

	total := 0
	for _, path := range files {
		record := 0
		err := tfrecord.ForEachBatch(ctx, []string{path}, tfrecord.DetectCompression([]string{path}), c.batchSize, func(batch [][]byte) error {
			res, err := mod.Call(serving.DefaultSignature, batch)
			if err != nil {
				return fmt.Errorf("record %d: %w", record, err)
			}
			for _, row := range res[serving.OutputKey] {
				if err := out.Write(ctx, model.NewPrediction(path, record, row[0])); err != nil {
					return err
				}
				record++
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("predict: %s: %w", path, err)
		}
		total += record
	}
	c.logger.Info("predictions written", zap.Int("files", len(files)), zap.Int("records", total))
	return nil
}

func (c *command) outputs() (output.Output, error) {
	v := output.ParseVerbosity(c.verbosity)
	var outs []output.Output
	if !c.quiet {
		outs = append(outs, stdout.NewWriter(c.stdout, v, c.pretty))
	}
	if c.outFile != "" {
		f, err := file.New(c.outFile, v, file.WithMaxSize(c.maxSize))
		if err != nil {
			return nil, fmt.Errorf("predict: %w", err)
		}
		outs = append(outs, f)
	}
	return multi.New(outs...), nil
}
