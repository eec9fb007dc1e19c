// Package trainer trains the classifier on transformed records and exports
// it together with the transform behind a serving signature.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/crimson-sun/tabflow/internal/dataset"
	"github.com/crimson-sun/tabflow/internal/metrics"
	"github.com/crimson-sun/tabflow/internal/nn"
	"github.com/crimson-sun/tabflow/internal/serving"
	"github.com/crimson-sun/tabflow/internal/tfrecord"
	"github.com/crimson-sun/tabflow/internal/transform"
)

// ErrInvalidArgs is returned for FnArgs that cannot describe a run.
var ErrInvalidArgs = errors.New("trainer: invalid arguments")

// FnArgs are the inputs of one training run.
type FnArgs struct {
	// TrainFiles and EvalFiles are glob patterns or literal paths of
	// transformed TFRecord files.
	TrainFiles []string
	EvalFiles  []string
	// TransformOutput is the directory of the fitted transform artifact.
	TransformOutput string
	// ServingModelDir receives the export.
	ServingModelDir string
	TrainSteps      int
	EvalSteps       int
	// BatchSize defaults to 128.
	BatchSize int
}

func (a FnArgs) validate() error {
	switch {
	case len(a.TrainFiles) == 0:
		return fmt.Errorf("%w: no train files", ErrInvalidArgs)
	case a.EvalSteps > 0 && len(a.EvalFiles) == 0:
		return fmt.Errorf("%w: no eval files", ErrInvalidArgs)
	case a.TransformOutput == "":
		return fmt.Errorf("%w: no transform output", ErrInvalidArgs)
	case a.ServingModelDir == "":
		return fmt.Errorf("%w: no serving model dir", ErrInvalidArgs)
	case a.TrainSteps <= 0:
		return fmt.Errorf("%w: train steps must be positive, got %d", ErrInvalidArgs, a.TrainSteps)
	case a.EvalSteps < 0:
		return fmt.Errorf("%w: eval steps must not be negative, got %d", ErrInvalidArgs, a.EvalSteps)
	}
	return nil
}

// Result summarizes a finished run.
type Result struct {
	FeatureKeys []string
	Train       nn.Result
	Eval        nn.Result
	Steps       int
	Export      *serving.SavedModel
}

// Run loads the transform, builds the model and datasets, fits for
// TrainSteps batches, evaluates on EvalSteps batches and exports the serving
// module to ServingModelDir. File sets that match nothing fail before any
// training step.
func Run(ctx context.Context, args FnArgs, opts ...Option) (res *Result, err error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewTraining()
	}
	if args.BatchSize <= 0 {
		args.BatchSize = dataset.DefaultBatchSize
	}
	log := o.logger.With(zap.String("component", "trainer"))
	tracer := o.tracer.Tracer(tracerName)

	ctx, span := tracer.Start(ctx, "trainer.Run", trace.WithAttributes(
		attribute.Int("train_steps", args.TrainSteps),
		attribute.Int("eval_steps", args.EvalSteps),
		attribute.Int("batch_size", args.BatchSize),
	))
	defer func() { endSpan(span, err) }()

	if err := args.validate(); err != nil {
		return nil, err
	}

	// Resolve both file sets up front so a bad pattern fails the run before
	// any weights are touched.
	if _, err := tfrecord.ResolvePatterns(args.TrainFiles...); err != nil {
		return nil, fmt.Errorf("trainer: train files: %w", err)
	}
	if args.EvalSteps > 0 {
		if _, err := tfrecord.ResolvePatterns(args.EvalFiles...); err != nil {
			return nil, fmt.Errorf("trainer: eval files: %w", err)
		}
	}

	var art *transform.Artifact
	err = stage(ctx, tracer, "trainer.load_transform", func(context.Context) error {
		var err error
		art, err = transform.LoadArtifact(args.TransformOutput)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}
	keys := art.FeatureKeys()
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: transform has no features", ErrInvalidArgs)
	}

	net := nn.New(keys, o.seed)
	log.Info("model built",
		zap.Int("inputs", len(keys)),
		zap.Ints("hidden", nn.DefaultHidden),
	)

	var trainDS, evalDS *dataset.Dataset
	err = stage(ctx, tracer, "trainer.build_datasets", func(ctx context.Context) error {
		var err error
		trainDS, err = newDataset(ctx, args.TrainFiles, art, keys, args.BatchSize, o, o.seed)
		if err != nil {
			return fmt.Errorf("train files: %w", err)
		}
		if args.EvalSteps > 0 {
			evalDS, err = newDataset(ctx, args.EvalFiles, art, keys, args.BatchSize, o, o.seed+1)
			if err != nil {
				trainDS.Close()
				return fmt.Errorf("eval files: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}
	defer trainDS.Close()
	if evalDS != nil {
		defer evalDS.Close()
	}

	res = &Result{FeatureKeys: keys}
	err = stage(ctx, tracer, "trainer.fit", func(ctx context.Context) error {
		var err error
		res.Train, err = fit(ctx, net, trainDS, args.TrainSteps, o, log)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("trainer: fit: %w", err)
	}
	res.Steps = net.Steps()

	if evalDS != nil {
		err = stage(ctx, tracer, "trainer.evaluate", func(ctx context.Context) error {
			var err error
			res.Eval, err = evaluate(ctx, net, evalDS, args.EvalSteps, o)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("trainer: evaluate: %w", err)
		}
	}
	log.Info("training complete",
		zap.Int("steps", res.Steps),
		zap.Float64("loss", res.Train.Loss),
		zap.Float64("accuracy", res.Train.Accuracy),
		zap.Float64("auc", res.Train.AUC),
		zap.Float64("val_loss", res.Eval.Loss),
		zap.Float64("val_accuracy", res.Eval.Accuracy),
		zap.Float64("val_auc", res.Eval.AUC),
	)

	err = stage(ctx, tracer, "trainer.export", func(context.Context) error {
		mod, err := serving.NewModule(art, net)
		if err != nil {
			return err
		}
		res.Export, err = mod.Export(args.ServingModelDir, o.metrics)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}
	log.Info("model exported",
		zap.String("dir", args.ServingModelDir),
		zap.String("id", res.Export.ID),
	)
	return res, nil
}

func newDataset(ctx context.Context, patterns []string, art *transform.Artifact, keys []string, batch int, o options, seed int64) (*dataset.Dataset, error) {
	return dataset.New(ctx, patterns, art.TransformedFeatureSpec(), keys, transform.LabelKey,
		dataset.WithBatchSize(batch),
		dataset.WithShuffle(o.shuffleBuffer),
		dataset.WithRepeat(true),
		dataset.WithSeed(seed),
		dataset.WithWorkers(o.workers),
		dataset.WithLogger(o.logger),
	)
}

func fit(ctx context.Context, net *nn.Model, ds *dataset.Dataset, steps int, o options, log *zap.Logger) (nn.Result, error) {
	var tr nn.Tracker
	for step := 1; step <= steps; step++ {
		b, err := ds.Next(ctx)
		if err != nil {
			return nn.Result{}, fmt.Errorf("step %d: %w", step, err)
		}
		start := time.Now()
		_, probs, err := net.TrainStep(b.Features, b.Labels)
		if err != nil {
			return nn.Result{}, fmt.Errorf("step %d: %w", step, err)
		}
		o.metrics.StepTime.Observe(time.Since(start).Seconds())
		o.metrics.Steps.WithLabelValues(metrics.Train).Inc()
		o.metrics.Records.WithLabelValues(metrics.Train).Add(float64(b.Rows()))
		tr.Add(b.Labels, probs)

		if o.logEvery > 0 && step%o.logEvery == 0 {
			r := tr.Result()
			log.Debug("training progress",
				zap.Int("step", step),
				zap.Float64("loss", r.Loss),
				zap.Float64("accuracy", r.Accuracy),
			)
		}
	}
	r := tr.Result()
	o.metrics.Observe(metrics.Train, r.Loss, r.Accuracy, r.AUC)
	return r, nil
}

func evaluate(ctx context.Context, net *nn.Model, ds *dataset.Dataset, steps int, o options) (nn.Result, error) {
	var tr nn.Tracker
	for step := 1; step <= steps; step++ {
		b, err := ds.Next(ctx)
		if err != nil {
			return nn.Result{}, fmt.Errorf("step %d: %w", step, err)
		}
		probs, err := net.Predict(b.Features)
		if err != nil {
			return nn.Result{}, fmt.Errorf("step %d: %w", step, err)
		}
		o.metrics.Steps.WithLabelValues(metrics.Eval).Inc()
		o.metrics.Records.WithLabelValues(metrics.Eval).Add(float64(b.Rows()))
		tr.Add(b.Labels, probs)
	}
	r := tr.Result()
	o.metrics.Observe(metrics.Eval, r.Loss, r.Accuracy, r.AUC)
	return r, nil
}

// stage runs fn inside a child span.
func stage(ctx context.Context, tracer trace.Tracer, name string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, name)
	err := fn(ctx)
	endSpan(span, err)
	return err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
