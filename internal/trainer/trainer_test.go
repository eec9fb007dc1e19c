package trainer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/crimson-sun/tabflow/internal/metrics"
	"github.com/crimson-sun/tabflow/internal/serving"
	"github.com/crimson-sun/tabflow/internal/testdata"
	"github.com/crimson-sun/tabflow/internal/tfrecord"
	"github.com/crimson-sun/tabflow/internal/transform"
)

type fixture struct {
	root      string
	transform string
	train     string
	eval      string
}

// prepare fits a transform on n synthetic records and materializes
// transformed train and eval splits.
func prepare(t *testing.T, n int, seed int64) fixture {
	t.Helper()
	root := t.TempDir()
	raw := filepath.Join(root, "raw", "train.gz")
	require.NoError(t, os.MkdirAll(filepath.Dir(raw), 0o755))
	require.NoError(t, testdata.WriteTFRecord(raw, testdata.BankRecords(n, seed)))
	rawEval := filepath.Join(root, "raw", "eval.gz")
	require.NoError(t, testdata.WriteTFRecord(rawEval, testdata.BankRecords(n/4+1, seed+100)))

	ctx := context.Background()
	art, err := transform.Fit(ctx, []string{raw}, transform.DefaultRawSchema())
	require.NoError(t, err)
	f := fixture{
		root:      root,
		transform: filepath.Join(root, "transform"),
		train:     filepath.Join(root, "transformed", "train", "part-00000.gz"),
		eval:      filepath.Join(root, "transformed", "eval", "part-00000.gz"),
	}
	require.NoError(t, art.Save(f.transform))
	for src, dst := range map[string]string{raw: f.train, rawEval: f.eval} {
		require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
		_, err := transform.Materialize(ctx, art, []string{src}, dst)
		require.NoError(t, err)
	}
	return f
}

func (f fixture) args(trainSteps, evalSteps int) FnArgs {
	return FnArgs{
		TrainFiles:      []string{filepath.Join(filepath.Dir(f.train), "*.gz")},
		EvalFiles:       []string{filepath.Join(filepath.Dir(f.eval), "*.gz")},
		TransformOutput: f.transform,
		ServingModelDir: filepath.Join(f.root, "serving_model"),
		TrainSteps:      trainSteps,
		EvalSteps:       evalSteps,
		BatchSize:       32,
	}
}

func TestRunEndToEnd(t *testing.T) {
	f := prepare(t, 100, 1)
	args := f.args(20, 2)

	res, err := Run(context.Background(), args, WithLogger(zaptest.NewLogger(t)), WithSeed(3))
	require.NoError(t, err)
	assert.Equal(t, 20, res.Steps)
	assert.Len(t, res.FeatureKeys, 20)
	assert.Equal(t, 64, res.Eval.Examples)

	mod, sm, err := serving.Load(args.ServingModelDir)
	require.NoError(t, err)
	assert.Equal(t, res.Export.ID, sm.ID)
	assert.FileExists(t, filepath.Join(args.ServingModelDir, serving.MetricsFile))

	recs := testdata.BankRecords(100, 77)
	out, err := mod.Call(serving.DefaultSignature, testdata.Serialize(testdata.WithoutLabel(recs)))
	require.NoError(t, err)
	probs := out[serving.OutputKey]
	require.Len(t, probs, 100)
	for _, row := range probs {
		require.Len(t, row, 1)
		assert.GreaterOrEqual(t, row[0], float32(0))
		assert.LessOrEqual(t, row[0], float32(1))
	}
}

func TestRunLearns(t *testing.T) {
	if testing.Short() {
		t.Skip("trains for a few hundred steps")
	}
	f := prepare(t, 1000, 2)
	args := f.args(300, 5)
	args.BatchSize = 64

	res, err := Run(context.Background(), args, WithSeed(1))
	require.NoError(t, err)
	t.Logf("train %+v eval %+v", res.Train, res.Eval)
	assert.Greater(t, res.Eval.AUC, 0.7)
}

func TestRunNoFilesFailsBeforeTraining(t *testing.T) {
	f := prepare(t, 20, 3)
	m := metrics.NewTraining()

	args := f.args(10, 1)
	args.TrainFiles = []string{filepath.Join(f.root, "missing", "*.gz")}
	_, err := Run(context.Background(), args, WithMetrics(m))
	require.ErrorIs(t, err, tfrecord.ErrNoFiles)
	assert.Contains(t, err.Error(), "missing")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Steps.WithLabelValues(metrics.Train)))
	assert.NoDirExists(t, args.ServingModelDir)

	args = f.args(10, 1)
	args.EvalFiles = []string{filepath.Join(f.root, "nothing-*.gz")}
	_, err = Run(context.Background(), args, WithMetrics(m))
	require.ErrorIs(t, err, tfrecord.ErrNoFiles)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Steps.WithLabelValues(metrics.Train)))
}

func TestRunInvalidArgs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*FnArgs)
	}{
		{"no train files", func(a *FnArgs) { a.TrainFiles = nil }},
		{"zero train steps", func(a *FnArgs) { a.TrainSteps = 0 }},
		{"negative eval steps", func(a *FnArgs) { a.EvalSteps = -1 }},
		{"no transform", func(a *FnArgs) { a.TransformOutput = "" }},
		{"no serving dir", func(a *FnArgs) { a.ServingModelDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := FnArgs{
				TrainFiles:      []string{"a"},
				EvalFiles:       []string{"b"},
				TransformOutput: "t",
				ServingModelDir: "s",
				TrainSteps:      1,
				EvalSteps:       1,
			}
			tt.mutate(&args)
			_, err := Run(context.Background(), args)
			assert.ErrorIs(t, err, ErrInvalidArgs)
		})
	}
}

func TestRunNilLoggerAndTracer(t *testing.T) {
	f := prepare(t, 40, 6)
	assert.NotPanics(t, func() {
		_, err := Run(context.Background(), f.args(2, 1), WithLogger(nil), WithTracerProvider(nil))
		assert.NoError(t, err)
	})
}

func TestRunWithoutEval(t *testing.T) {
	f := prepare(t, 40, 4)
	args := f.args(3, 0)
	args.EvalFiles = nil

	res, err := Run(context.Background(), args)
	require.NoError(t, err)
	assert.Zero(t, res.Eval.Examples)
	assert.DirExists(t, args.ServingModelDir)
}

func TestRunRecordsSpans(t *testing.T) {
	f := prepare(t, 40, 5)
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, err := Run(context.Background(), f.args(2, 1), WithTracerProvider(tp))
	require.NoError(t, err)

	var names []string
	var root sdktrace.ReadOnlySpan
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
		if s.Name() == "trainer.Run" {
			root = s
		}
	}
	assert.ElementsMatch(t, []string{
		"trainer.load_transform",
		"trainer.build_datasets",
		"trainer.fit",
		"trainer.evaluate",
		"trainer.export",
		"trainer.Run",
	}, names)
	require.NotNil(t, root)
	for _, s := range sr.Ended() {
		if s.Name() != "trainer.Run" {
			assert.Equal(t, root.SpanContext().SpanID(), s.Parent().SpanID(), s.Name())
		}
	}
}

func TestRunSpanRecordsError(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	args := FnArgs{
		TrainFiles:      []string{filepath.Join(t.TempDir(), "*.gz")},
		TransformOutput: "t",
		ServingModelDir: "s",
		TrainSteps:      1,
	}
	_, err := Run(context.Background(), args, WithTracerProvider(tp))
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "trainer.Run", spans[0].Name())
	assert.Equal(t, "Error", spans[0].Status().Code.String())
}
