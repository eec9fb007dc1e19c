package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/tabflow/internal/model"
	"github.com/crimson-sun/tabflow/internal/testdata"
)

func invoke(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	t.Setenv("TABFLOW_LOG_LEVEL", "error")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestUsage(t *testing.T) {
	code, _, stderr := invoke(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "usage: tabflow")

	code, _, stderr = invoke(t, "serve")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, `unknown command "serve"`)

	code, _, _ = invoke(t, "train", "--no-such-flag")
	assert.Equal(t, 2, code)
}

func TestInvalidConfig(t *testing.T) {
	code, _, _ := invoke(t, "run", "--train-steps", "0")
	assert.Equal(t, 1, code)
}

func TestRunThenPredict(t *testing.T) {
	dir := t.TempDir()
	train := filepath.Join(dir, "raw", "train.gz")
	eval := filepath.Join(dir, "raw", "eval.gz")
	require.NoError(t, os.MkdirAll(filepath.Dir(train), 0o755))
	require.NoError(t, testdata.WriteTFRecord(train, testdata.BankRecords(120, 1)))
	require.NoError(t, testdata.WriteTFRecord(eval, testdata.BankRecords(30, 2)))
	serving := filepath.Join(dir, "serving_model")
	metricsFile := filepath.Join(dir, "metrics.prom")

	code, stdout, stderr := invoke(t, "run",
		"--train", train,
		"--eval", eval,
		"--work-dir", filepath.Join(dir, "work"),
		"--serving-dir", serving,
		"--train-steps", "5",
		"--eval-steps", "1",
		"--batch-size", "32",
		"--metrics-file", metricsFile,
	)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "export ")
	assert.FileExists(t, filepath.Join(serving, "saved_model.json"))
	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `tabflow_steps_total{split="train"} 5`)

	out := filepath.Join(dir, "predictions.ndjson")
	code, stdout, stderr = invoke(t, "predict",
		"--model-dir", serving,
		"--predict-batch", "7",
		"-o", out,
		eval,
	)
	require.Equal(t, 0, code, stderr)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 30)
	for i, line := range lines {
		var p model.Prediction
		require.NoError(t, json.Unmarshal([]byte(line), &p))
		assert.Equal(t, eval, p.Source)
		assert.Equal(t, i, p.Record)
		assert.GreaterOrEqual(t, p.Probability, float32(0))
		assert.LessOrEqual(t, p.Probability, float32(1))
	}

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	n := 0
	for sc := bufio.NewScanner(f); sc.Scan(); n++ {
	}
	assert.Equal(t, 30, n)
}

func TestPredictMissingModel(t *testing.T) {
	code, _, _ := invoke(t, "predict", "--model-dir", filepath.Join(t.TempDir(), "missing"), "x.gz")
	assert.Equal(t, 1, code)
}

func TestPredictNoPatterns(t *testing.T) {
	code, _, _ := invoke(t, "predict")
	assert.Equal(t, 1, code)
}

func TestTrainBeforeTransform(t *testing.T) {
	dir := t.TempDir()
	code, _, _ := invoke(t, "train",
		"--work-dir", filepath.Join(dir, "work"),
		"--serving-dir", filepath.Join(dir, "serving_model"),
	)
	assert.Equal(t, 1, code)
	assert.NoDirExists(t, filepath.Join(dir, "serving_model"))
}
