package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := NewTraining()
	m.Steps.WithLabelValues(Train).Add(3)
	m.Observe(Eval, 0.4, 0.8, 0.9)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Steps.WithLabelValues(Train)))
	assert.Equal(t, 0.8, testutil.ToFloat64(m.Accuracy.WithLabelValues(Eval)))
	assert.Equal(t, 0.9, testutil.ToFloat64(m.AUC.WithLabelValues(Eval)))
}

func TestIndependentRegistries(t *testing.T) {
	a, b := NewTraining(), NewTraining()
	a.Records.WithLabelValues(Train).Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Records.WithLabelValues(Train)))
}

func TestWriteTextfile(t *testing.T) {
	m := NewTraining()
	m.Observe(Train, 0.5, 0.75, 0.6)
	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `tabflow_accuracy{split="train"} 0.75`)
}
