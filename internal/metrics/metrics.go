// Package metrics holds the Prometheus collectors for a training run.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Training owns one registry per run so repeated runs in a process never
// collide on registration.
type Training struct {
	Registry *prometheus.Registry

	Steps    *prometheus.CounterVec
	Records  *prometheus.CounterVec
	Loss     *prometheus.GaugeVec
	Accuracy *prometheus.GaugeVec
	AUC      *prometheus.GaugeVec
	StepTime prometheus.Histogram
}

// Split labels.
const (
	Train = "train"
	Eval  = "eval"
)

// NewTraining registers the training collectors on a fresh registry.
func NewTraining() *Training {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Training{
		Registry: reg,
		Steps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tabflow_steps_total",
				Help: "Number of batches processed",
			},
			[]string{"split"},
		),
		Records: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tabflow_records_total",
				Help: "Number of records consumed",
			},
			[]string{"split"},
		),
		Loss: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tabflow_loss",
				Help: "Mean binary cross-entropy",
			},
			[]string{"split"},
		),
		Accuracy: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tabflow_accuracy",
				Help: "Binary accuracy at threshold 0.5",
			},
			[]string{"split"},
		),
		AUC: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tabflow_auc",
				Help: "Area under the ROC curve",
			},
			[]string{"split"},
		),
		StepTime: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tabflow_train_step_duration_seconds",
				Help:    "Duration of one training step in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
	}
}

// Observe records a split's summary values.
func (t *Training) Observe(split string, loss, accuracy, auc float64) {
	t.Loss.WithLabelValues(split).Set(loss)
	t.Accuracy.WithLabelValues(split).Set(accuracy)
	t.AUC.WithLabelValues(split).Set(auc)
}

// WriteTextfile writes the registry in Prometheus text format.
func (t *Training) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, t.Registry); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}
