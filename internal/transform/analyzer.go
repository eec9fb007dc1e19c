package transform

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/crimson-sun/tabflow/internal/logging"
	"github.com/crimson-sun/tabflow/internal/model"
)

// ErrNonFinite is returned by Update for a NaN or infinite numeric value.
var ErrNonFinite = errors.New("transform: non-finite numeric value")

// Analyzer accumulates full-pass statistics over the training corpus, one
// batch at a time. It is not safe for concurrent use.
type Analyzer struct {
	raw     model.Schema
	topK    int
	rows    int64
	moments map[string]Moments
	counts  map[string]map[string]int64
	logger  *zap.Logger
}

// NewAnalyzer creates an Analyzer for records of the given raw schema.
func NewAnalyzer(raw model.Schema, opts ...Option) *Analyzer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Analyzer{
		raw:     raw,
		topK:    o.topK,
		moments: make(map[string]Moments),
		counts:  make(map[string]map[string]int64),
		logger:  logging.OrNop(o.logger),
	}
}

// Update folds one batch of raw columns into the running statistics.
// Configured columns absent from the batch are skipped. A batch holding a
// non-finite numeric value is rejected whole and leaves the statistics
// unchanged.
func (a *Analyzer) Update(cols model.Columns) error {
	batch := make(map[string]Moments, len(NumericFeatures))
	for _, key := range NumericFeatures {
		col, ok := cols[key]
		if !ok {
			continue
		}
		vals := col.AsFloat32()
		xs := make([]float64, len(vals))
		for i, v := range vals {
			x := float64(v)
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return fmt.Errorf("%w: %q row %d is %v", ErrNonFinite, key, i, x)
			}
			xs[i] = x
		}
		batch[key] = batchMoments(xs)
	}

	a.rows += int64(cols.Rows())
	for key, m := range batch {
		a.moments[key] = a.moments[key].Merge(m)
	}

	for _, key := range CategoricalFeatures {
		col, ok := cols[key]
		if !ok {
			continue
		}
		counts := a.counts[key]
		if counts == nil {
			counts = make(map[string]int64)
			a.counts[key] = counts
		}
		for _, term := range termsOf(col) {
			counts[normalizeTerm(term)]++
		}
	}
	return nil
}

// Rows returns the number of records analyzed so far.
func (a *Analyzer) Rows() int64 { return a.rows }

// Finalize freezes the statistics into an Artifact. Only columns declared by
// the raw schema produce statistics and transformed features.
func (a *Analyzer) Finalize() *Artifact {
	art := &Artifact{
		RawSchema:    a.raw,
		NumRows:      a.rows,
		TopK:         a.topK,
		Moments:      make(map[string]Moments),
		Vocabularies: make(map[string]*Vocabulary),
	}
	for _, key := range NumericFeatures {
		if !a.raw.Has(key) {
			continue
		}
		art.Moments[key] = a.moments[key]
	}
	for _, key := range CategoricalFeatures {
		if !a.raw.Has(key) {
			continue
		}
		art.Vocabularies[key] = buildVocabulary(a.counts[key], a.topK)
		a.logger.Debug("vocabulary computed",
			zap.String("feature", key),
			zap.Int("distinct", len(a.counts[key])),
			zap.Int("size", art.Vocabularies[key].Size()))
	}
	art.TransformedSchema = transformedSchema(a.raw)
	return art
}
