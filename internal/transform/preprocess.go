package transform

import (
	"errors"
	"fmt"
	"sort"

	"github.com/crimson-sun/tabflow/internal/model"
)

// ErrNotFitted is returned when a column is present in the input but the
// artifact holds no statistics for it.
var ErrNotFitted = errors.New("transform: no fitted statistics for feature")

// Preprocess applies fitted statistics to a batch of raw columns:
//
//	<numeric>_z      float32 z-score
//	<categorical>_id int64 vocabulary id, unseen terms map to the OOV id
//	y                int64 0/1
//
// Configured columns missing from inputs are skipped without error.
func Preprocess(inputs model.Columns, art *Artifact) (model.Columns, error) {
	out := make(model.Columns)

	for _, key := range NumericFeatures {
		col, ok := inputs[key]
		if !ok {
			continue
		}
		m, ok := art.Moments[key]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNotFitted, key)
		}
		vals := col.AsFloat32()
		if vals == nil && col.Len() > 0 {
			return nil, fmt.Errorf("transform: numeric feature %q has kind %s", key, col.Kind)
		}
		z := make([]float32, len(vals))
		for i, v := range vals {
			z[i] = m.ZScore(v)
		}
		out[NumericOutput(key)] = model.Column{Kind: model.KindFloat, Floats: z}
	}

	for _, key := range CategoricalFeatures {
		col, ok := inputs[key]
		if !ok {
			continue
		}
		vocab, ok := art.Vocabularies[key]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNotFitted, key)
		}
		terms := termsOf(col)
		ids := make([]int64, len(terms))
		for i, t := range terms {
			ids[i] = vocab.Lookup(t)
		}
		out[CategoricalOutput(key)] = model.Column{Kind: model.KindInt64, Int64s: ids}
	}

	if col, ok := inputs[LabelKey]; ok {
		out[LabelKey] = model.Column{Kind: model.KindInt64, Int64s: makeLabel(col)}
	}
	return out, nil
}

// makeLabel maps string labels to 1 for "yes" and 0 otherwise; numeric labels
// are cast to int64.
func makeLabel(c model.Column) []int64 {
	out := make([]int64, c.Len())
	switch c.Kind {
	case model.KindBytes:
		for i, b := range c.Bytes {
			if string(b) == "yes" {
				out[i] = 1
			}
		}
	case model.KindFloat:
		for i, v := range c.Floats {
			out[i] = int64(v)
		}
	case model.KindInt64:
		copy(out, c.Int64s)
	}
	return out
}

// transformedSchema derives the output schema from the raw schema. Features
// are sorted by name.
func transformedSchema(raw model.Schema) model.Schema {
	var s model.Schema
	for _, key := range NumericFeatures {
		if raw.Has(key) {
			s.Features = append(s.Features, model.FeatureSpec{Name: NumericOutput(key), Kind: model.KindFloat})
		}
	}
	for _, key := range CategoricalFeatures {
		if raw.Has(key) {
			s.Features = append(s.Features, model.FeatureSpec{Name: CategoricalOutput(key), Kind: model.KindInt64})
		}
	}
	if raw.Has(LabelKey) {
		s.Features = append(s.Features, model.FeatureSpec{Name: LabelKey, Kind: model.KindInt64})
	}
	sort.Slice(s.Features, func(i, j int) bool { return s.Features[i].Name < s.Features[j].Name })
	return s
}
