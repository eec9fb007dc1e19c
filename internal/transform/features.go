// Package transform fits and applies the feature preprocessing: z-score
// scaling of numeric columns, top-k vocabulary encoding of categorical
// columns, and binarization of the label.
package transform

import "github.com/crimson-sun/tabflow/internal/model"

// NumericFeatures are scaled to z-scores and emitted as <key>_z.
var NumericFeatures = []string{
	"age",
	"campaign",
	"pdays",
	"previous",
	"emp_var_rate",
	"cons_price_idx",
	"cons_conf_idx",
	"euribor3m",
	"nr_employed",
	"duration",
}

// CategoricalFeatures are vocabulary-encoded and emitted as <key>_id.
var CategoricalFeatures = []string{
	"job",
	"marital",
	"education",
	"default",
	"housing",
	"loan",
	"contact",
	"month",
	"day_of_week",
	"poutcome",
}

const (
	// LabelKey names the label in both the raw and the transformed schema.
	LabelKey = "y"

	// TopK bounds each vocabulary.
	TopK = 100
	// NumOOVBuckets is the number of ids reserved past the vocabulary for
	// unseen terms.
	NumOOVBuckets = 1

	numericSuffix     = "_z"
	categoricalSuffix = "_id"
)

// NumericOutput returns the transformed name of a numeric feature.
func NumericOutput(key string) string { return key + numericSuffix }

// CategoricalOutput returns the transformed name of a categorical feature.
func CategoricalOutput(key string) string { return key + categoricalSuffix }

// integralNumeric marks the numeric columns that example generation infers
// as int64 from the bank-marketing CSV; the rest are floats.
var integralNumeric = map[string]bool{
	"age":      true,
	"campaign": true,
	"pdays":    true,
	"previous": true,
	"duration": true,
}

// DefaultRawSchema is the raw bank-marketing schema with a string label.
func DefaultRawSchema() model.Schema {
	return RawSchema(model.KindBytes)
}

// RawSchema is the raw bank-marketing schema with the given label kind.
func RawSchema(labelKind model.Kind) model.Schema {
	var s model.Schema
	for _, key := range NumericFeatures {
		kind := model.KindFloat
		if integralNumeric[key] {
			kind = model.KindInt64
		}
		s.Features = append(s.Features, model.FeatureSpec{Name: key, Kind: kind})
	}
	for _, key := range CategoricalFeatures {
		s.Features = append(s.Features, model.FeatureSpec{Name: key, Kind: model.KindBytes})
	}
	s.Features = append(s.Features, model.FeatureSpec{Name: LabelKey, Kind: labelKind})
	return s
}
