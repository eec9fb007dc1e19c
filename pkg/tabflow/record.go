package tabflow

import (
	"fmt"
	"math"

	"github.com/crimson-sun/tabflow/internal/model"
)

// Record is one raw input row keyed by column name. Values may be strings or
// []byte for categorical columns and any Go integer or float type for numeric
// columns. Keys the model does not use are ignored.
type Record map[string]any

// Prediction is the score for one record.
type Prediction struct {
	Probability float32 `json:"probability"`
	Class       int     `json:"class"`
}

// toExample coerces r to the kinds of spec.
func toExample(r Record, spec model.Schema) (model.Example, error) {
	ex := make(model.Example, len(spec.Features))
	for _, fs := range spec.Features {
		v, ok := r[fs.Name]
		if !ok || v == nil {
			continue
		}
		f, err := coerce(v, fs.Kind)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", fs.Name, err)
		}
		ex[fs.Name] = f
	}
	return ex, nil
}

func coerce(v any, kind model.Kind) (model.Feature, error) {
	switch kind {
	case model.KindBytes:
		switch x := v.(type) {
		case string:
			return model.BytesFeature(x), nil
		case []byte:
			return model.Feature{Kind: model.KindBytes, Bytes: [][]byte{x}}, nil
		}
	case model.KindFloat:
		if f, ok := asFloat(v); ok {
			return model.FloatFeature(float32(f)), nil
		}
	case model.KindInt64:
		if f, ok := asFloat(v); ok {
			if f != math.Trunc(f) {
				return model.Feature{}, fmt.Errorf("value %v is not an integer", v)
			}
			return model.Int64Feature(int64(f)), nil
		}
	}
	return model.Feature{}, fmt.Errorf("cannot use %T as %s", v, kind)
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
