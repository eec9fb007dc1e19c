package example

import (
	"errors"
	"fmt"

	"github.com/crimson-sun/tabflow/internal/model"
)

var (
	// ErrMissingFeature is returned when a required feature is absent.
	ErrMissingFeature = errors.New("example: missing required feature")
	// ErrFeatureType is returned when a feature's kind or length does not
	// match its spec.
	ErrFeatureType = errors.New("example: feature does not match spec")
)

// ParseBatch decodes serialized tf.Examples into columns, one per spec in
// schema. Every spec is a fixed-length scalar: a present feature must hold
// exactly one value of the declared kind, an absent one takes the spec
// default. Features not named by the schema are ignored.
func ParseBatch(serialized [][]byte, schema model.Schema) (model.Columns, error) {
	cols := make(model.Columns, len(schema.Features))
	for _, spec := range schema.Features {
		cols[spec.Name] = newColumn(spec.Kind, len(serialized))
	}

	for i, rec := range serialized {
		ex, err := Unmarshal(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if err := appendExample(cols, ex, schema); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return cols, nil
}

// FromExamples builds columns from already-decoded examples.
func FromExamples(exs []model.Example, schema model.Schema) (model.Columns, error) {
	cols := make(model.Columns, len(schema.Features))
	for _, spec := range schema.Features {
		cols[spec.Name] = newColumn(spec.Kind, len(exs))
	}
	for i, ex := range exs {
		if err := appendExample(cols, ex, schema); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return cols, nil
}

func newColumn(kind model.Kind, capacity int) model.Column {
	c := model.Column{Kind: kind}
	switch kind {
	case model.KindBytes:
		c.Bytes = make([][]byte, 0, capacity)
	case model.KindFloat:
		c.Floats = make([]float32, 0, capacity)
	case model.KindInt64:
		c.Int64s = make([]int64, 0, capacity)
	}
	return c
}

func appendExample(cols model.Columns, ex model.Example, schema model.Schema) error {
	for _, spec := range schema.Features {
		col := cols[spec.Name]
		feat, ok := ex[spec.Name]
		if !ok || feat.Len() == 0 {
			if spec.Default == nil {
				return fmt.Errorf("%w: %q", ErrMissingFeature, spec.Name)
			}
			col = appendDefault(col, *spec.Default)
			cols[spec.Name] = col
			continue
		}
		if feat.Kind != spec.Kind {
			return fmt.Errorf("%w: %q is %s, want %s", ErrFeatureType, spec.Name, feat.Kind, spec.Kind)
		}
		if feat.Len() != 1 {
			return fmt.Errorf("%w: %q has %d values, want 1", ErrFeatureType, spec.Name, feat.Len())
		}
		switch spec.Kind {
		case model.KindBytes:
			col.Bytes = append(col.Bytes, feat.Bytes[0])
		case model.KindFloat:
			col.Floats = append(col.Floats, feat.Floats[0])
		case model.KindInt64:
			col.Int64s = append(col.Int64s, feat.Int64s[0])
		}
		cols[spec.Name] = col
	}
	return nil
}

func appendDefault(col model.Column, v model.Value) model.Column {
	switch col.Kind {
	case model.KindBytes:
		col.Bytes = append(col.Bytes, v.Bytes)
	case model.KindFloat:
		col.Floats = append(col.Floats, v.Float)
	case model.KindInt64:
		col.Int64s = append(col.Int64s, v.Int64)
	}
	return col
}
