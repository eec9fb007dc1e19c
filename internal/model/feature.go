package model

import "fmt"

// Kind is the value type carried by a feature, matching the three list
// types of a tf.Example.
type Kind int

const (
	KindBytes Kind = iota
	KindFloat
	KindInt64
)

func (k Kind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindFloat:
		return "float"
	case KindInt64:
		return "int64"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "bytes", "string":
		return KindBytes, nil
	case "float", "float32":
		return KindFloat, nil
	case "int64", "int":
		return KindInt64, nil
	}
	return 0, fmt.Errorf("model: unknown feature kind %q", s)
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Feature is a single named value list inside an Example.
// Only the slice matching Kind is populated.
type Feature struct {
	Kind   Kind
	Bytes  [][]byte
	Floats []float32
	Int64s []int64
}

// BytesFeature builds a bytes feature from strings.
func BytesFeature(vals ...string) Feature {
	b := make([][]byte, len(vals))
	for i, v := range vals {
		b[i] = []byte(v)
	}
	return Feature{Kind: KindBytes, Bytes: b}
}

// FloatFeature builds a float feature.
func FloatFeature(vals ...float32) Feature {
	return Feature{Kind: KindFloat, Floats: vals}
}

// Int64Feature builds an int64 feature.
func Int64Feature(vals ...int64) Feature {
	return Feature{Kind: KindInt64, Int64s: vals}
}

// Len returns the number of values held by the feature.
func (f Feature) Len() int {
	switch f.Kind {
	case KindBytes:
		return len(f.Bytes)
	case KindFloat:
		return len(f.Floats)
	default:
		return len(f.Int64s)
	}
}

// Example is a decoded tf.Example: feature name to value list.
type Example map[string]Feature
