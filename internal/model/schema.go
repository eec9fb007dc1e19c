package model

import "fmt"

// FeatureSpec describes one fixed-length scalar feature.
// A nil Default means the feature is required in every record.
type FeatureSpec struct {
	Name    string `json:"name"`
	Kind    Kind   `json:"kind"`
	Default *Value `json:"default,omitempty"`
}

// Value is a scalar default for a FeatureSpec.
type Value struct {
	Bytes []byte  `json:"bytes,omitempty"`
	Float float32 `json:"float,omitempty"`
	Int64 int64   `json:"int64,omitempty"`
}

// Schema is an ordered list of feature specs.
type Schema struct {
	Features []FeatureSpec
}

// Names returns the feature names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Features))
	for i, f := range s.Features {
		names[i] = f.Name
	}
	return names
}

// Lookup returns the spec with the given name.
func (s Schema) Lookup(name string) (FeatureSpec, bool) {
	for _, f := range s.Features {
		if f.Name == name {
			return f, true
		}
	}
	return FeatureSpec{}, false
}

// Has reports whether the schema declares name.
func (s Schema) Has(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// Without returns a copy of the schema with the named feature removed.
func (s Schema) Without(name string) Schema {
	out := Schema{Features: make([]FeatureSpec, 0, len(s.Features))}
	for _, f := range s.Features {
		if f.Name != name {
			out.Features = append(out.Features, f)
		}
	}
	return out
}

// Validate rejects empty and duplicate names.
func (s Schema) Validate() error {
	seen := make(map[string]struct{}, len(s.Features))
	for _, f := range s.Features {
		if f.Name == "" {
			return fmt.Errorf("model: schema has a feature with an empty name")
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("model: duplicate feature %q in schema", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}
