// Package example encodes and decodes tf.Example protocol buffers and parses
// batches of them against a feature schema.
package example

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/crimson-sun/tabflow/internal/model"
)

// ErrMalformed is returned when a serialized record is not a valid tf.Example.
var ErrMalformed = errors.New("example: malformed record")

// Field numbers from tensorflow/core/example/{example,feature}.proto.
const (
	fieldExampleFeatures protowire.Number = 1
	fieldFeaturesMap     protowire.Number = 1
	fieldMapKey          protowire.Number = 1
	fieldMapValue        protowire.Number = 2
	fieldBytesList       protowire.Number = 1
	fieldFloatList       protowire.Number = 2
	fieldInt64List       protowire.Number = 3
	fieldListValue       protowire.Number = 1
)

// Marshal serializes ex as a tf.Example. Feature names are written in sorted
// order so equal examples serialize to equal bytes.
func Marshal(ex model.Example) []byte {
	names := make([]string, 0, len(ex))
	for name := range ex {
		names = append(names, name)
	}
	sort.Strings(names)

	var features []byte
	for _, name := range names {
		var entry []byte
		entry = protowire.AppendTag(entry, fieldMapKey, protowire.BytesType)
		entry = protowire.AppendString(entry, name)
		entry = protowire.AppendTag(entry, fieldMapValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, marshalFeature(ex[name]))

		features = protowire.AppendTag(features, fieldFeaturesMap, protowire.BytesType)
		features = protowire.AppendBytes(features, entry)
	}

	var out []byte
	out = protowire.AppendTag(out, fieldExampleFeatures, protowire.BytesType)
	out = protowire.AppendBytes(out, features)
	return out
}

func marshalFeature(f model.Feature) []byte {
	var list []byte
	var field protowire.Number
	switch f.Kind {
	case model.KindBytes:
		field = fieldBytesList
		for _, v := range f.Bytes {
			list = protowire.AppendTag(list, fieldListValue, protowire.BytesType)
			list = protowire.AppendBytes(list, v)
		}
	case model.KindFloat:
		field = fieldFloatList
		var packed []byte
		for _, v := range f.Floats {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		list = protowire.AppendTag(list, fieldListValue, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)
	case model.KindInt64:
		field = fieldInt64List
		var packed []byte
		for _, v := range f.Int64s {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		list = protowire.AppendTag(list, fieldListValue, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)
	}

	var out []byte
	out = protowire.AppendTag(out, field, protowire.BytesType)
	out = protowire.AppendBytes(out, list)
	return out
}

// Unmarshal decodes a serialized tf.Example. Unknown fields are skipped.
func Unmarshal(b []byte) (model.Example, error) {
	ex := make(model.Example)
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != fieldExampleFeatures || typ != protowire.BytesType {
			return nil
		}
		return walk(v, func(num protowire.Number, typ protowire.Type, entry []byte) error {
			if num != fieldFeaturesMap || typ != protowire.BytesType {
				return nil
			}
			name, feat, err := unmarshalEntry(entry)
			if err != nil {
				return err
			}
			ex[name] = feat
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ex, nil
}

func unmarshalEntry(b []byte) (string, model.Feature, error) {
	var (
		name string
		feat model.Feature
	)
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldMapKey:
			name = string(v)
		case fieldMapValue:
			f, err := unmarshalFeature(v)
			if err != nil {
				return err
			}
			feat = f
		}
		return nil
	})
	return name, feat, err
}

func unmarshalFeature(b []byte) (model.Feature, error) {
	var feat model.Feature
	err := walk(b, func(num protowire.Number, typ protowire.Type, list []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldBytesList:
			feat = model.Feature{Kind: model.KindBytes}
			return walkValues(list, func(typ protowire.Type, raw []byte, val uint64) error {
				if typ != protowire.BytesType {
					return fmt.Errorf("%w: bytes_list value has wire type %d", ErrMalformed, typ)
				}
				feat.Bytes = append(feat.Bytes, append([]byte(nil), raw...))
				return nil
			})
		case fieldFloatList:
			feat = model.Feature{Kind: model.KindFloat}
			return walkValues(list, func(typ protowire.Type, raw []byte, val uint64) error {
				switch typ {
				case protowire.Fixed32Type:
					feat.Floats = append(feat.Floats, math.Float32frombits(uint32(val)))
				case protowire.BytesType:
					for len(raw) > 0 {
						v, n := protowire.ConsumeFixed32(raw)
						if n < 0 {
							return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
						}
						feat.Floats = append(feat.Floats, math.Float32frombits(v))
						raw = raw[n:]
					}
				default:
					return fmt.Errorf("%w: float_list value has wire type %d", ErrMalformed, typ)
				}
				return nil
			})
		case fieldInt64List:
			feat = model.Feature{Kind: model.KindInt64}
			return walkValues(list, func(typ protowire.Type, raw []byte, val uint64) error {
				switch typ {
				case protowire.VarintType:
					feat.Int64s = append(feat.Int64s, int64(val))
				case protowire.BytesType:
					for len(raw) > 0 {
						v, n := protowire.ConsumeVarint(raw)
						if n < 0 {
							return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
						}
						feat.Int64s = append(feat.Int64s, int64(v))
						raw = raw[n:]
					}
				default:
					return fmt.Errorf("%w: int64_list value has wire type %d", ErrMalformed, typ)
				}
				return nil
			})
		}
		return nil
	})
	return feat, err
}

// walk visits every length-delimited field of a message, skipping scalars.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
			}
			b = b[m:]
			continue
		}
		v, m := protowire.ConsumeBytes(b)
		if m < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
		}
		if err := fn(num, typ, v); err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

// walkValues visits field 1 of a *List message in either packed or unpacked
// form. For scalar wire types val holds the decoded value.
func walkValues(b []byte, fn func(typ protowire.Type, raw []byte, val uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		if num != fieldListValue {
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
			}
			b = b[m:]
			continue
		}
		var (
			raw []byte
			val uint64
			m   int
		)
		switch typ {
		case protowire.BytesType:
			raw, m = protowire.ConsumeBytes(b)
		case protowire.VarintType:
			val, m = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v32 uint32
			v32, m = protowire.ConsumeFixed32(b)
			val = uint64(v32)
		default:
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
		}
		if err := fn(typ, raw, val); err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}
