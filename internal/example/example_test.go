package example

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/crimson-sun/tabflow/internal/model"
)

func TestMarshalUnmarshalMixedKinds(t *testing.T) {
	in := model.Example{
		"job":  model.BytesFeature("admin."),
		"age":  model.Int64Feature(41),
		"rate": model.FloatFeature(1.1, -0.5),
	}

	out, err := Unmarshal(Marshal(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestMarshalIsDeterministic(t *testing.T) {
	ex := model.Example{
		"b": model.Int64Feature(2),
		"a": model.Int64Feature(1),
		"c": model.BytesFeature("x"),
	}
	assert.Equal(t, Marshal(ex), Marshal(ex))
}

func TestUnmarshalUnpackedInt64List(t *testing.T) {
	// Int64List with two unpacked varint values.
	var list []byte
	list = protowire.AppendTag(list, 1, protowire.VarintType)
	list = protowire.AppendVarint(list, 7)
	list = protowire.AppendTag(list, 1, protowire.VarintType)
	list = protowire.AppendVarint(list, 9)

	var feat []byte
	feat = protowire.AppendTag(feat, fieldInt64List, protowire.BytesType)
	feat = protowire.AppendBytes(feat, list)

	var entry []byte
	entry = protowire.AppendTag(entry, fieldMapKey, protowire.BytesType)
	entry = protowire.AppendString(entry, "n")
	entry = protowire.AppendTag(entry, fieldMapValue, protowire.BytesType)
	entry = protowire.AppendBytes(entry, feat)

	var features []byte
	features = protowire.AppendTag(features, fieldFeaturesMap, protowire.BytesType)
	features = protowire.AppendBytes(features, entry)

	var ex []byte
	ex = protowire.AppendTag(ex, fieldExampleFeatures, protowire.BytesType)
	ex = protowire.AppendBytes(ex, features)

	got, err := Unmarshal(ex)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 9}, got["n"].Int64s)
}

func TestUnmarshalTruncated(t *testing.T) {
	b := Marshal(model.Example{"age": model.Int64Feature(30)})
	_, err := Unmarshal(b[:len(b)-2])
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseBatch(t *testing.T) {
	schema := model.Schema{Features: []model.FeatureSpec{
		{Name: "age", Kind: model.KindInt64},
		{Name: "job", Kind: model.KindBytes},
		{Name: "y", Kind: model.KindBytes, Default: &model.Value{Bytes: []byte("no")}},
	}}
	recs := [][]byte{
		Marshal(model.Example{"age": model.Int64Feature(30), "job": model.BytesFeature("admin."), "y": model.BytesFeature("yes")}),
		Marshal(model.Example{"age": model.Int64Feature(45), "job": model.BytesFeature("services"), "extra": model.FloatFeature(1)}),
	}

	cols, err := ParseBatch(recs, schema)
	require.NoError(t, err)
	assert.Equal(t, 2, cols.Rows())
	assert.Equal(t, []int64{30, 45}, cols["age"].Int64s)
	assert.Equal(t, [][]byte{[]byte("admin."), []byte("services")}, cols["job"].Bytes)
	assert.Equal(t, [][]byte{[]byte("yes"), []byte("no")}, cols["y"].Bytes)
	assert.NotContains(t, cols, "extra")
}

func TestParseBatchErrors(t *testing.T) {
	schema := model.Schema{Features: []model.FeatureSpec{{Name: "age", Kind: model.KindInt64}}}

	_, err := ParseBatch([][]byte{Marshal(model.Example{})}, schema)
	assert.ErrorIs(t, err, ErrMissingFeature)

	_, err = ParseBatch([][]byte{Marshal(model.Example{"age": model.FloatFeature(1)})}, schema)
	assert.ErrorIs(t, err, ErrFeatureType)

	_, err = ParseBatch([][]byte{Marshal(model.Example{"age": model.Int64Feature(1, 2)})}, schema)
	assert.ErrorIs(t, err, ErrFeatureType)
}
