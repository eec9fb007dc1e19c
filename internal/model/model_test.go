package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindBytes, KindFloat, KindInt64} {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("double")
	assert.Error(t, err)
}

func TestKindJSON(t *testing.T) {
	data, err := json.Marshal(FeatureSpec{Name: "age", Kind: KindInt64})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"age","kind":"int64"}`, string(data))
}

func TestSchema(t *testing.T) {
	s := Schema{Features: []FeatureSpec{{Name: "a"}, {Name: "y"}, {Name: "b"}}}
	require.NoError(t, s.Validate())
	assert.True(t, s.Has("y"))
	assert.Equal(t, []string{"a", "b"}, s.Without("y").Names())
	assert.Len(t, s.Features, 3)

	dup := Schema{Features: []FeatureSpec{{Name: "a"}, {Name: "a"}}}
	assert.Error(t, dup.Validate())
	assert.Error(t, Schema{Features: []FeatureSpec{{}}}.Validate())
}

func TestColumnsExamples(t *testing.T) {
	cols := Columns{
		"n": {Kind: KindInt64, Int64s: []int64{1, 2}},
		"s": {Kind: KindBytes, Bytes: [][]byte{[]byte("x"), []byte("y")}},
	}
	assert.Equal(t, 2, cols.Rows())
	assert.Equal(t, []float32{1, 2}, cols["n"].AsFloat32())
	assert.Nil(t, cols["s"].AsFloat32())

	exs := cols.Examples()
	require.Len(t, exs, 2)
	assert.Equal(t, Int64Feature(2), exs[1]["n"])
	assert.Equal(t, BytesFeature("x"), exs[0]["s"])
}

func TestNewPrediction(t *testing.T) {
	assert.Equal(t, 1, NewPrediction("f", 3, 0.51).Class)
	assert.Equal(t, 0, NewPrediction("f", 3, 0.5).Class)
	p := NewPrediction("", 0, 0.2)
	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "source")
}
