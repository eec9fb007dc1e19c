package dataset

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/crimson-sun/tabflow/internal/example"
	"github.com/crimson-sun/tabflow/internal/model"
	"github.com/crimson-sun/tabflow/internal/tfrecord"
)

var testSchema = model.Schema{Features: []model.FeatureSpec{
	{Name: "a_z", Kind: model.KindFloat},
	{Name: "b_id", Kind: model.KindInt64},
	{Name: "y", Kind: model.KindInt64},
}}

var testKeys = []string{"a_z", "b_id"}

// writeRecords writes n records where a_z = i/2, b_id = i and y = i%2.
func writeRecords(t *testing.T, path string, from, n int) {
	t.Helper()
	recs := make([][]byte, n)
	for i := range recs {
		v := from + i
		recs[i] = example.Marshal(model.Example{
			"a_z":  model.FloatFeature(float32(v) / 2),
			"b_id": model.Int64Feature(int64(v)),
			"y":    model.Int64Feature(int64(v % 2)),
		})
	}
	c := tfrecord.None
	if filepath.Ext(path) == ".gz" {
		c = tfrecord.Gzip
	}
	require.NoError(t, tfrecord.WriteFile(path, c, recs))
}

func drain(t *testing.T, d *Dataset) []*Batch {
	t.Helper()
	var out []*Batch
	for {
		b, err := d.Next(context.Background())
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, b)
	}
}

func ids(batches []*Batch) []int {
	var out []int
	for _, b := range batches {
		for i := 0; i < b.Rows(); i++ {
			out = append(out, int(b.Features.At(i, 1)))
		}
	}
	return out
}

func TestFiniteInOrder(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, filepath.Join(dir, "part-0.gz"), 0, 10)

	d, err := New(context.Background(), []string{filepath.Join(dir, "*.gz")}, testSchema, testKeys, "y",
		WithBatchSize(4), WithShuffle(0), WithRepeat(false), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer d.Close()

	batches := drain(t, d)
	require.Len(t, batches, 3)
	assert.Equal(t, 4, batches[0].Rows())
	assert.Equal(t, 2, batches[2].Rows())

	first := batches[0]
	assert.Equal(t, []float64{0, 0.5, 1, 1.5}, []float64{
		first.Features.At(0, 0), first.Features.At(1, 0), first.Features.At(2, 0), first.Features.At(3, 0),
	})
	assert.Equal(t, []float64{0, 1, 0, 1}, first.Labels)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, ids(batches))
}

func TestRepeatCrossesEpochs(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, filepath.Join(dir, "train.tfrecord"), 0, 10)

	d, err := New(context.Background(), []string{filepath.Join(dir, "train.tfrecord")}, testSchema, testKeys, "y",
		WithBatchSize(8), WithShuffle(0))
	require.NoError(t, err)
	defer d.Close()

	var got []*Batch
	for i := 0; i < 5; i++ {
		b, err := d.Next(context.Background())
		require.NoError(t, err)
		require.Equal(t, 8, b.Rows())
		got = append(got, b)
	}
	counts := make(map[int]int)
	for _, id := range ids(got) {
		counts[id]++
	}
	for id := 0; id < 10; id++ {
		assert.Equal(t, 4, counts[id], "id %d", id)
	}
}

func TestShuffleIsPermutationAndSeeded(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, filepath.Join(dir, "a.gz"), 0, 50)
	writeRecords(t, filepath.Join(dir, "b.gz"), 50, 50)

	read := func(seed int64) []int {
		d, err := New(context.Background(), []string{filepath.Join(dir, "a.gz"), filepath.Join(dir, "b.gz")},
			testSchema, testKeys, "y", WithBatchSize(16), WithShuffle(20), WithRepeat(false), WithSeed(seed))
		require.NoError(t, err)
		defer d.Close()
		return ids(drain(t, d))
	}

	a := read(1)
	assert.Equal(t, a, read(1))
	assert.NotEqual(t, a, read(2))

	sorted := append([]int(nil), a...)
	sort.Ints(sorted)
	want := make([]int, 100)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, sorted)
	assert.NotEqual(t, want, a)
}

func TestUnlabeled(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, filepath.Join(dir, "x.gz"), 0, 3)

	d, err := New(context.Background(), []string{filepath.Join(dir, "x.gz")}, testSchema, []string{"a_z"}, "",
		WithRepeat(false), WithShuffle(0))
	require.NoError(t, err)
	defer d.Close()

	batches := drain(t, d)
	require.Len(t, batches, 1)
	assert.Nil(t, batches[0].Labels)
	_, cols := batches[0].Features.Dims()
	assert.Equal(t, 1, cols)
}

func TestNoFiles(t *testing.T) {
	_, err := New(context.Background(), []string{filepath.Join(t.TempDir(), "*.gz")}, testSchema, testKeys, "y")
	assert.ErrorIs(t, err, tfrecord.ErrNoFiles)
}

func TestUnknownFeature(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, filepath.Join(dir, "x.gz"), 0, 1)
	_, err := New(context.Background(), []string{filepath.Join(dir, "x.gz")}, testSchema, []string{"nope"}, "y")
	assert.Error(t, err)
}

func TestEmptyRepeatingDatasetFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, tfrecord.WriteFile(filepath.Join(dir, "empty.gz"), tfrecord.Gzip, nil))

	d, err := New(context.Background(), []string{filepath.Join(dir, "empty.gz")}, testSchema, testKeys, "y")
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Next(context.Background())
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestCorruptRecordSurfaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.tfrecord")
	writeRecords(t, path, 0, 5)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-6] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	d, err := New(context.Background(), []string{path}, testSchema, testKeys, "y", WithRepeat(false))
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Next(context.Background())
	assert.ErrorIs(t, err, tfrecord.ErrCorrupt)
}

func TestCloseStopsRepeatingPipeline(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, filepath.Join(dir, "x.gz"), 0, 20)

	d, err := New(context.Background(), []string{filepath.Join(dir, "x.gz")}, testSchema, testKeys, "y",
		WithBatchSize(2), WithPrefetch(1))
	require.NoError(t, err)
	_, err = d.Next(context.Background())
	require.NoError(t, err)
	require.NoError(t, d.Close())
}

func TestNextHonorsContext(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, filepath.Join(dir, "x.gz"), 0, 4)

	d, err := New(context.Background(), []string{filepath.Join(dir, "x.gz")}, testSchema, testKeys, "y",
		WithRepeat(false), WithBatchSize(100))
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Next(context.Background())
	require.NoError(t, err)
	_, err = d.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d2, err := New(context.Background(), []string{filepath.Join(dir, "x.gz")}, testSchema, testKeys, "y")
	require.NoError(t, err)
	defer d2.Close()
	_, err = d2.Next(ctx)
	// A batch may already be buffered; either outcome is valid.
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestParentCancelIsNotEOF(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, filepath.Join(dir, "x.gz"), 0, 8)

	for _, repeat := range []bool{true, false} {
		ctx, cancel := context.WithCancel(context.Background())
		d, err := New(ctx, []string{filepath.Join(dir, "x.gz")}, testSchema, testKeys, "y",
			WithRepeat(repeat), WithBatchSize(2), WithPrefetch(1))
		require.NoError(t, err)
		cancel()

		for i := 0; i < 1000 && err == nil; i++ {
			_, err = d.Next(context.Background())
		}
		assert.ErrorIs(t, err, context.Canceled, "repeat=%v", repeat)
		require.NoError(t, d.Close())
	}
}

func TestNilLogger(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, filepath.Join(dir, "x.gz"), 0, 4)
	assert.NotPanics(t, func() {
		d, err := New(context.Background(), []string{filepath.Join(dir, "x.gz")}, testSchema, testKeys, "y",
			WithRepeat(false), WithLogger(nil))
		require.NoError(t, err)
		_, err = d.Next(context.Background())
		assert.NoError(t, err)
		require.NoError(t, d.Close())
	})
}

func TestForEachBounded(t *testing.T) {
	seen := make([]int, 50)
	forEach(50, 3, func(i int) { seen[i] = i * 2 })
	for i, v := range seen {
		assert.Equal(t, i*2, v)
	}
	forEach(0, 3, func(int) { t.Fatal("called") })
}
