package testdata

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/tabflow/internal/tfrecord"
)

func TestBankRecordsDeterministic(t *testing.T) {
	a := BankRecords(50, 7)
	b := BankRecords(50, 7)
	assert.Equal(t, Serialize(a), Serialize(b))
}

func TestBankRecordsHaveBothClasses(t *testing.T) {
	recs := BankRecords(500, 1)
	rate := PositiveRate(recs)
	t.Logf("positive rate: %.3f", rate)
	assert.Greater(t, rate, 0.05)
	assert.Less(t, rate, 0.95)

	// Every record carries all 21 raw columns.
	for i, ex := range recs {
		require.Len(t, ex, 21, "record %d", i)
	}
}

func TestWithoutLabel(t *testing.T) {
	recs := BankRecords(3, 1)
	stripped := WithoutLabel(recs)
	for i := range recs {
		assert.Contains(t, recs[i], "y")
		assert.NotContains(t, stripped[i], "y")
	}
}

func TestWithNumericLabels(t *testing.T) {
	recs := BankRecords(20, 3)
	numeric := WithNumericLabels(recs)
	for i := range recs {
		want := int64(0)
		if string(recs[i]["y"].Bytes[0]) == "yes" {
			want = 1
		}
		assert.Equal(t, []int64{want}, numeric[i]["y"].Int64s)
	}
}

func TestWriteTFRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.gz")
	recs := BankRecords(10, 2)
	require.NoError(t, WriteTFRecord(path, recs))

	got, err := tfrecord.ReadAll([]string{path}, tfrecord.Gzip)
	require.NoError(t, err)
	assert.Equal(t, Serialize(recs), got)
}
