package output

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crimson-sun/tabflow/internal/model"
)

func TestFormatPrediction(t *testing.T) {
	p := model.NewPrediction("eval.gz", 3, 0.7)
	assert.Equal(t, 1, p.Class)
	assert.Empty(t, FormatPrediction(p, Minimal).Source)
	assert.Equal(t, p, FormatPrediction(p, Standard))
}

func TestParseVerbosity(t *testing.T) {
	assert.Equal(t, Minimal, ParseVerbosity("minimal"))
	assert.Equal(t, Standard, ParseVerbosity("standard"))
	assert.Equal(t, Standard, ParseVerbosity(""))
}
