// Package testdata generates synthetic bank-marketing records for tests.
package testdata

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/crimson-sun/tabflow/internal/example"
	"github.com/crimson-sun/tabflow/internal/model"
	"github.com/crimson-sun/tabflow/internal/tfrecord"
)

var (
	jobs       = []string{"admin.", "blue-collar", "technician", "services", "management", "retired", "entrepreneur", "self-employed", "housemaid", "unemployed", "student", "unknown"}
	maritals   = []string{"married", "single", "divorced", "unknown"}
	educations = []string{"university.degree", "high.school", "basic.9y", "professional.course", "basic.4y", "basic.6y", "unknown", "illiterate"}
	yesNo      = []string{"no", "yes", "unknown"}
	contacts   = []string{"cellular", "telephone"}
	months     = []string{"may", "jul", "aug", "jun", "nov", "apr", "oct", "sep", "mar", "dec"}
	weekdays   = []string{"mon", "tue", "wed", "thu", "fri"}
	poutcomes  = []string{"nonexistent", "failure", "success"}
)

// BankRecords returns n raw records with string labels. The label depends on
// call duration and previous outcome, so a classifier can learn it. Equal
// seeds give equal records.
func BankRecords(n int, seed int64) []model.Example {
	rng := rand.New(rand.NewSource(seed))
	out := make([]model.Example, n)
	for i := range out {
		duration := int64(rng.ExpFloat64() * 250)
		poutcome := pick(rng, poutcomes)
		score := float64(duration)/300 - 1.5 + rng.NormFloat64()*0.5
		if poutcome == "success" {
			score += 2
		}
		label := "no"
		if score > 0 {
			label = "yes"
		}

		out[i] = model.Example{
			"age":            model.Int64Feature(int64(18 + rng.Intn(70))),
			"campaign":       model.Int64Feature(int64(1 + rng.Intn(10))),
			"pdays":          model.Int64Feature(999),
			"previous":       model.Int64Feature(int64(rng.Intn(3))),
			"emp_var_rate":   model.FloatFeature(float32(rng.NormFloat64()*1.5 + 0.1)),
			"cons_price_idx": model.FloatFeature(float32(93.5 + rng.NormFloat64()*0.6)),
			"cons_conf_idx":  model.FloatFeature(float32(-40 + rng.NormFloat64()*4.6)),
			"euribor3m":      model.FloatFeature(float32(3.6 + rng.NormFloat64()*1.7)),
			"nr_employed":    model.FloatFeature(float32(5167 + rng.NormFloat64()*72)),
			"duration":       model.Int64Feature(duration),
			"job":            model.BytesFeature(pick(rng, jobs)),
			"marital":        model.BytesFeature(pick(rng, maritals)),
			"education":      model.BytesFeature(pick(rng, educations)),
			"default":        model.BytesFeature(pick(rng, yesNo)),
			"housing":        model.BytesFeature(pick(rng, yesNo)),
			"loan":           model.BytesFeature(pick(rng, yesNo)),
			"contact":        model.BytesFeature(pick(rng, contacts)),
			"month":          model.BytesFeature(pick(rng, months)),
			"day_of_week":    model.BytesFeature(pick(rng, weekdays)),
			"poutcome":       model.BytesFeature(poutcome),
			"y":              model.BytesFeature(label),
		}
	}
	return out
}

// WithNumericLabels rewrites "yes"/"no" labels as int64 1/0.
func WithNumericLabels(exs []model.Example) []model.Example {
	out := make([]model.Example, len(exs))
	for i, ex := range exs {
		cp := copyExample(ex)
		var v int64
		if string(ex["y"].Bytes[0]) == "yes" {
			v = 1
		}
		cp["y"] = model.Int64Feature(v)
		out[i] = cp
	}
	return out
}

// WithoutLabel drops the label, as a serving client would.
func WithoutLabel(exs []model.Example) []model.Example {
	out := make([]model.Example, len(exs))
	for i, ex := range exs {
		cp := copyExample(ex)
		delete(cp, "y")
		out[i] = cp
	}
	return out
}

// Serialize encodes each record as a tf.Example.
func Serialize(exs []model.Example) [][]byte {
	out := make([][]byte, len(exs))
	for i, ex := range exs {
		out[i] = example.Marshal(ex)
	}
	return out
}

// WriteTFRecord writes records to path, gzip-compressed when path ends in .gz.
func WriteTFRecord(path string, exs []model.Example) error {
	c := tfrecord.None
	if strings.HasSuffix(path, ".gz") {
		c = tfrecord.Gzip
	}
	if err := tfrecord.WriteFile(path, c, Serialize(exs)); err != nil {
		return fmt.Errorf("testdata: %w", err)
	}
	return nil
}

// PositiveRate returns the fraction of "yes" labels.
func PositiveRate(exs []model.Example) float64 {
	if len(exs) == 0 {
		return 0
	}
	pos := 0
	for _, ex := range exs {
		if string(ex["y"].Bytes[0]) == "yes" {
			pos++
		}
	}
	return float64(pos) / float64(len(exs))
}

func pick(rng *rand.Rand, vals []string) string {
	return vals[rng.Intn(len(vals))]
}

func copyExample(ex model.Example) model.Example {
	cp := make(model.Example, len(ex))
	for k, v := range ex {
		cp[k] = v
	}
	return cp
}
