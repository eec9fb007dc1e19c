package output

import "github.com/crimson-sun/tabflow/internal/model"

// Verbosity controls which prediction fields are written.
type Verbosity int

const (
	// Minimal omits the source file.
	Minimal Verbosity = iota
	// Standard writes every field.
	Standard
)

// ParseVerbosity maps "minimal" to Minimal and anything else to Standard.
func ParseVerbosity(s string) Verbosity {
	if s == "minimal" {
		return Minimal
	}
	return Standard
}

// FormatPrediction returns a copy of p with fields stripped according to
// verbosity.
func FormatPrediction(p model.Prediction, verbosity Verbosity) model.Prediction {
	if verbosity == Minimal {
		p.Source = ""
	}
	return p
}
