package tfrecord

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoFiles is returned when a file set resolves to no files.
var ErrNoFiles = errors.New("tfrecord: no TFRecord files found")

// Compression selects the container encoding of a TFRecord file.
type Compression int

const (
	None Compression = iota
	Gzip
)

func (c Compression) String() string {
	if c == Gzip {
		return "GZIP"
	}
	return ""
}

// ResolvePatterns expands glob patterns (or literal paths) into a flat list
// of files. Matches of each pattern are sorted; pattern order is kept.
// It fails with ErrNoFiles, naming the patterns, when nothing matches.
func ResolvePatterns(patterns ...string) ([]string, error) {
	var files []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("tfrecord: bad pattern %q: %w", p, err)
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w for pattern(s): %s", ErrNoFiles, strings.Join(patterns, ", "))
	}
	return files, nil
}

// DetectCompression reports Gzip when any file in the set has a .gz suffix.
// TFX writes compressed splits as *.gz; one decision applies to the whole set.
func DetectCompression(files []string) Compression {
	for _, f := range files {
		if strings.HasSuffix(f, ".gz") {
			return Gzip
		}
	}
	return None
}
