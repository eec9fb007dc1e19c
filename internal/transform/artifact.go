package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/crimson-sun/tabflow/internal/model"
)

// Artifact layout, relative to the transform output directory.
const (
	statisticsFile        = "transform_fn/statistics.json"
	assetsDir             = "transform_fn/assets"
	rawSchemaFile         = "metadata/schema.json"
	transformedSchemaFile = "transformed_metadata/schema.json"

	artifactVersion = 1
)

// ErrInvalidArtifact is returned when a persisted artifact fails validation.
var ErrInvalidArtifact = errors.New("transform: invalid artifact")

// Artifact is the fitted transform: the statistics computed over the
// training corpus plus the raw and transformed schemas.
type Artifact struct {
	RawSchema         model.Schema
	TransformedSchema model.Schema
	NumRows           int64
	TopK              int
	Moments           map[string]Moments
	Vocabularies      map[string]*Vocabulary
}

// RawFeatureSpec returns the schema records are parsed with before transform.
func (a *Artifact) RawFeatureSpec() model.Schema { return a.RawSchema }

// TransformedFeatureSpec returns the schema of transformed records.
func (a *Artifact) TransformedFeatureSpec() model.Schema { return a.TransformedSchema }

// FeatureKeys returns the transformed feature names a model consumes: every
// transformed feature except the label, in schema order.
func (a *Artifact) FeatureKeys() []string {
	var keys []string
	for _, spec := range a.TransformedSchema.Features {
		if spec.Name != LabelKey {
			keys = append(keys, spec.Name)
		}
	}
	return keys
}

// Transform applies the artifact to a batch of raw columns.
func (a *Artifact) Transform(inputs model.Columns) (model.Columns, error) {
	return Preprocess(inputs, a)
}

type statisticsDoc struct {
	Version       int                `json:"version"`
	NumRows       int64              `json:"num_rows"`
	TopK          int                `json:"top_k"`
	NumOOVBuckets int                `json:"num_oov_buckets"`
	Numeric       map[string]Moments `json:"numeric"`
	Vocabularies  map[string]string  `json:"vocabularies"`
}

type schemaDoc struct {
	Features []model.FeatureSpec `json:"features"`
}

// Save writes the artifact under dir, creating it if needed.
func (a *Artifact) Save(dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, assetsDir), 0o755); err != nil {
		return fmt.Errorf("transform: save: %w", err)
	}
	for _, sub := range []string{rawSchemaFile, transformedSchemaFile} {
		if err := os.MkdirAll(filepath.Dir(filepath.Join(dir, sub)), 0o755); err != nil {
			return fmt.Errorf("transform: save: %w", err)
		}
	}

	doc := statisticsDoc{
		Version:       artifactVersion,
		NumRows:       a.NumRows,
		TopK:          a.TopK,
		NumOOVBuckets: NumOOVBuckets,
		Numeric:       a.Moments,
		Vocabularies:  make(map[string]string, len(a.Vocabularies)),
	}
	for key, v := range a.Vocabularies {
		rel := "assets/vocab_" + key
		if err := v.write(filepath.Join(dir, "transform_fn", rel)); err != nil {
			return fmt.Errorf("transform: save %s: %w", key, err)
		}
		doc.Vocabularies[key] = rel
	}

	if err := writeJSON(filepath.Join(dir, statisticsFile), doc); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, rawSchemaFile), schemaDoc{Features: specsOrEmpty(a.RawSchema)}); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, transformedSchemaFile), schemaDoc{Features: specsOrEmpty(a.TransformedSchema)})
}

// LoadArtifact reads an artifact written by Save. Every JSON document is
// validated before it is decoded.
func LoadArtifact(dir string) (*Artifact, error) {
	var stats statisticsDoc
	if err := readJSON(filepath.Join(dir, statisticsFile), statisticsSchema, &stats); err != nil {
		return nil, err
	}
	if stats.Version != artifactVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidArtifact, stats.Version)
	}

	var raw, transformed schemaDoc
	if err := readJSON(filepath.Join(dir, rawSchemaFile), featureSchemaSchema, &raw); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, transformedSchemaFile), featureSchemaSchema, &transformed); err != nil {
		return nil, err
	}

	art := &Artifact{
		RawSchema:         model.Schema{Features: raw.Features},
		TransformedSchema: model.Schema{Features: transformed.Features},
		NumRows:           stats.NumRows,
		TopK:              stats.TopK,
		Moments:           stats.Numeric,
		Vocabularies:      make(map[string]*Vocabulary, len(stats.Vocabularies)),
	}
	if art.Moments == nil {
		art.Moments = make(map[string]Moments)
	}
	for key, rel := range stats.Vocabularies {
		if strings.Contains(rel, "..") {
			return nil, fmt.Errorf("%w: vocabulary path %q escapes artifact", ErrInvalidArtifact, rel)
		}
		v, err := loadVocabulary(filepath.Join(dir, "transform_fn", rel))
		if err != nil {
			return nil, fmt.Errorf("transform: load %s: %w", key, err)
		}
		art.Vocabularies[key] = v
	}
	return art, nil
}

func specsOrEmpty(s model.Schema) []model.FeatureSpec {
	if s.Features == nil {
		return []model.FeatureSpec{}
	}
	return s.Features
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("transform: marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("transform: %w", err)
	}
	return nil
}

func readJSON(path, schema string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("transform: %w", err)
	}
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArtifact, filepath.Base(path), err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s: %s", ErrInvalidArtifact, path, strings.Join(msgs, "; "))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArtifact, path, err)
	}
	return nil
}

const statisticsSchema = `{
  "type": "object",
  "required": ["version", "num_rows", "top_k", "numeric", "vocabularies"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "num_rows": {"type": "integer", "minimum": 0},
    "top_k": {"type": "integer", "minimum": 0},
    "num_oov_buckets": {"type": "integer", "minimum": 1},
    "numeric": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["count", "mean", "variance"],
        "properties": {
          "count": {"type": "number", "minimum": 0},
          "mean": {"type": "number"},
          "variance": {"type": "number", "minimum": 0}
        }
      }
    },
    "vocabularies": {
      "type": "object",
      "additionalProperties": {"type": "string", "minLength": 1}
    }
  }
}`

const featureSchemaSchema = `{
  "type": "object",
  "required": ["features"],
  "properties": {
    "features": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "kind"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "kind": {"enum": ["bytes", "float", "int64"]}
        }
      }
    }
  }
}`
