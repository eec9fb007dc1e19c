package serving

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/crimson-sun/tabflow/internal/nn"
	"github.com/crimson-sun/tabflow/internal/transform"
)

// Export layout, relative to the export directory.
const (
	SavedModelFile = "saved_model.json"
	VariablesFile  = "variables/variables.safetensors"
	TransformDir   = "assets/transform"
	MetricsFile    = "metrics.prom"

	formatVersion = 1
)

// ErrInvalidExport is returned when an export directory cannot be loaded.
var ErrInvalidExport = errors.New("serving: invalid export")

// TensorSpec describes one signature input or output.
type TensorSpec struct {
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
}

// Signature is a named callable of the export.
type Signature struct {
	MethodName string                `json:"method_name"`
	Inputs     map[string]TensorSpec `json:"inputs"`
	Outputs    map[string]TensorSpec `json:"outputs"`
}

// LayerSpec summarizes one dense layer.
type LayerSpec struct {
	Units      int    `json:"units"`
	Activation string `json:"activation"`
}

// SavedModel is the content of saved_model.json.
type SavedModel struct {
	FormatVersion int                  `json:"format_version"`
	ID            string               `json:"id"`
	CreatedAt     time.Time            `json:"created_at"`
	Signatures    map[string]Signature `json:"signatures"`
	Inputs        []string             `json:"inputs"`
	Layers        []LayerSpec          `json:"layers"`
	LabelKey      string               `json:"label_key"`
}

// MetricsWriter writes training metrics into the export.
type MetricsWriter interface {
	WriteTextfile(path string) error
}

// Export writes the module to dir. Files are written to a temporary sibling
// directory that is renamed over dir once complete, so readers never see a
// partial export. mw may be nil.
func (m *Module) Export(dir string, mw MetricsWriter) (*SavedModel, error) {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("serving: export: %w", err)
	}
	id := uuid.New()
	tmp := filepath.Join(parent, fmt.Sprintf(".%s-%s", filepath.Base(dir), id))
	sm := m.savedModel(id.String())
	if err := m.writeExport(tmp, sm, mw); err != nil {
		os.RemoveAll(tmp)
		return nil, err
	}

	if err := os.RemoveAll(dir); err != nil {
		os.RemoveAll(tmp)
		return nil, fmt.Errorf("serving: export: %w", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		os.RemoveAll(tmp)
		return nil, fmt.Errorf("serving: export: %w", err)
	}
	return sm, nil
}

func (m *Module) writeExport(dir string, sm *SavedModel, mw MetricsWriter) error {
	if err := os.MkdirAll(filepath.Join(dir, filepath.Dir(VariablesFile)), 0o755); err != nil {
		return fmt.Errorf("serving: export: %w", err)
	}
	if err := m.model.Save(filepath.Join(dir, VariablesFile)); err != nil {
		return fmt.Errorf("serving: export: %w", err)
	}
	if err := m.artifact.Save(filepath.Join(dir, TransformDir)); err != nil {
		return fmt.Errorf("serving: export: %w", err)
	}
	if mw != nil {
		if err := mw.WriteTextfile(filepath.Join(dir, MetricsFile)); err != nil {
			return fmt.Errorf("serving: export: %w", err)
		}
	}

	data, err := json.MarshalIndent(sm, "", "  ")
	if err != nil {
		return fmt.Errorf("serving: export: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, SavedModelFile), data, 0o644); err != nil {
		return fmt.Errorf("serving: export: %w", err)
	}
	return nil
}

func (m *Module) savedModel(id string) *SavedModel {
	sm := &SavedModel{
		FormatVersion: formatVersion,
		ID:            id,
		CreatedAt:     time.Now().UTC(),
		Signatures: map[string]Signature{
			DefaultSignature: {
				MethodName: "tensorflow/serving/predict",
				Inputs:     map[string]TensorSpec{InputKey: {DType: "string", Shape: []int{-1}}},
				Outputs:    map[string]TensorSpec{OutputKey: {DType: "float32", Shape: []int{-1, 1}}},
			},
		},
		Inputs:   m.model.Inputs,
		LabelKey: transform.LabelKey,
	}
	for _, l := range m.model.Layers {
		sm.Layers = append(sm.Layers, LayerSpec{Units: l.Out(), Activation: l.Act.String()})
	}
	return sm
}

// Load reads an export written by Export.
func Load(dir string) (*Module, *SavedModel, error) {
	data, err := os.ReadFile(filepath.Join(dir, SavedModelFile))
	if err != nil {
		return nil, nil, fmt.Errorf("serving: load: %w", err)
	}
	var sm SavedModel
	if err := json.Unmarshal(data, &sm); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidExport, SavedModelFile, err)
	}
	if sm.FormatVersion != formatVersion {
		return nil, nil, fmt.Errorf("%w: unsupported format version %d", ErrInvalidExport, sm.FormatVersion)
	}
	if _, ok := sm.Signatures[DefaultSignature]; !ok {
		return nil, nil, fmt.Errorf("%w: no %s signature", ErrInvalidExport, DefaultSignature)
	}

	art, err := transform.LoadArtifact(filepath.Join(dir, TransformDir))
	if err != nil {
		return nil, nil, fmt.Errorf("serving: load: %w", err)
	}
	net, err := nn.Load(filepath.Join(dir, VariablesFile))
	if err != nil {
		return nil, nil, fmt.Errorf("serving: load: %w", err)
	}
	mod, err := NewModule(art, net)
	if err != nil {
		return nil, nil, err
	}
	return mod, &sm, nil
}
