package nn

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"
)

const metadataKey = "__metadata__"

type tensorInfo struct {
	Dtype       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

func kernelName(i int) string { return fmt.Sprintf("dense_%d/kernel", i) }
func biasName(i int) string   { return fmt.Sprintf("dense_%d/bias", i) }

// Save writes the model weights as a safetensors file. Kernels are stored
// [in, out] and biases [out], both F32. Input names and activations travel in
// the header metadata.
func (m *Model) Save(path string) error {
	header := make(map[string]any, 2*len(m.Layers)+1)
	acts := make([]string, len(m.Layers))
	for i, l := range m.Layers {
		acts[i] = l.Act.String()
	}
	header[metadataKey] = map[string]string{
		"inputs":      strings.Join(m.Inputs, ","),
		"activations": strings.Join(acts, ","),
	}

	var body bytes.Buffer
	put := func(name string, shape []int, vals []float64) {
		start := body.Len()
		var buf [4]byte
		for _, v := range vals {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(float32(v)))
			body.Write(buf[:])
		}
		header[name] = tensorInfo{Dtype: "F32", Shape: shape, DataOffsets: [2]int{start, body.Len()}}
	}
	for i, l := range m.Layers {
		put(kernelName(i), []int{l.In(), l.Out()}, l.W.RawMatrix().Data)
		put(biasName(i), []int{l.Out()}, l.B)
	}

	hdr, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("nn: encode header: %w", err)
	}
	// Pad the header so tensor data starts 8-byte aligned.
	if pad := len(hdr) % 8; pad != 0 {
		hdr = append(hdr, bytes.Repeat([]byte(" "), 8-pad)...)
	}

	out := make([]byte, 8, 8+len(hdr)+body.Len())
	binary.LittleEndian.PutUint64(out, uint64(len(hdr)))
	out = append(out, hdr...)
	out = append(out, body.Bytes()...)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("nn: %w", err)
	}
	return nil
}

// Load reads a model written by Save. The returned model has a fresh
// optimizer.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nn: %w", err)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("nn: file too small: %d bytes", len(data))
	}
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if uint64(len(data)-8) < headerLen {
		return nil, fmt.Errorf("nn: header length %d exceeds file size", headerLen)
	}
	payload := data[8+headerLen:]

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &header); err != nil {
		return nil, fmt.Errorf("nn: parse header: %w", err)
	}
	var meta map[string]string
	if raw, ok := header[metadataKey]; ok {
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("nn: parse metadata: %w", err)
		}
	}
	var acts []string
	if meta["activations"] != "" {
		acts = strings.Split(meta["activations"], ",")
	}
	if len(acts) == 0 {
		return nil, fmt.Errorf("nn: no layers in %s", path)
	}

	m := &Model{opt: NewAdam(DefaultLearningRate)}
	if meta["inputs"] != "" {
		m.Inputs = strings.Split(meta["inputs"], ",")
	}
	in := len(m.Inputs)
	for i, name := range acts {
		act, err := ParseActivation(name)
		if err != nil {
			return nil, err
		}
		kernel, kshape, err := readTensor(header, payload, kernelName(i))
		if err != nil {
			return nil, err
		}
		bias, bshape, err := readTensor(header, payload, biasName(i))
		if err != nil {
			return nil, err
		}
		if len(kshape) != 2 || kshape[0] != in || len(bshape) != 1 || bshape[0] != kshape[1] {
			return nil, fmt.Errorf("nn: layer %d has shapes %v/%v, expected input width %d", i, kshape, bshape, in)
		}
		m.Layers = append(m.Layers, &Dense{
			W:   mat.NewDense(kshape[0], kshape[1], kernel),
			B:   bias,
			Act: act,
		})
		in = kshape[1]
	}
	if in != 1 {
		return nil, fmt.Errorf("nn: final layer width %d, want 1", in)
	}
	return m, nil
}

func readTensor(header map[string]json.RawMessage, payload []byte, name string) ([]float64, []int, error) {
	raw, ok := header[name]
	if !ok {
		return nil, nil, fmt.Errorf("nn: tensor %q not found in header", name)
	}
	var info tensorInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, nil, fmt.Errorf("nn: parse tensor %q: %w", name, err)
	}
	if info.Dtype != "F32" {
		return nil, nil, fmt.Errorf("nn: tensor %q: expected dtype F32, got %s", name, info.Dtype)
	}
	n := 1
	for _, d := range info.Shape {
		if d <= 0 {
			return nil, nil, fmt.Errorf("nn: tensor %q has shape %v", name, info.Shape)
		}
		n *= d
	}
	start, end := info.DataOffsets[0], info.DataOffsets[1]
	if start < 0 || end > len(payload) || end-start != n*4 {
		return nil, nil, fmt.Errorf("nn: tensor %q data range [%d:%d] doesn't match shape %v", name, start, end, info.Shape)
	}
	vals := make([]float64, n)
	for i := range vals {
		bits := binary.LittleEndian.Uint32(payload[start+i*4:])
		vals[i] = float64(math.Float32frombits(bits))
	}
	return vals, info.Shape, nil
}
