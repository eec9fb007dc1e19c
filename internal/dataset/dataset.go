// Package dataset turns a set of transformed TFRecord files into a stream of
// training batches: read, parse, shuffle, repeat, batch, prefetch.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/crimson-sun/tabflow/internal/example"
	"github.com/crimson-sun/tabflow/internal/model"
	"github.com/crimson-sun/tabflow/internal/tfrecord"
)

// ErrEmpty is returned by a repeating dataset whose files hold no records.
var ErrEmpty = errors.New("dataset: files contain no records")

// Batch is one batch of rows. Features columns follow the dataset's feature
// keys. Labels is nil when the dataset has no label key.
type Batch struct {
	Features *mat.Dense
	Labels   []float64
}

// Rows returns the number of rows in the batch.
func (b *Batch) Rows() int {
	if b.Features == nil {
		return len(b.Labels)
	}
	r, _ := b.Features.Dims()
	return r
}

// Dataset streams batches produced by a background goroutine.
type Dataset struct {
	files       []string
	compression tfrecord.Compression
	schema      model.Schema
	featureKeys []string
	labelKey    string
	opts        options

	out    chan *Batch
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// New resolves patterns and starts the input pipeline. It fails with
// tfrecord.ErrNoFiles before starting anything when no file matches.
// Each row is the featureKeys columns of the parsed record, cast to float64;
// a non-empty labelKey is split off as the label.
func New(ctx context.Context, patterns []string, schema model.Schema, featureKeys []string, labelKey string, opts ...Option) (*Dataset, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.batchSize <= 0 {
		o.batchSize = DefaultBatchSize
	}
	if o.prefetch < 0 {
		o.prefetch = 0
	}

	files, err := tfrecord.ResolvePatterns(patterns...)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}

	sub := model.Schema{}
	for _, key := range featureKeys {
		spec, ok := schema.Lookup(key)
		if !ok {
			return nil, fmt.Errorf("dataset: feature %q not in schema", key)
		}
		if spec.Kind == model.KindBytes {
			return nil, fmt.Errorf("dataset: %w: %q is %s, want a numeric kind", example.ErrFeatureType, key, spec.Kind)
		}
		sub.Features = append(sub.Features, spec)
	}
	if labelKey != "" {
		spec, ok := schema.Lookup(labelKey)
		if !ok {
			return nil, fmt.Errorf("dataset: label %q not in schema", labelKey)
		}
		sub.Features = append(sub.Features, spec)
	}

	ctx, cancel := context.WithCancel(ctx)
	d := &Dataset{
		files:       files,
		compression: tfrecord.DetectCompression(files),
		schema:      sub,
		featureKeys: append([]string(nil), featureKeys...),
		labelKey:    labelKey,
		opts:        o,
		out:         make(chan *Batch, o.prefetch),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	o.logger.Debug("dataset started",
		zap.Int("files", len(files)),
		zap.String("compression", d.compression.String()),
		zap.Int("batch_size", o.batchSize),
		zap.Int("shuffle_buffer", o.shuffleBuffer),
		zap.Bool("repeat", o.repeat),
	)
	go d.run(ctx)
	return d, nil
}

// Files returns the resolved input files.
func (d *Dataset) Files() []string { return d.files }

// Next returns the next batch. A finite dataset returns io.EOF after its last
// batch; pipeline failures are returned as they occur. Once the pipeline's
// context is cancelled, Next returns the context error instead of io.EOF.
func (d *Dataset) Next(ctx context.Context) (*Batch, error) {
	select {
	case b, ok := <-d.out:
		if !ok {
			if err := d.failure(); err != nil {
				return nil, err
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the pipeline and waits for its goroutines to exit.
func (d *Dataset) Close() error {
	d.cancel()
	<-d.done
	return nil
}

func (d *Dataset) failure() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Dataset) fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *Dataset) run(ctx context.Context) {
	defer close(d.done)
	defer close(d.out)

	rng := rand.New(rand.NewSource(d.opts.seed))
	b := &batcher{size: d.opts.batchSize, width: len(d.featureKeys), labeled: d.labelKey != ""}
	emit := func(row []float64) error {
		if full := b.add(row); full != nil {
			return d.send(ctx, full)
		}
		return nil
	}

	for epoch := 0; ; epoch++ {
		sh := newShuffler(d.opts.shuffleBuffer, rng)
		rows := 0
		err := d.readEpoch(ctx, func(parsed [][]float64) error {
			rows += len(parsed)
			for _, row := range parsed {
				if out, ok := sh.push(row); ok {
					if err := emit(out); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err == nil {
			for _, row := range sh.drain() {
				if err = emit(row); err != nil {
					break
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			d.fail(err)
			return
		}
		if !d.opts.repeat {
			break
		}
		if rows == 0 {
			d.fail(fmt.Errorf("%w: %v", ErrEmpty, d.files))
			return
		}
		d.opts.logger.Debug("dataset epoch complete", zap.Int("epoch", epoch), zap.Int("rows", rows))
	}
	if last := b.flush(); last != nil {
		if err := d.send(ctx, last); err != nil {
			d.fail(err)
		}
	}
}

func (d *Dataset) send(ctx context.Context, batch *Batch) error {
	select {
	case d.out <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readEpoch reads every file once. Records are gathered into chunks, each
// chunk is split across the parse workers, and parsed rows are handed to fn
// in file order.
func (d *Dataset) readEpoch(ctx context.Context, fn func(rows [][]float64) error) error {
	workers := d.opts.workers
	if workers <= 0 {
		workers = 1
	}
	per := d.opts.batchSize
	chunk := per * workers
	return tfrecord.ForEachBatch(ctx, d.files, d.compression, chunk, func(records [][]byte) error {
		parts := (len(records) + per - 1) / per
		parsed := make([][][]float64, parts)
		errs := make([]error, parts)
		forEach(parts, workers, func(i int) {
			lo := i * per
			hi := min(lo+per, len(records))
			parsed[i], errs[i] = d.parse(records[lo:hi])
		})
		for i := range parsed {
			if errs[i] != nil {
				return errs[i]
			}
			if err := fn(parsed[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// parse decodes records into rows of feature values with the label last.
func (d *Dataset) parse(records [][]byte) ([][]float64, error) {
	cols, err := example.ParseBatch(records, d.schema)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	width := len(d.featureKeys)
	if d.labelKey != "" {
		width++
	}
	rows := make([][]float64, len(records))
	for i := range rows {
		rows[i] = make([]float64, width)
	}
	for j, key := range d.featureKeys {
		for i, v := range cols[key].AsFloat32() {
			rows[i][j] = float64(v)
		}
	}
	if d.labelKey != "" {
		for i, v := range cols[d.labelKey].AsFloat32() {
			rows[i][width-1] = float64(v)
		}
	}
	return rows, nil
}

// shuffler is a fixed-size shuffle buffer: once full, each pushed row
// replaces a uniformly chosen buffered row, which is emitted.
type shuffler struct {
	size int
	buf  [][]float64
	rng  *rand.Rand
}

func newShuffler(size int, rng *rand.Rand) *shuffler {
	return &shuffler{size: size, rng: rng}
}

func (s *shuffler) push(row []float64) ([]float64, bool) {
	if s.size < 2 {
		return row, true
	}
	if len(s.buf) < s.size {
		s.buf = append(s.buf, row)
		return nil, false
	}
	i := s.rng.Intn(len(s.buf))
	out := s.buf[i]
	s.buf[i] = row
	return out, true
}

func (s *shuffler) drain() [][]float64 {
	s.rng.Shuffle(len(s.buf), func(i, j int) { s.buf[i], s.buf[j] = s.buf[j], s.buf[i] })
	out := s.buf
	s.buf = nil
	return out
}

// batcher packs rows into Batches of a fixed size.
type batcher struct {
	size    int
	width   int
	labeled bool
	rows    [][]float64
}

func (b *batcher) add(row []float64) *Batch {
	b.rows = append(b.rows, row)
	if len(b.rows) < b.size {
		return nil
	}
	return b.flush()
}

func (b *batcher) flush() *Batch {
	if len(b.rows) == 0 {
		return nil
	}
	n := len(b.rows)
	data := make([]float64, 0, n*b.width)
	var labels []float64
	if b.labeled {
		labels = make([]float64, n)
	}
	for i, row := range b.rows {
		data = append(data, row[:b.width]...)
		if b.labeled {
			labels[i] = row[b.width]
		}
	}
	b.rows = nil
	var features *mat.Dense
	if b.width > 0 {
		features = mat.NewDense(n, b.width, data)
	}
	return &Batch{Features: features, Labels: labels}
}
