package tfrecord

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// Writer appends records to a TFRecord stream.
type Writer struct {
	w  *bufio.Writer
	zw *gzip.Writer
	f  *os.File
}

// NewWriter wraps w. With Gzip the stream is compressed.
func NewWriter(w io.Writer, c Compression) *Writer {
	wr := &Writer{}
	if c == Gzip {
		wr.zw = gzip.NewWriter(w)
		w = wr.zw
	}
	wr.w = bufio.NewWriter(w)
	return wr
}

// Create creates (or truncates) path and returns a Writer for it.
func Create(path string, c Compression) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("tfrecord: %w", err)
	}
	wr := NewWriter(f, c)
	wr.f = f
	return wr, nil
}

// Write frames and appends a single record.
func (w *Writer) Write(data []byte) error {
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(header[8:], maskedCRC(header[:8]))
	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], maskedCRC(data))

	if _, err := w.w.Write(header[:]); err != nil {
		return fmt.Errorf("tfrecord: write: %w", err)
	}
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("tfrecord: write: %w", err)
	}
	if _, err := w.w.Write(footer[:]); err != nil {
		return fmt.Errorf("tfrecord: write: %w", err)
	}
	return nil
}

// Close flushes buffered data and closes the compressor and file.
func (w *Writer) Close() error {
	err := w.w.Flush()
	if w.zw != nil {
		if cerr := w.zw.Close(); err == nil {
			err = cerr
		}
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("tfrecord: close: %w", err)
	}
	return nil
}

// WriteFile writes records to path in a single call.
func WriteFile(path string, c Compression, records [][]byte) error {
	w, err := Create(path, c)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}
