// Package tfrecord reads and writes the TFRecord container format:
//
//	uint64 length
//	uint32 masked crc32c of length
//	byte   data[length]
//	uint32 masked crc32c of data
//
// All integers are little-endian. Files may be gzip-compressed as a whole.
package tfrecord

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// ErrCorrupt is returned when framing or checksums do not match.
var ErrCorrupt = errors.New("tfrecord: corrupt record")

// maxRecordLen guards against allocating absurd buffers on garbage input.
const maxRecordLen = 1 << 30

// Reader reads records sequentially from a TFRecord stream.
type Reader struct {
	r      *bufio.Reader
	closer []io.Closer
	header [12]byte
	footer [4]byte
}

// NewReader wraps r. With Gzip the stream is decompressed first.
func NewReader(r io.Reader, c Compression) (*Reader, error) {
	rd := &Reader{}
	if c == Gzip {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("tfrecord: gzip: %w", err)
		}
		rd.closer = append(rd.closer, zr)
		r = zr
	}
	rd.r = bufio.NewReaderSize(r, 256*1024)
	return rd, nil
}

// Open opens a TFRecord file for reading.
func Open(path string, c Compression) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tfrecord: %w", err)
	}
	rd, err := NewReader(f, c)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	rd.closer = append(rd.closer, f)
	return rd, nil
}

// Next returns the next record, or io.EOF at a clean end of stream.
// The returned slice is owned by the caller.
func (r *Reader) Next() ([]byte, error) {
	if _, err := io.ReadFull(r.r, r.header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: short header: %v", ErrCorrupt, err)
	}
	length := binary.LittleEndian.Uint64(r.header[:8])
	if maskedCRC(r.header[:8]) != binary.LittleEndian.Uint32(r.header[8:]) {
		return nil, fmt.Errorf("%w: length checksum mismatch", ErrCorrupt)
	}
	if length > maxRecordLen {
		return nil, fmt.Errorf("%w: record length %d too large", ErrCorrupt, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, fmt.Errorf("%w: short data: %v", ErrCorrupt, err)
	}
	if _, err := io.ReadFull(r.r, r.footer[:]); err != nil {
		return nil, fmt.Errorf("%w: short footer: %v", ErrCorrupt, err)
	}
	if maskedCRC(data) != binary.LittleEndian.Uint32(r.footer[:]) {
		return nil, fmt.Errorf("%w: data checksum mismatch", ErrCorrupt)
	}
	return data, nil
}

// Close releases the decompressor and underlying file, if any.
func (r *Reader) Close() error {
	var first error
	for _, c := range r.closer {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ReadAll reads every record of every file in order.
func ReadAll(files []string, c Compression) ([][]byte, error) {
	var out [][]byte
	for _, path := range files {
		rd, err := Open(path, c)
		if err != nil {
			return nil, err
		}
		for {
			rec, err := rd.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				rd.Close()
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			out = append(out, rec)
		}
		rd.Close()
	}
	return out, nil
}

// ForEachBatch streams the records of files in order, handing them to fn in
// slices of at most size records. It stops at the first error from fn or when
// ctx is done.
func ForEachBatch(ctx context.Context, files []string, c Compression, size int, fn func(batch [][]byte) error) error {
	if size <= 0 {
		size = 1
	}
	batch := make([][]byte, 0, size)
	for _, path := range files {
		rd, err := Open(path, c)
		if err != nil {
			return err
		}
		for {
			rec, err := rd.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				rd.Close()
				return fmt.Errorf("%s: %w", path, err)
			}
			batch = append(batch, rec)
			if len(batch) == size {
				if err := ctx.Err(); err != nil {
					rd.Close()
					return err
				}
				if err := fn(batch); err != nil {
					rd.Close()
					return err
				}
				batch = make([][]byte, 0, size)
			}
		}
		rd.Close()
	}
	if len(batch) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(batch)
	}
	return nil
}
