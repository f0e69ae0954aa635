// Package compression maps file suffixes to stream codecs.
package compression

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Format is a stream compression format recognized by its file suffix.
type Format struct {
	Name string
	Ext  string // suffix without the leading dot

	NewReader func(r io.Reader) (io.ReadCloser, error)
	NewWriter func(w io.Writer) (io.WriteCloser, error)
}

var formats = []Format{
	{Name: "gzip", Ext: "gz", NewReader: newGzipReader, NewWriter: newGzipWriter},
	{Name: "zstd", Ext: "zst", NewReader: newZstdReader, NewWriter: newZstdWriter},
	{Name: "lz4", Ext: "lz4", NewReader: newLZ4Reader, NewWriter: newLZ4Writer},
}

// Formats returns the supported formats.
func Formats() []Format {
	out := make([]Format, len(formats))
	copy(out, formats)
	return out
}

// Extensions returns the suffixes of all supported formats.
func Extensions() []string {
	exts := make([]string, 0, len(formats))
	for _, f := range formats {
		exts = append(exts, f.Ext)
	}
	return exts
}

// Lookup returns the format for a suffix such as "gz".
func Lookup(ext string) (Format, bool) {
	ext = strings.TrimPrefix(ext, ".")
	for _, f := range formats {
		if f.Ext == ext {
			return f, true
		}
	}
	return Format{}, false
}

// Detect returns the format whose suffix name ends with.
func Detect(name string) (Format, bool) {
	for _, f := range formats {
		if strings.HasSuffix(name, "."+f.Ext) {
			return f, true
		}
	}
	return Format{}, false
}

// TrimExt strips one compression suffix: "data.csv.gz" becomes "data.csv".
// Names without a known suffix are returned unchanged.
func TrimExt(name string) string {
	if f, ok := Detect(name); ok {
		return strings.TrimSuffix(name, "."+f.Ext)
	}
	return name
}

// NewReader wraps r with the decoder for ext.
func NewReader(ext string, r io.Reader) (io.ReadCloser, error) {
	f, ok := Lookup(ext)
	if !ok {
		return nil, fmt.Errorf("unsupported compression: %q", ext)
	}
	return f.NewReader(r)
}

func newGzipReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	return zr, nil
}

func newGzipWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

func newZstdReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return dec.IOReadCloser(), nil
}

func newZstdWriter(w io.Writer) (io.WriteCloser, error) {
	enc, err := zstd.NewWriter(w,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	return enc, nil
}

func newLZ4Reader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

func newLZ4Writer(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}
