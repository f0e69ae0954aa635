package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aweris/refcache"
	"github.com/aweris/refcache/internal/compression"
)

// Decompress replaces a compressed file by its decoded content.
// "logs/app.log.gz" is cached as "<dir>/app.log".
type Decompress struct {
	refcache.Base
}

// NewDecompress returns a decompress handler caching under dir.
func NewDecompress(name, dir string, logger *slog.Logger) *Decompress {
	return &Decompress{Base: refcache.NewBase(name, dir, logger)}
}

func (h *Decompress) Resolve(ctx context.Context, ref string, opts refcache.Options) (string, refcache.Options, error) {
	src, inner, ok := refcache.SplitContainerFunc(ref, compression.Extensions(), refcache.IsFile)
	if !ok || !refcache.IsFile(src) {
		return "", opts, nil
	}

	artifact, err := h.Fetch(ctx, src, refcache.Artifact{
		Key: func(src string) (string, error) {
			return compression.TrimExt(filepath.Base(src)), nil
		},
		Write: func(_ context.Context, src string, w io.Writer) error {
			rc, err := openDecoded(src)
			if err != nil {
				return err
			}
			_, err = io.Copy(w, rc)
			return errors.Join(err, rc.Close())
		},
	})
	if err != nil {
		return "", opts, fmt.Errorf("decompress %s: %w", src, err)
	}
	if artifact == "" {
		return "", opts, nil
	}
	return refcache.JoinInner(artifact, inner), opts, nil
}

// Open decodes the file on the fly when the handler has no cache directory.
func (h *Decompress) Open(_ context.Context, ref string, _ refcache.Options) (io.ReadCloser, bool, error) {
	if h.Cached() {
		return nil, false, nil
	}
	src, inner, ok := refcache.SplitContainerFunc(ref, compression.Extensions(), refcache.IsFile)
	if !ok || inner != "" || !refcache.IsFile(src) {
		return nil, false, nil
	}

	rc, err := openDecoded(src)
	if err != nil {
		return nil, false, fmt.Errorf("decompress %s: %w", src, err)
	}
	return rc, true, nil
}

// openDecoded opens src and wraps it with the decoder its suffix names.
func openDecoded(src string) (io.ReadCloser, error) {
	format, ok := compression.Detect(src)
	if !ok {
		return nil, fmt.Errorf("unknown compression suffix: %s", src)
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	rc, err := format.NewReader(f)
	if err != nil {
		return nil, errors.Join(err, f.Close())
	}
	return &stackedReader{Reader: rc, closers: []io.Closer{rc, f}}, nil
}

// stackedReader reads from the outermost reader and closes every layer.
type stackedReader struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReader) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
