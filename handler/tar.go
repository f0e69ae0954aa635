package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aweris/refcache"
	"github.com/aweris/refcache/internal/archive"
	"github.com/aweris/refcache/internal/compression"
)

// TarExtensions are the tar container extensions, plain and compressed.
var TarExtensions = []string{"tar", "tar.gz", "tgz", "tar.zst", "tar.lz4"}

// NewTar returns an archive handler for tar files. Compressed tars are
// decoded while extracting. The "tar" option names the archive explicitly.
func NewTar(name, dir string, logger *slog.Logger) *Archive {
	return newArchive(name, dir, logger, archiveFormat{
		extensions: TarExtensions,
		option:     refcache.OptTar,
		extract: func(ctx context.Context, src, dir string, _ refcache.Options) error {
			rc, err := openTar(src)
			if err != nil {
				return err
			}
			return errors.Join(archive.ExtractTar(ctx, rc, dir), rc.Close())
		},
		open: func(_ context.Context, src, member string, _ refcache.Options) (io.ReadCloser, error) {
			rc, err := openTar(src)
			if err != nil {
				return nil, err
			}
			r, err := archive.OpenTarMember(rc, member)
			if err != nil {
				return nil, errors.Join(err, rc.Close())
			}
			return &stackedReader{Reader: r, closers: []io.Closer{rc}}, nil
		},
	})
}

// openTar opens src as a tar stream, decoding it when the name carries a
// compression suffix.
func openTar(src string) (io.ReadCloser, error) {
	ext := ""
	if strings.HasSuffix(src, ".tgz") {
		ext = "gz"
	} else if f, ok := compression.Detect(src); ok {
		ext = f.Ext
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	if ext == "" {
		return f, nil
	}

	rc, err := compression.NewReader(ext, f)
	if err != nil {
		return nil, errors.Join(err, f.Close())
	}
	return &stackedReader{Reader: rc, closers: []io.Closer{rc, f}}, nil
}
