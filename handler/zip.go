package handler

import (
	"context"
	"io"
	"log/slog"

	"github.com/aweris/refcache"
	"github.com/aweris/refcache/internal/archive"
)

// ZipExtensions are the zip container extensions.
var ZipExtensions = []string{"zip"}

// NewZip returns an archive handler for zip files. The "zip" option names the
// archive explicitly. The "password" option opens encrypted entries and is
// consumed once the archive resolves, so it never reaches later handlers.
func NewZip(name, dir string, logger *slog.Logger) *Archive {
	return newArchive(name, dir, logger, archiveFormat{
		extensions: ZipExtensions,
		option:     refcache.OptZip,
		consumed:   []string{refcache.OptPassword},
		extract: func(ctx context.Context, src, dir string, opts refcache.Options) error {
			return archive.ExtractZip(ctx, src, dir, opts.String(refcache.OptPassword))
		},
		open: func(_ context.Context, src, member string, opts refcache.Options) (io.ReadCloser, error) {
			return archive.OpenZipMember(src, member, opts.String(refcache.OptPassword))
		},
	})
}
