package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aweris/refcache"
)

// archiveFormat is what distinguishes one archive handler from another.
type archiveFormat struct {
	// extensions recognized in references, tried in order
	extensions []string
	// option naming the container explicitly
	option string
	// consumed lists option keys removed once the archive is resolved
	consumed []string

	extract func(ctx context.Context, src, dir string, opts refcache.Options) error
	open    func(ctx context.Context, src, member string, opts refcache.Options) (io.ReadCloser, error)
}

// Archive extracts archives into a directory named after the archive and
// resolves references into it: "pkg/data.tar/etc/app.yaml" becomes
// "<dir>/data.tar/etc/app.yaml". The directory is wiped and extracted again
// whenever the archive is newer than the extraction.
type Archive struct {
	refcache.Base
	format archiveFormat
}

func newArchive(name, dir string, logger *slog.Logger, format archiveFormat) *Archive {
	return &Archive{Base: refcache.NewBase(name, dir, logger), format: format}
}

// Extensions returns the container extensions the handler recognizes.
func (h *Archive) Extensions() []string {
	return append([]string(nil), h.format.extensions...)
}

// locate finds the container and the member path for ref. An explicit
// container option turns the whole reference into the member path.
// Otherwise the first boundary naming a regular file wins, so members of
// an already extracted archive can themselves be archives.
func (h *Archive) locate(ref string, opts refcache.Options) (container, inner string, ok bool) {
	if h.format.option != "" && opts.Has(h.format.option) {
		return opts.String(h.format.option), ref, true
	}
	return refcache.SplitContainerFunc(ref, h.format.extensions, refcache.IsFile)
}

func (h *Archive) Resolve(ctx context.Context, ref string, opts refcache.Options) (string, refcache.Options, error) {
	container, inner, ok := h.locate(ref, opts)
	if !ok || !refcache.IsFile(container) {
		return "", opts, nil
	}

	artifact, err := h.Fetch(ctx, container, refcache.Artifact{
		Extract: func(ctx context.Context, src, dir string) error {
			return h.format.extract(ctx, src, dir, opts)
		},
	})
	if err != nil {
		return "", opts, fmt.Errorf("extract %s: %w", container, err)
	}
	if artifact == "" {
		return "", opts, nil
	}

	out := opts.Without(append([]string{h.format.option}, h.format.consumed...)...)
	return refcache.JoinInner(artifact, inner), out, nil
}

// Open streams a single member straight from the archive when the handler
// has no cache directory.
func (h *Archive) Open(ctx context.Context, ref string, opts refcache.Options) (io.ReadCloser, bool, error) {
	if h.Cached() {
		return nil, false, nil
	}
	container, inner, ok := h.locate(ref, opts)
	if !ok || inner == "" || !refcache.IsFile(container) {
		return nil, false, nil
	}

	rc, err := h.format.open(ctx, container, inner, opts)
	if err != nil {
		return nil, false, fmt.Errorf("open %s in %s: %w", inner, container, err)
	}
	return rc, true, nil
}
