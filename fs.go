package refcache

import (
	"context"
	"errors"
	"io/fs"
	"os"
)

// FS returns a read-only file system whose names resolve through the engine
// relative to base. base may be a directory, a container such as
// "data/bundle.tar.gz" or an "oci://" image; an empty base resolves names as
// given.
//
// Every Open runs a full resolution, so repeated reads of a fresh artifact
// cost a stat per handler and no extraction.
func (c *Cache) FS(ctx context.Context, base string, opts Options) fs.FS {
	return &resolverFS{ctx: ctx, cache: c, base: base, opts: opts.Clone()}
}

type resolverFS struct {
	ctx   context.Context
	cache *Cache
	base  string
	opts  Options
}

var _ fs.FS = (*resolverFS)(nil)

func (f *resolverFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	ref := name
	if f.base != "" {
		ref = JoinInner(f.base, name)
	}

	res, err := f.cache.Resolve(f.ctx, ref, f.opts)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	if res.Local {
		return os.Open(res.Ref)
	}

	rc, ok, err := f.cache.stream(f.ctx, res)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: errors.Join(ErrNotFound, fs.ErrNotExist)}
	}
	return newStreamFile(name, rc), nil
}
