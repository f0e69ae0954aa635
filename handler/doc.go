// Package handler provides the built-in resolution handlers:
//
//   - decompress: gzip, zstd and lz4 files, cached without their suffix
//   - tar, zip: archives extracted into a directory per archive
//   - oci: images in OCI registries, flattened into a tar file
//   - git: working directories checked out from a repository
//
// Each handler owns the cache subdirectory it was constructed with and never
// writes outside it. Handlers built without a cache directory do not persist
// anything; the decompress, archive and oci handlers then serve content
// through refcache.Opener instead.
//
// Typical setup:
//
//	c := refcache.New(refcache.WithCacheDir("~/.cache/refcache"))
//	if err := handler.Default(c, handler.Config{}); err != nil {
//	    return err
//	}
//	res, err := c.Resolve(ctx, "s/data.tar.gz/config/app.yaml", nil)
package handler
