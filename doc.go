// Package refcache resolves logical file references into local paths,
// caching every intermediate result.
//
// A reference may name a plain file, a compressed file, a member of an
// archive, a file inside an OCI image or a file in a git repository. The
// engine runs the reference through an ordered chain of handlers. Whenever a
// handler produces a new reference the chain restarts from its first handler,
// so "oci://ghcr.io/org/assets:v1/data.tar.gz/config.yaml" is pulled,
// flattened, decompressed and extracted in one call.
//
// Basic usage:
//
//	c := refcache.New(refcache.WithCacheDir("~/.cache/refcache"))
//	if err := handler.Default(c, handler.Config{}); err != nil {
//	    return err
//	}
//
//	// Resolve to a local path
//	res, _ := c.Resolve(ctx, "logs/2024.tar.gz/app/server.log", nil)
//	fmt.Println(res.Ref, res.Local)
//
//	// Options steer handlers and are consumed as they apply
//	res, _ = c.Resolve(ctx, "secrets/key.txt", refcache.Options{
//	    refcache.OptZip:      "bundle.zip",
//	    refcache.OptPassword: "s3cret",
//	})
//
//	// Files in a git repository as of a date
//	res, _ = c.Resolve(ctx, "config/prod.yaml", refcache.Options{
//	    refcache.OptGit:  "https://github.com/org/settings.git",
//	    refcache.OptAsOf: "2024-01-01",
//	})
//
//	// Read content, streaming when caching is disabled
//	rc, _ := c.Open(ctx, "data/events.json.zst", nil)
//
//	// Browse a container as a file system
//	fsys := c.FS(ctx, "site.tar.gz", nil)
//	data, _ := fs.ReadFile(fsys, "index.html")
//
// Cache layout:
//
//	<root>/<handler>/<artifact>
//
// Artifacts are named after their source and regenerated when the source
// is newer. Modification times are compared in whole seconds. Clear removes
// one handler's directory or the whole tree.
package refcache
