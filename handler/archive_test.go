package handler

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/refcache"
	"github.com/aweris/refcache/internal/archive"
)

func TestTar_Extract(t *testing.T) {
	src := writeSource(t, filepath.Join(t.TempDir(), "bundle.tar"), tarBytes(t,
		entry{name: "etc/app.yaml", body: "port: 8080"},
		entry{name: "README", body: "hi"},
	))
	dir := filepath.Join(t.TempDir(), "tar")
	h := NewTar("tar", dir, nil)

	next, _, err := h.Resolve(context.Background(), src+"/etc/app.yaml", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bundle.tar")+"/etc/app.yaml", next)
	assert.Equal(t, "port: 8080", readFile(t, next))

	next, _, err = h.Resolve(context.Background(), src, nil)
	require.NoError(t, err)
	assert.DirExists(t, next)
}

func TestTar_CompressedVariants(t *testing.T) {
	payload := tarBytes(t, entry{name: "a.txt", body: "payload"})
	cases := map[string][]byte{
		"b.tar.gz":  compress(t, "gz", payload),
		"b.tgz":     compress(t, "gz", payload),
		"b.tar.zst": compress(t, "zst", payload),
		"b.tar.lz4": compress(t, "lz4", payload),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			src := writeSource(t, filepath.Join(t.TempDir(), name), data)
			h := NewTar("tar", filepath.Join(t.TempDir(), "tar"), nil)

			next, _, err := h.Resolve(context.Background(), src+"/a.txt", nil)
			require.NoError(t, err)
			assert.Equal(t, "payload", readFile(t, next))
		})
	}
}

func TestTar_ChainBothOrders(t *testing.T) {
	payload := compress(t, "gz", tarBytes(t, entry{name: "data/f.txt", body: "chained"}))

	for _, order := range [][]string{{"tar", "decompress"}, {"decompress", "tar"}} {
		t.Run(order[0]+"-first", func(t *testing.T) {
			src := writeSource(t, filepath.Join(t.TempDir(), "f.tar.gz"), payload)
			c := newCache(t, order...)

			res, err := c.Resolve(context.Background(), src+"/data/f.txt", nil)
			require.NoError(t, err)
			assert.True(t, res.Local)
			assert.Equal(t, "chained", readFile(t, res.Ref))
		})
	}
}

func TestTar_Idempotent(t *testing.T) {
	src := writeSource(t, filepath.Join(t.TempDir(), "bundle.tar"), tarBytes(t,
		entry{name: "a.txt", body: "a"},
	))
	h := NewTar("tar", filepath.Join(t.TempDir(), "tar"), nil)

	first, _, err := h.Resolve(context.Background(), src, nil)
	require.NoError(t, err)
	marker := filepath.Join(first, "marker")
	require.NoError(t, os.WriteFile(marker, []byte("kept"), 0o644))
	info, err := os.Stat(first)
	require.NoError(t, err)

	second, _, err := h.Resolve(context.Background(), src+"/a.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, first+"/a.txt", second)
	assert.FileExists(t, marker, "untouched archive must not be extracted again")

	again, err := os.Stat(first)
	require.NoError(t, err)
	assert.True(t, os.SameFile(info, again))
}

func TestTar_StaleArchiveReextracts(t *testing.T) {
	src := writeSource(t, filepath.Join(t.TempDir(), "bundle.tar"), tarBytes(t,
		entry{name: "old.txt", body: "old"},
	))
	h := NewTar("tar", filepath.Join(t.TempDir(), "tar"), nil)

	dir, _, err := h.Resolve(context.Background(), src, nil)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "old.txt"))

	require.NoError(t, os.WriteFile(src, tarBytes(t, entry{name: "new.txt", body: "new"}), 0o644))
	touchFuture(t, src)

	dir, _, err = h.Resolve(context.Background(), src, nil)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "new.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "old.txt"), "target is wiped before extraction")
}

func TestTar_ContainerOption(t *testing.T) {
	// The option names the archive even when its name carries no extension.
	src := writeSource(t, filepath.Join(t.TempDir(), "payload.bin"), tarBytes(t, entry{name: "x/y.txt", body: "y"}))
	h := NewTar("tar", filepath.Join(t.TempDir(), "tar"), nil)

	next, out, err := h.Resolve(context.Background(), "x/y.txt", refcache.Options{refcache.OptTar: src, "keep": 1})
	require.NoError(t, err)
	assert.Equal(t, "y", readFile(t, next))
	assert.Equal(t, refcache.Options{"keep": 1}, out)
}

func TestTar_NotApplicable(t *testing.T) {
	dir := t.TempDir()
	h := NewTar("tar", filepath.Join(dir, "cache"), nil)

	for _, ref := range []string{
		filepath.Join(dir, "missing.tar/a.txt"),
		filepath.Join(dir, "plain.txt"),
	} {
		next, _, err := h.Resolve(context.Background(), ref, nil)
		require.NoError(t, err)
		assert.Empty(t, next)
	}

	// An extracted directory named like an archive is not re-extracted.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "done.tar", "a"), 0o755))
	next, _, err := h.Resolve(context.Background(), filepath.Join(dir, "done.tar", "a"), nil)
	require.NoError(t, err)
	assert.Empty(t, next)
}

func TestTar_Nested(t *testing.T) {
	inner := tarBytes(t, entry{name: "conf/app.yaml", body: "nested"})
	src := writeSource(t, filepath.Join(t.TempDir(), "outer.tar"), tarBytes(t,
		entry{name: "pkg/inner.tar", body: string(inner)},
	))
	c := newCache(t, "tar")

	res, err := c.Resolve(context.Background(), src+"/pkg/inner.tar/conf/app.yaml", nil)
	require.NoError(t, err)
	assert.True(t, res.Local)
	assert.Equal(t, "nested", readFile(t, res.Ref))
	assert.Equal(t, filepath.Join(c.Dir(), "tar", "inner.tar", "conf", "app.yaml"), filepath.FromSlash(res.Ref))
}

func TestTar_Corrupt(t *testing.T) {
	src := writeSource(t, filepath.Join(t.TempDir(), "broken.tar.gz"), []byte("not an archive"))
	dir := filepath.Join(t.TempDir(), "tar")
	h := NewTar("tar", dir, nil)

	_, _, err := h.Resolve(context.Background(), src+"/a.txt", nil)
	require.Error(t, err)
	assert.NoDirExists(t, filepath.Join(dir, "broken.tar.gz"), "partial extraction is removed")
}

func TestTar_NoCacheStreamsMember(t *testing.T) {
	src := writeSource(t, filepath.Join(t.TempDir(), "bundle.tar.gz"), compress(t, "gz", tarBytes(t,
		entry{name: "one.txt", body: "1"},
		entry{name: "two.txt", body: "2"},
	)))

	c := refcache.New(refcache.WithoutCache())
	require.NoError(t, Register(c, []string{"tar", "decompress"}, Config{}))

	rc, err := c.Open(context.Background(), src+"/two.txt", nil)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "2", string(data))

	_, err = c.Open(context.Background(), src+"/three.txt", nil)
	require.ErrorIs(t, err, archive.ErrMemberNotFound)
}

func TestZip_Extract(t *testing.T) {
	src := filepath.Join(t.TempDir(), "docs.zip")
	writeZip(t, src, "", entry{name: "guide/intro.md", body: "# intro"})
	backdate(t, src, time.Hour)

	h := NewZip("zip", filepath.Join(t.TempDir(), "zip"), nil)
	next, _, err := h.Resolve(context.Background(), src+"/guide/intro.md", nil)
	require.NoError(t, err)
	assert.Equal(t, "# intro", readFile(t, next))
}

func TestZip_PasswordConsumed(t *testing.T) {
	src := filepath.Join(t.TempDir(), "secret.zip")
	writeZip(t, src, "s3cret", entry{name: "key.txt", body: "hidden"})
	backdate(t, src, time.Hour)

	c := newCache(t, "zip")
	p := &recorder{}
	c.Register(p)

	res, err := c.Resolve(context.Background(), src+"/key.txt", refcache.Options{refcache.OptPassword: "s3cret", "other": "v"})
	require.NoError(t, err)
	assert.Equal(t, "hidden", readFile(t, res.Ref))
	assert.Equal(t, refcache.Options{"other": "v"}, res.Options)

	require.NotEmpty(t, p.seen)
	for _, opts := range p.seen {
		assert.False(t, opts.Has(refcache.OptPassword), "password reached a later handler")
	}
}

func TestZip_WrongPassword(t *testing.T) {
	src := filepath.Join(t.TempDir(), "secret.zip")
	writeZip(t, src, "s3cret", entry{name: "key.txt", body: "hidden"})
	backdate(t, src, time.Hour)

	c := newCache(t, "zip")
	_, err := c.Resolve(context.Background(), src+"/key.txt", refcache.Options{refcache.OptPassword: "nope"})
	require.Error(t, err)

	var herr *refcache.HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "zip", herr.Handler)

	_, err = c.Resolve(context.Background(), src+"/key.txt", nil)
	require.ErrorIs(t, err, archive.ErrPasswordMissing)
}

func TestZip_NoCacheStreamsMember(t *testing.T) {
	src := filepath.Join(t.TempDir(), "secret.zip")
	writeZip(t, src, "pw", entry{name: "a/b.txt", body: "member"})

	h := NewZip("zip", "", nil)
	rc, ok, err := h.Open(context.Background(), src+"/a/b.txt", refcache.Options{refcache.OptPassword: "pw"})
	require.NoError(t, err)
	require.True(t, ok)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "member", string(data))
}
