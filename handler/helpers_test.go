package handler

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/yeka/zip"

	"github.com/aweris/refcache"
	"github.com/aweris/refcache/internal/compression"
)

// entry is a file placed in a test archive.
type entry struct {
	name string
	body string
}

func tarBytes(t *testing.T, entries ...entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     e.name,
			Mode:     0o644,
			Size:     int64(len(e.body)),
			Typeflag: tar.TypeReg,
		}))
		_, err := io.WriteString(tw, e.body)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func compress(t *testing.T, ext string, data []byte) []byte {
	t.Helper()

	format, ok := compression.Lookup(ext)
	require.True(t, ok, ext)

	var buf bytes.Buffer
	w, err := format.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func writeZip(t *testing.T, path, password string, entries ...entry) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, e := range entries {
		var w io.Writer
		if password != "" {
			w, err = zw.Encrypt(e.name, password, zip.AES256Encryption)
		} else {
			w, err = zw.Create(e.name)
		}
		require.NoError(t, err)
		_, err = io.WriteString(w, e.body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

// writeSource writes a source file dated an hour ago, so artifacts produced
// now are strictly newer in whole seconds.
func writeSource(t *testing.T, path string, data []byte) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	backdate(t, path, time.Hour)
	return path
}

func backdate(t *testing.T, path string, age time.Duration) {
	t.Helper()
	when := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, when, when))
}

// touchFuture makes path newer than anything produced during the test.
func touchFuture(t *testing.T, path string) {
	t.Helper()
	when := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, when, when))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func newCache(t *testing.T, handlers ...string) *refcache.Cache {
	t.Helper()

	c := refcache.New(refcache.WithCacheDir(filepath.Join(t.TempDir(), "cache")))
	require.NoError(t, Register(c, handlers, Config{}))
	return c
}

// recorder records the options it is offered and never applies.
type recorder struct {
	seen []refcache.Options
}

func (p *recorder) Name() string { return "recorder" }

func (p *recorder) Resolve(_ context.Context, _ string, opts refcache.Options) (string, refcache.Options, error) {
	p.seen = append(p.seen, opts.Clone())
	return "", opts, nil
}
