package refcache

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// funcHandler adapts a function to Handler and records every reference it sees.
type funcHandler struct {
	name  string
	fn    func(ref string, opts Options) (string, Options, error)
	calls *[]string
}

func (h funcHandler) Name() string { return h.name }

func (h funcHandler) Resolve(_ context.Context, ref string, opts Options) (string, Options, error) {
	if h.calls != nil {
		*h.calls = append(*h.calls, h.name+":"+ref)
	}
	return h.fn(ref, opts)
}

// rewrite returns a handler turning from into to and declining everything else.
func rewrite(name, from, to string, calls *[]string) funcHandler {
	return funcHandler{name: name, calls: calls, fn: func(ref string, opts Options) (string, Options, error) {
		if ref == from {
			return to, opts, nil
		}
		return "", opts, nil
	}}
}

func TestCache_RestartsAtHead(t *testing.T) {
	var calls []string
	c := New(WithoutCache())
	c.Register(rewrite("first", "b", "c", &calls))
	c.Register(rewrite("second", "a", "b", &calls))

	res, err := c.Resolve(context.Background(), "a", nil)
	require.NoError(t, err)
	assert.Equal(t, "c", res.Ref)
	assert.False(t, res.Local)
	assert.Equal(t, []string{
		"first:a", "second:a",
		"first:b",
		"first:c", "second:c",
	}, calls)
}

func TestCache_NoHandlerApplies(t *testing.T) {
	c := New(WithoutCache())
	c.Register(rewrite("noop", "x", "y", nil))

	file := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	res, err := c.Resolve(context.Background(), file, Options{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, file, res.Ref)
	assert.True(t, res.Local)
	assert.Equal(t, Options{"k": "v"}, res.Options)

	res, err = c.Resolve(context.Background(), "oci://registry/repo:tag", nil)
	require.NoError(t, err)
	assert.False(t, res.Local)
}

func TestCache_OptionsThreaded(t *testing.T) {
	c := New(WithoutCache())
	c.Register(funcHandler{name: "consume", fn: func(ref string, opts Options) (string, Options, error) {
		if !opts.Has("secret") {
			return "", opts, nil
		}
		return ref + "/out", opts.Without("secret"), nil
	}})

	in := Options{"secret": "pw", "other": 1}
	res, err := c.Resolve(context.Background(), "ref", in)
	require.NoError(t, err)
	assert.Equal(t, "ref/out", res.Ref)
	assert.Equal(t, Options{"other": 1}, res.Options)
	assert.Equal(t, Options{"secret": "pw", "other": 1}, in, "caller options are not mutated")
}

func TestCache_Insert(t *testing.T) {
	c := New(WithoutCache())
	c.Register(rewrite("b", "", "", nil))
	c.Insert(0, rewrite("a", "", "", nil))
	c.Insert(99, rewrite("d", "", "", nil))
	c.Insert(2, rewrite("c", "", "", nil))
	c.Insert(-1, rewrite("head", "", "", nil))

	var names []string
	for _, h := range c.Handlers() {
		names = append(names, h.Name())
	}
	assert.Equal(t, []string{"head", "a", "b", "c", "d"}, names)

	h, ok := c.Handler("c")
	require.True(t, ok)
	assert.Equal(t, "c", h.Name())
	_, ok = c.Handler("missing")
	assert.False(t, ok)
}

func TestCache_InsertedHandlerRunsFirst(t *testing.T) {
	c := New(WithoutCache())
	c.Register(rewrite("late", "a", "late", nil))
	c.Insert(0, rewrite("early", "a", "early", nil))

	res, err := c.Resolve(context.Background(), "a", nil)
	require.NoError(t, err)
	assert.Equal(t, "early", res.Ref)
}

func TestCache_HandlerError(t *testing.T) {
	boom := errors.New("boom")
	c := New(WithoutCache())
	c.Register(rewrite("step", "a", "b", nil))
	c.Register(funcHandler{name: "broken", fn: func(ref string, opts Options) (string, Options, error) {
		if ref == "b" {
			return "", nil, boom
		}
		return "", opts, nil
	}})

	_, err := c.Resolve(context.Background(), "a", nil)
	require.ErrorIs(t, err, boom)

	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "broken", herr.Handler)
	assert.Equal(t, "b", herr.Ref)
	assert.Contains(t, err.Error(), "broken handler")
}

func TestCache_NoProgress(t *testing.T) {
	c := New(WithoutCache())
	c.Register(funcHandler{name: "grow", fn: func(ref string, opts Options) (string, Options, error) {
		return ref + "x", opts, nil
	}})

	_, err := c.Resolve(context.Background(), "a", nil)
	require.ErrorIs(t, err, ErrNoProgress)
}

type streamHandler struct {
	funcHandler
	content string
}

func (h streamHandler) Open(_ context.Context, ref string, _ Options) (io.ReadCloser, bool, error) {
	if !strings.HasPrefix(ref, "mem://") {
		return nil, false, nil
	}
	return io.NopCloser(strings.NewReader(h.content)), true, nil
}

func TestCache_Open(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(file, []byte("on disk"), 0o644))

	c := New(WithoutCache())
	c.Register(rewrite("alias", "alias", file, nil))
	c.Register(streamHandler{funcHandler: rewrite("mem", "", "", nil), content: "in memory"})
	ctx := context.Background()

	read := func(ref string) string {
		rc, err := c.Open(ctx, ref, nil)
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		return string(data)
	}
	assert.Equal(t, "on disk", read("alias"))
	assert.Equal(t, "in memory", read("mem://anything"))

	_, err := c.Open(ctx, filepath.Join(dir, "missing.txt"), nil)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = c.Open(ctx, dir, nil)
	require.Error(t, err)
}

func TestCache_Clear(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	c := New(WithCacheDir(root))
	require.NoError(t, c.EnsureDir())

	for _, name := range []string{"tar", "zip"} {
		require.NoError(t, os.MkdirAll(filepath.Join(c.Subdir(name), "artifact"), 0o755))
	}

	require.NoError(t, c.Clear("tar"))
	assert.NoDirExists(t, c.Subdir("tar"))
	assert.DirExists(t, c.Subdir("zip"))

	require.NoError(t, c.Clear(""))
	assert.DirExists(t, root)
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.ErrorIs(t, c.Clear("../escape"), ErrInvalidKey)
}

func TestCache_WithoutCacheDir(t *testing.T) {
	c := New(WithoutCache())
	assert.Empty(t, c.Subdir("tar"))
	assert.NoError(t, c.EnsureDir())
	assert.NoError(t, c.Clear(""))
}
