package refcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aweris/refcache/internal/store"
)

// Handler recognizes a reference and transforms it into a new one.
//
// Resolve returns a non-empty next reference when it made progress; the
// engine then restarts the chain from the first handler with next and out.
// An empty next means the handler does not apply. "Does not apply" is never
// an error.
type Handler interface {
	Name() string
	Resolve(ctx context.Context, ref string, opts Options) (next string, out Options, err error)
}

// Opener is implemented by handlers that can stream a reference without
// materializing it on disk. Cache.Open consults openers after resolution.
// ok is false when the handler does not apply.
type Opener interface {
	Open(ctx context.Context, ref string, opts Options) (rc io.ReadCloser, ok bool, err error)
}

// Artifact describes how a handler derives and produces one cached artifact.
// Exactly one of Write, Extract or Update must be set.
type Artifact struct {
	// Key names the artifact inside the handler's cache directory.
	// Defaults to the base name of the source.
	Key func(src string) (string, error)

	// Fresh reports whether an existing artifact may be reused.
	// Defaults to IsFresh.
	Fresh func(artifact, src string) (bool, error)

	// Write streams a single-file artifact. Output is staged in a temporary
	// file and renamed into place.
	Write func(ctx context.Context, src string, w io.Writer) error

	// Extract populates a directory artifact. The directory is removed and
	// recreated empty before every call.
	Extract func(ctx context.Context, src, dir string) error

	// Update manages the artifact path in place.
	Update func(ctx context.Context, src, path string) error
}

// Base carries what every concrete handler shares: its name, its cache
// directory and a logger. Embed it to satisfy Handler.Name.
type Base struct {
	name   string
	dir    string
	logger *slog.Logger
}

// NewBase returns a Base. An empty dir disables caching for the handler.
func NewBase(name, dir string, logger *slog.Logger) Base {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return Base{name: name, dir: dir, logger: logger.With("handler", name)}
}

func (b *Base) Name() string         { return b.name }
func (b *Base) CacheDir() string     { return b.dir }
func (b *Base) Logger() *slog.Logger { return b.logger }

// Cached reports whether the handler persists artifacts.
func (b *Base) Cached() bool { return b.dir != "" }

// Fetch returns the artifact for src, producing it when it is missing or
// stale. It returns "" with a nil error when caching is disabled or when the
// artifact does not exist after production.
func (b *Base) Fetch(ctx context.Context, src string, a Artifact) (string, error) {
	if b.dir == "" {
		return "", nil
	}

	key := filepath.Base(src)
	if a.Key != nil {
		var err error
		if key, err = a.Key(src); err != nil {
			return "", err
		}
	}
	if err := validKey(key); err != nil {
		return "", err
	}

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	path := filepath.Join(b.dir, key)
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		err = b.produce(ctx, src, path, nil, a)
	case err != nil:
		return "", fmt.Errorf("stat artifact: %w", err)
	default:
		fresh := IsFresh
		if a.Fresh != nil {
			fresh = a.Fresh
		}
		var ok bool
		if ok, err = fresh(path, src); err == nil && !ok {
			err = b.produce(ctx, src, path, info, a)
		}
	}
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("stat artifact: %w", err)
	}
	return path, nil
}

func (b *Base) produce(ctx context.Context, src, path string, info fs.FileInfo, a Artifact) error {
	b.logger.Debug("produce artifact", "source", src, "artifact", path)

	switch {
	case a.Write != nil:
		return store.WriteFile(path, func(w io.Writer) error {
			return a.Write(ctx, src, w)
		})

	case a.Extract != nil:
		if info != nil && !info.IsDir() {
			return fmt.Errorf("extract into %s: %w", path, ErrNotDirectory)
		}
		if err := store.ReplaceDir(path); err != nil {
			return err
		}
		if err := a.Extract(ctx, src, path); err != nil {
			return errors.Join(err, store.RemoveAll(path))
		}
		return nil

	case a.Update != nil:
		if info != nil && !info.IsDir() {
			return fmt.Errorf("update %s: %w", path, ErrNotDirectory)
		}
		return a.Update(ctx, src, path)
	}

	return fmt.Errorf("artifact for %s has no producer", src)
}

// IsFresh reports whether artifact is newer than src. Modification times are
// compared in whole seconds and the artifact must be strictly newer.
func IsFresh(artifact, src string) (bool, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return false, err
	}
	artifactInfo, err := os.Stat(artifact)
	if err != nil {
		return false, err
	}
	return artifactInfo.ModTime().Unix() > srcInfo.ModTime().Unix(), nil
}

// NeverFresh forces regeneration on every call.
func NeverFresh(string, string) (bool, error) { return false, nil }

func validKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// IsFile reports whether path names an existing regular file.
func IsFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
