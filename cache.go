package refcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aweris/refcache/internal/store"
)

// maxRestarts bounds the number of successful transformations in one
// resolution. A chain that keeps producing references past this point has a
// handler that accepts its own output.
const maxRestarts = 256

// Cache is the resolution engine: an ordered handler chain over one cache root.
//
// A Cache is not safe for concurrent use. Two resolutions racing on the same
// cache root can interleave extraction or checkout of the same artifact.
type Cache struct {
	dir      string
	handlers []Handler
	logger   *slog.Logger
}

// Result is the outcome of a resolution.
type Result struct {
	// Ref is the last reference produced by the chain, or the input when no
	// handler applied.
	Ref string
	// Local reports whether Ref exists on the local filesystem.
	Local bool
	// Options holds the option bag after every handler consumed its keys.
	Options Options
}

// New creates an engine with no handlers. The cache root is created on first use.
func New(opts ...CacheOption) *Cache {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return &Cache{
		dir:    options.Dir,
		logger: options.Logger,
	}
}

// Dir returns the cache root, or "" when caching is disabled.
func (c *Cache) Dir() string { return c.dir }

func (c *Cache) Logger() *slog.Logger { return c.logger }

// Subdir returns the cache directory for a handler name. It returns "" when
// the engine has no cache root, which disables caching for that handler.
func (c *Cache) Subdir(name string) string {
	if c.dir == "" {
		return ""
	}
	return filepath.Join(c.dir, name)
}

// EnsureDir creates the cache root if it does not exist.
func (c *Cache) EnsureDir() error {
	if c.dir == "" {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache root: %w", err)
	}
	return nil
}

// Register appends a handler to the chain.
func (c *Cache) Register(h Handler) {
	c.handlers = append(c.handlers, h)
}

// Insert places a handler at index i, shifting later handlers back. An index
// past the end appends.
func (c *Cache) Insert(i int, h Handler) {
	i = max(0, min(i, len(c.handlers)))
	c.handlers = slices.Insert(c.handlers, i, h)
}

// Handlers returns the chain in dispatch order.
func (c *Cache) Handlers() []Handler {
	return slices.Clone(c.handlers)
}

// Handler returns the first registered handler with the given name.
func (c *Cache) Handler(name string) (Handler, bool) {
	for _, h := range c.handlers {
		if h.Name() == name {
			return h, true
		}
	}
	return nil, false
}

type dispatchState int

const (
	stateDispatch dispatchState = iota
	stateRestart
)

// Resolve runs ref through the handler chain until no handler applies.
//
// Each handler is tried in order. When one produces a new reference the chain
// restarts from its head with that reference and the returned options. The
// loop ends once every handler has declined the current reference.
func (c *Cache) Resolve(ctx context.Context, ref string, opts Options) (Result, error) {
	current := ref
	options := opts.Clone()

	i := 0
	restarts := 0
	state := stateDispatch
	for {
		switch state {
		case stateRestart:
			restarts++
			if restarts > maxRestarts {
				return Result{}, fmt.Errorf("resolve %q: %w", ref, ErrNoProgress)
			}
			i = 0
			state = stateDispatch

		case stateDispatch:
			if i >= len(c.handlers) {
				return Result{Ref: current, Local: exists(current), Options: options}, nil
			}

			h := c.handlers[i]
			next, out, err := h.Resolve(ctx, current, options)
			if err != nil {
				return Result{}, &HandlerError{Handler: h.Name(), Ref: current, Err: err}
			}
			if out != nil {
				options = out
			}
			if next == "" {
				i++
				continue
			}

			c.logger.Debug("resolved", "handler", h.Name(), "from", current, "to", next)
			current = next
			state = stateRestart
		}
	}
}

// Open resolves ref and opens the result for reading. Handlers implementing
// Opener get the first chance to stream the final reference, which is how
// handlers without a cache directory serve content.
func (c *Cache) Open(ctx context.Context, ref string, opts Options) (io.ReadCloser, error) {
	res, err := c.Resolve(ctx, ref, opts)
	if err != nil {
		return nil, err
	}

	rc, ok, err := c.stream(ctx, res)
	if err != nil {
		return nil, err
	}
	if ok {
		return rc, nil
	}

	if !res.Local {
		return nil, fmt.Errorf("open %q: %w", ref, ErrNotFound)
	}
	f, err := os.Open(res.Ref)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", res.Ref, err)
	}
	if info, err := f.Stat(); err == nil && info.IsDir() {
		return nil, errors.Join(fmt.Errorf("open %q: is a directory", res.Ref), f.Close())
	}
	return f, nil
}

// stream offers a resolved reference to every Opener in chain order.
func (c *Cache) stream(ctx context.Context, res Result) (io.ReadCloser, bool, error) {
	for _, h := range c.handlers {
		opener, ok := h.(Opener)
		if !ok {
			continue
		}
		rc, ok, err := opener.Open(ctx, res.Ref, res.Options)
		if err != nil {
			return nil, false, &HandlerError{Handler: h.Name(), Ref: res.Ref, Err: err}
		}
		if ok {
			c.logger.Debug("streaming", "handler", h.Name(), "ref", res.Ref)
			return rc, true, nil
		}
	}
	return nil, false, nil
}

// Clear removes cached artifacts. With a name only that handler's
// subdirectory is removed. Without one the whole tree is removed and an empty
// root recreated.
func (c *Cache) Clear(name string) error {
	if c.dir == "" {
		return nil
	}

	if name != "" {
		if err := validKey(name); err != nil {
			return err
		}
		if err := store.RemoveAll(filepath.Join(c.dir, name)); err != nil {
			return fmt.Errorf("clear %s: %w", name, err)
		}
		return nil
	}

	if err := store.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return c.EnsureDir()
}

func exists(ref string) bool {
	if ref == "" || strings.Contains(ref, "://") {
		return false
	}
	_, err := os.Stat(ref)
	return err == nil
}
