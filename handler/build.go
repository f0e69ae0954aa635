package handler

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/aweris/refcache"
)

// DefaultOrder is the chain registered by Default. Remote sources come first
// so their output flows through the archive and decompress handlers.
var DefaultOrder = []string{"oci", "git", "tar", "zip", "decompress"}

// Config carries the settings handler constructors need.
type Config struct {
	// Logger defaults to the engine's logger.
	Logger *slog.Logger

	GitExecutable string

	OCIInsecure    bool
	OCIConcurrency int
	OCIAuth        Authenticator
}

type factory func(name, dir string, cfg Config) refcache.Handler

var factories = map[string]factory{
	"decompress": func(name, dir string, cfg Config) refcache.Handler {
		return NewDecompress(name, dir, cfg.Logger)
	},
	"tar": func(name, dir string, cfg Config) refcache.Handler {
		return NewTar(name, dir, cfg.Logger)
	},
	"zip": func(name, dir string, cfg Config) refcache.Handler {
		return NewZip(name, dir, cfg.Logger)
	},
	"git": func(name, dir string, cfg Config) refcache.Handler {
		return NewGit(name, dir, cfg.Logger, cfg.GitExecutable)
	},
	"oci": func(name, dir string, cfg Config) refcache.Handler {
		opts := []OCIOption{
			WithInsecureRegistry(cfg.OCIInsecure),
			WithLayerConcurrency(cfg.OCIConcurrency),
		}
		if cfg.OCIAuth != nil {
			opts = append(opts, WithRegistryAuth(cfg.OCIAuth))
		}
		return NewOCI(name, dir, cfg.Logger, opts...)
	},
}

// Names returns the names Build understands, sorted.
func Names() []string {
	return slices.Sorted(maps.Keys(factories))
}

// Build constructs the named handlers in order. Each one caches under the
// engine's subdirectory for its name.
func Build(c *refcache.Cache, names []string, cfg Config) ([]refcache.Handler, error) {
	if cfg.Logger == nil {
		cfg.Logger = c.Logger()
	}

	handlers := make([]refcache.Handler, 0, len(names))
	for _, name := range names {
		newHandler, ok := factories[name]
		if !ok {
			return nil, fmt.Errorf("unknown handler %q, expected one of %v", name, Names())
		}
		handlers = append(handlers, newHandler(name, c.Subdir(name), cfg))
	}
	return handlers, nil
}

// Register builds the named handlers and appends them to c.
func Register(c *refcache.Cache, names []string, cfg Config) error {
	handlers, err := Build(c, names, cfg)
	if err != nil {
		return err
	}
	for _, h := range handlers {
		c.Register(h)
	}
	return nil
}

// Default registers DefaultOrder on c.
func Default(c *refcache.Cache, cfg Config) error {
	return Register(c, DefaultOrder, cfg)
}
