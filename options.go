package refcache

import (
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cast"
)

// Option keys understood by the built-in handlers. Any other key is passed
// through unchanged and ends up in Result.Options.
const (
	OptTar       = "tar"      // container file for the tar handler
	OptZip       = "zip"      // container file for the zip handler
	OptPassword  = "password" // zip password, consumed by the zip handler
	OptGit       = "git"      // repository URL or local path
	OptBranch    = "branch"
	OptRevision  = "revision"
	OptAsOf      = "as_of" // time.Time or a date string
	OptPull      = "pull"  // force a pull of the working directory
	defaultDirNm = "refcache"
)

// Options is the option bag threaded through the handler chain.
//
// Handlers never mutate the bag they receive. A handler that consumes keys
// returns a copy without them.
type Options map[string]any

// Clone returns a shallow copy. Cloning a nil bag returns an empty one.
func (o Options) Clone() Options {
	out := make(Options, len(o))
	maps.Copy(out, o)
	return out
}

// Has reports whether key is present with a non-nil value.
func (o Options) Has(key string) bool {
	v, ok := o[key]
	return ok && v != nil
}

func (o Options) String(key string) string {
	return cast.ToString(o[key])
}

func (o Options) Bool(key string) bool {
	return cast.ToBool(o[key])
}

// Time returns the value of key as a time. A missing key yields the zero time.
func (o Options) Time(key string) (time.Time, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return time.Time{}, nil
	}
	return cast.ToTimeE(v)
}

// Without returns a copy of the bag with keys removed.
func (o Options) Without(keys ...string) Options {
	out := o.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// CacheOptions configures a Cache.
type CacheOptions struct {
	// Dir is the cache root. An empty Dir disables caching for every handler.
	Dir    string
	Logger *slog.Logger
}

// CacheOption is a functional option for configuring New.
type CacheOption func(*CacheOptions)

func defaultOptions() *CacheOptions {
	return &CacheOptions{
		Dir:    DefaultDir(),
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithCacheDir sets the cache root. A leading "~" is expanded.
func WithCacheDir(dir string) CacheOption {
	return func(o *CacheOptions) {
		if expanded, err := homedir.Expand(dir); err == nil {
			dir = expanded
		}
		o.Dir = dir
	}
}

// WithoutCache disables on-disk caching.
func WithoutCache() CacheOption {
	return func(o *CacheOptions) { o.Dir = "" }
}

func WithLogger(logger *slog.Logger) CacheOption {
	return func(o *CacheOptions) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// DefaultDir returns the default cache root.
func DefaultDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, defaultDirNm)
	}
	if home, err := homedir.Dir(); err == nil {
		return filepath.Join(home, ".cache", defaultDirNm)
	}
	return filepath.Join(os.TempDir(), defaultDirNm)
}
