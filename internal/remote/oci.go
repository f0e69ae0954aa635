package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/cache"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/sourcegraph/conc/pool"

	"github.com/aweris/refcache/internal/archive"
)

const DefaultConcurrency = 4

// Client pulls images and flattens their filesystems.
type Client struct {
	auth        Authenticator
	insecure    bool
	concurrency int
	layers      cache.Cache
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithAuth(auth Authenticator) Option {
	return func(c *Client) { c.auth = auth }
}

// WithInsecure allows plain HTTP registries.
func WithInsecure(insecure bool) Option {
	return func(c *Client) { c.insecure = insecure }
}

// WithConcurrency sets the number of layers fetched in parallel.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithLayerCache stores fetched layers under dir.
func WithLayerCache(dir string) Option {
	return func(c *Client) {
		if dir != "" {
			c.layers = cache.NewFilesystemCache(dir)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient returns a registry client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		concurrency: DefaultConcurrency,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ParseReference parses an image reference such as "ghcr.io/org/repo:tag".
func (c *Client) ParseReference(image string) (name.Reference, error) {
	var opts []name.Option
	if c.insecure {
		opts = append(opts, name.Insecure)
	}
	ref, err := name.ParseReference(image, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid image ref %q: %w", image, err)
	}
	return ref, nil
}

// Image fetches the manifest for ref. Layers are fetched lazily.
func (c *Client) Image(ctx context.Context, ref name.Reference) (v1.Image, error) {
	options, err := c.remoteOptions(ctx, ref)
	if err != nil {
		return nil, err
	}
	img, err := retry(ctx, 3, func() (v1.Image, error) {
		return remote.Image(ref, options...)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch image %s: %w", ref, err)
	}
	if c.layers != nil {
		img = cache.Image(img, c.layers)
	}
	return img, nil
}

// Export writes the flattened filesystem of img to w as a tar stream.
func (c *Client) Export(ctx context.Context, img v1.Image, w io.Writer) (err error) {
	if c.layers != nil {
		if err := c.prefetch(ctx, img); err != nil {
			return err
		}
	}

	rc := mutate.Extract(img)
	defer func() {
		err = errors.Join(err, rc.Close())
	}()

	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("export image: %w", err)
	}
	return nil
}

// OpenMember streams a single file from the flattened filesystem of img.
func (c *Client) OpenMember(ctx context.Context, img v1.Image, member string) (io.ReadCloser, error) {
	rc := mutate.Extract(img)
	r, err := archive.OpenTarMember(rc, member)
	if err != nil {
		return nil, errors.Join(err, rc.Close())
	}
	return &memberReader{Reader: r, closer: rc}, nil
}

// prefetch reads every layer once so the layer cache is populated in parallel
// before the sequential flatten.
func (c *Client) prefetch(ctx context.Context, img v1.Image) error {
	layers, err := img.Layers()
	if err != nil {
		return fmt.Errorf("get layers: %w", err)
	}

	c.logger.Debug("prefetch layers", "count", len(layers))

	p := pool.New().WithMaxGoroutines(c.concurrency).WithContext(ctx).WithCancelOnError()
	for _, layer := range layers {
		p.Go(func(ctx context.Context) error {
			rc, err := layer.Compressed()
			if err != nil {
				return fmt.Errorf("read layer: %w", err)
			}
			_, err = io.Copy(io.Discard, rc)
			if cerr := rc.Close(); cerr != nil {
				return fmt.Errorf("close layer: %w", cerr)
			}
			if err != nil {
				return fmt.Errorf("read layer: %w", err)
			}
			return nil
		})
	}
	return p.Wait()
}

// remoteOptions picks credentials for ref. Explicit credentials win; an
// authenticator returning no username defers to the default keychain.
func (c *Client) remoteOptions(ctx context.Context, ref name.Reference) ([]remote.Option, error) {
	options := []remote.Option{remote.WithContext(ctx)}
	if c.auth != nil {
		registry := ref.Context().RegistryStr()
		username, password, err := c.auth.Authenticate(registry)
		if err != nil {
			return nil, fmt.Errorf("authenticate to %s: %w", registry, err)
		}
		if username != "" {
			return append(options, remote.WithAuth(&authn.Basic{
				Username: username,
				Password: password,
			})), nil
		}
	}
	return append(options, remote.WithAuthFromKeychain(authn.DefaultKeychain)), nil
}

type memberReader struct {
	io.Reader
	closer io.Closer
}

func (m *memberReader) Close() error { return m.closer.Close() }

func retry[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := range maxAttempts {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
		if i < maxAttempts-1 {
			delay := time.Duration(1<<i) * 500 * time.Millisecond // 500ms, 1s, 2s, 4s...
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, lastErr
}

// retryable reports whether err may succeed on a second attempt. Client
// errors such as an unknown manifest or denied access do not.
func retryable(err error) bool {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr.StatusCode == 0 || terr.StatusCode >= 500 || terr.StatusCode == 429
	}
	return true
}

// Unreachable reports whether err means the registry could not be contacted
// at all, as opposed to the registry answering with an error.
func Unreachable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var terr *transport.Error
	if errors.As(err, &terr) && terr.StatusCode != 0 {
		return false
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}
