package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/aweris/refcache"
	"github.com/aweris/refcache/internal/remote"
	"github.com/aweris/refcache/internal/store"
)

// Authenticator provides registry credentials to the OCI handler.
type Authenticator = remote.Authenticator

// OCIOption configures the OCI handler.
type OCIOption func(*ociOptions)

type ociOptions struct {
	client []remote.Option
}

// WithRegistryAuth sets explicit credentials. Without it the default docker
// keychain is used.
func WithRegistryAuth(auth Authenticator) OCIOption {
	return func(o *ociOptions) { o.client = append(o.client, remote.WithAuth(auth)) }
}

// WithInsecureRegistry allows plain HTTP registries.
func WithInsecureRegistry(insecure bool) OCIOption {
	return func(o *ociOptions) { o.client = append(o.client, remote.WithInsecure(insecure)) }
}

// WithLayerConcurrency sets the number of layers fetched in parallel.
func WithLayerConcurrency(n int) OCIOption {
	return func(o *ociOptions) { o.client = append(o.client, remote.WithConcurrency(n)) }
}

// OCI materializes container images referenced as
// "oci://registry/repo:tag/inner/path". The flattened image filesystem is
// cached as a tar named after the image digest, and the inner path is joined
// to it so the tar handler picks it up on the next pass.
//
// Every resolution asks the registry for the current digest. The last
// artifact resolved for a reference is recorded under "<dir>/refs" and served
// when the registry cannot be reached.
type OCI struct {
	refcache.Base
	client *remote.Client
}

// NewOCI returns an OCI handler. Layers are cached under "<dir>/layers".
func NewOCI(name, dir string, logger *slog.Logger, opts ...OCIOption) *OCI {
	h := &OCI{Base: refcache.NewBase(name, dir, logger)}

	o := &ociOptions{}
	for _, opt := range opts {
		opt(o)
	}
	clientOpts := []remote.Option{remote.WithLogger(h.Logger())}
	if dir != "" {
		clientOpts = append(clientOpts, remote.WithLayerCache(filepath.Join(dir, "layers")))
	}
	h.client = remote.NewClient(append(clientOpts, o.client...)...)
	return h
}

func (h *OCI) Resolve(ctx context.Context, ref string, opts refcache.Options) (string, refcache.Options, error) {
	image, inner, ok := remote.SplitURI(ref)
	if !ok || !h.Cached() {
		return "", opts, nil
	}

	imgRef, err := h.client.ParseReference(image)
	if err != nil {
		return "", opts, fmt.Errorf("%w: %w", refcache.ErrMalformedRef, err)
	}
	img, err := h.client.Image(ctx, imgRef)
	if err != nil {
		if artifact, ok := h.offline(ctx, imgRef, err); ok {
			return refcache.JoinInner(artifact, inner), opts, nil
		}
		return "", opts, err
	}
	digest, err := img.Digest()
	if err != nil {
		return "", opts, fmt.Errorf("digest %s: %w", imgRef, err)
	}

	artifact, err := h.Fetch(ctx, image, refcache.Artifact{
		Key: func(string) (string, error) {
			return artifactName(imgRef.Context().Name(), digest.Hex), nil
		},
		// The name carries the digest, so an existing artifact is always current.
		Fresh: func(string, string) (bool, error) { return true, nil },
		Write: func(ctx context.Context, _ string, w io.Writer) error {
			return h.client.Export(ctx, img, w)
		},
	})
	if err != nil {
		return "", opts, fmt.Errorf("export %s: %w", imgRef, err)
	}
	if artifact == "" {
		return "", opts, nil
	}
	if err := h.remember(imgRef, filepath.Base(artifact)); err != nil {
		h.Logger().Warn("record image artifact", "image", imgRef.Name(), "error", err)
	}
	return refcache.JoinInner(artifact, inner), opts, nil
}

func (h *OCI) pointer(ref name.Reference) string {
	key := strings.NewReplacer("/", "_", ":", "_", "@", "_").Replace(ref.Name())
	return filepath.Join(h.CacheDir(), "refs", key)
}

func (h *OCI) remember(ref name.Reference, artifact string) error {
	return store.WriteFile(h.pointer(ref), func(w io.Writer) error {
		_, err := io.WriteString(w, artifact)
		return err
	})
}

// offline returns the artifact last resolved for ref when cause says the
// registry could not be contacted.
func (h *OCI) offline(ctx context.Context, ref name.Reference, cause error) (string, bool) {
	if ctx.Err() != nil || !remote.Unreachable(cause) {
		return "", false
	}
	data, err := os.ReadFile(h.pointer(ref))
	if err != nil {
		return "", false
	}
	key := strings.TrimSpace(string(data))
	if key == "" || filepath.Base(key) != key {
		return "", false
	}
	artifact := filepath.Join(h.CacheDir(), key)
	if !refcache.IsFile(artifact) {
		return "", false
	}
	h.Logger().Warn("registry unreachable, using cached image", "image", ref.Name(), "artifact", artifact, "error", cause)
	return artifact, true
}

// Open streams a single file from the image when the handler has no cache
// directory.
func (h *OCI) Open(ctx context.Context, ref string, _ refcache.Options) (io.ReadCloser, bool, error) {
	if h.Cached() {
		return nil, false, nil
	}
	image, inner, ok := remote.SplitURI(ref)
	if !ok || inner == "" {
		return nil, false, nil
	}

	imgRef, err := h.client.ParseReference(image)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", refcache.ErrMalformedRef, err)
	}
	img, err := h.client.Image(ctx, imgRef)
	if err != nil {
		return nil, false, err
	}
	rc, err := h.client.OpenMember(ctx, img, inner)
	if err != nil {
		return nil, false, fmt.Errorf("open %s in %s: %w", inner, imgRef, err)
	}
	return rc, true, nil
}

// artifactName builds "<repository>-<short digest>.tar" with separators
// replaced so the name stays a single path element.
func artifactName(repository, hex string) string {
	if len(hex) > 12 {
		hex = hex[:12]
	}
	repository = strings.NewReplacer("/", "_", ":", "_").Replace(repository)
	return repository + "-" + hex + ".tar"
}
