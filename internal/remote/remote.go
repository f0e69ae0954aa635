// Package remote materializes files stored in OCI registries.
//
// Based on go-containerregistry patterns:
//   - Authentication via keychain, or explicit credentials
//   - Layers cached on disk by digest, so re-exporting an image after a
//     cache wipe of the flattened artifact costs no network traffic
//   - Layers prefetched in parallel before flattening
package remote

import (
	"strings"
)

// Scheme prefixes references served by this package.
const Scheme = "oci://"

// Authenticator provides credentials for a registry.
type Authenticator interface {
	// Authenticate returns credentials for the given registry. Empty
	// credentials fall back to the default keychain.
	Authenticate(registry string) (username, password string, err error)
}

// SplitURI splits "oci://registry/repo:tag/inner/path" into the image
// reference ("registry/repo:tag") and the inner path ("inner/path").
//
// The image reference ends at the first path segment after the registry host
// carrying a tag (":") or a digest ("@"). Without one the whole remainder is
// the image and the inner path is empty. ok is false for other schemes.
func SplitURI(uri string) (image, inner string, ok bool) {
	rest, found := strings.CutPrefix(strings.ReplaceAll(uri, "\\", "/"), Scheme)
	if !found || rest == "" {
		return "", "", false
	}

	host, path, _ := strings.Cut(rest, "/")
	if path == "" {
		return "", "", false
	}

	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if strings.ContainsAny(segment, ":@") {
			image = host + "/" + strings.Join(segments[:i+1], "/")
			inner = strings.Join(segments[i+1:], "/")
			return image, inner, true
		}
	}
	return host + "/" + path, "", true
}
