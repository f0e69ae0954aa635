package refcache

import (
	"path"
	"strings"
)

// SplitContainer splits a container reference such as "dir/my.tar.gz/sub/file.txt"
// into the container path ("dir/my.tar.gz") and the inner path ("sub/file.txt").
//
// Extensions are tried in order. For each one the earliest "."+ext+"/" boundary
// wins, then a trailing "."+ext. A reference naming the container itself returns
// an empty inner path. ok is false when no extension matches. Back-slashes are
// normalized to forward slashes before matching.
func SplitContainer(ref string, extensions []string) (container, inner string, ok bool) {
	return SplitContainerFunc(ref, extensions, func(string) bool { return true })
}

// SplitContainerFunc is like SplitContainer but skips candidates rejected by
// accept and moves on to later boundaries. "a.tar/b.tar/c" yields "a.tar/b.tar"
// when "a.tar" is an extracted directory rather than an archive.
func SplitContainerFunc(ref string, extensions []string, accept func(container string) bool) (container, inner string, ok bool) {
	ref = strings.ReplaceAll(ref, "\\", "/")
	for _, ext := range extensions {
		suffix := "." + ext
		for from := 0; ; {
			pos := strings.Index(ref[from:], suffix+"/")
			if pos == -1 {
				break
			}
			end := from + pos + len(suffix)
			if accept(ref[:end]) {
				return ref[:end], ref[end+1:], true
			}
			from = end
		}
		if strings.HasSuffix(ref, suffix) && accept(ref) {
			return ref, "", true
		}
	}
	return "", "", false
}

// JoinInner appends an inner path to a resolved container artifact.
func JoinInner(artifact, inner string) string {
	inner = strings.Trim(strings.ReplaceAll(inner, "\\", "/"), "/")
	if inner == "" {
		return artifact
	}
	if inner = path.Clean(inner); inner == "." {
		return artifact
	}
	return artifact + "/" + inner
}
