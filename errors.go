package refcache

import (
	"errors"
	"fmt"

	"github.com/aweris/refcache/internal/git"
)

var (
	ErrNotFound     = errors.New("refcache: not found")
	ErrMalformedRef = errors.New("refcache: malformed reference")
	ErrNotDirectory = errors.New("refcache: not a directory")
	ErrInvalidKey   = errors.New("refcache: invalid artifact key")
	ErrNoProgress   = errors.New("refcache: handler chain does not terminate")
)

// ExecError reports a failed version-control command.
// Re-exported from internal/git so callers can match it with errors.As.
type ExecError = git.ExecError

// HandlerError wraps a failure raised by a handler while resolving a reference.
type HandlerError struct {
	Handler string
	Ref     string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("refcache: %s handler: resolve %q: %v", e.Handler, e.Ref, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
