package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ExtractTar unpacks a tar stream into dir, which must exist. Nothing is
// written through a symlink, and the extraction fails when a symlink in the
// result resolves outside dir.
func ExtractTar(ctx context.Context, r io.Reader, dir string) error {
	reader := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return checkLinks(dir)
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		target, err := entryPath(dir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := mkdir(dir, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(dir, target, reader, header.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := symlink(dir, target, header.Linkname); err != nil {
				return err
			}
		case tar.TypeLink:
			if err := hardlink(dir, target, header.Linkname); err != nil {
				return err
			}
		default:
			// Devices and fifos have no place in a file cache.
		}
	}
}

// OpenTarMember scans a tar stream for member and returns a reader positioned
// at its content. The reader is valid until r is closed.
func OpenTarMember(r io.Reader, member string) (io.Reader, error) {
	reader := tar.NewReader(r)
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, member)
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		if header.Typeflag == tar.TypeReg && sameMember(header.Name, member) {
			return reader, nil
		}
	}
}

func mkdir(dir, target string) error {
	if err := checkParents(dir, target); err != nil {
		return err
	}
	if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%w: directory %s is a symlink", ErrUnsafePath, target)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return nil
}

// writeFile creates target from r. A symlink already at target is replaced,
// never followed.
func writeFile(dir, target string, r io.Reader, perm os.FileMode) (err error) {
	if err := checkParents(dir, target); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(target); err != nil {
			return fmt.Errorf("replace symlink: %w", err)
		}
	}
	if perm&0o200 == 0 {
		perm |= 0o200
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	return nil
}

// symlink recreates a link inside dir. Absolute targets are taken relative
// to dir, the root of the extracted filesystem, and rewritten as relative
// links. Targets resolving outside dir are rejected.
func symlink(dir, target, linkname string) error {
	if err := checkParents(dir, target); err != nil {
		return err
	}

	var resolved string
	if filepath.IsAbs(linkname) || strings.HasPrefix(linkname, "/") {
		resolved = filepath.Join(dir, filepath.FromSlash(linkname))
		rel, err := filepath.Rel(filepath.Dir(target), resolved)
		if err != nil {
			return fmt.Errorf("%w: symlink %s -> %s", ErrUnsafePath, target, linkname)
		}
		linkname = rel
	} else {
		resolved = filepath.Join(filepath.Dir(target), filepath.FromSlash(linkname))
	}
	if !within(dir, resolved) {
		return fmt.Errorf("%w: symlink %s -> %s", ErrUnsafePath, target, linkname)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.Symlink(linkname, target); err != nil {
		return fmt.Errorf("create symlink: %w", err)
	}
	return nil
}

// hardlink links target to a regular file extracted earlier from the same
// archive.
func hardlink(dir, target, linkname string) error {
	source, err := entryPath(dir, strings.TrimPrefix(linkname, "/"))
	if err != nil {
		return err
	}
	if err := checkParents(dir, source); err != nil {
		return err
	}
	if info, err := os.Lstat(source); err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%w: hard link %s -> %s", ErrUnsafePath, target, linkname)
	}
	if err := checkParents(dir, target); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.Link(source, target); err != nil {
		return fmt.Errorf("create hard link: %w", err)
	}
	return nil
}
