package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrUnsafePath      = errors.New("archive: entry escapes extraction directory")
	ErrMemberNotFound  = errors.New("archive: member not found")
	ErrPasswordMissing = errors.New("archive: password required")
)

// entryPath validates an archive entry name and returns its location under dir.
func entryPath(dir, name string) (string, error) {
	clean, err := cleanName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.FromSlash(clean)), nil
}

func cleanName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if path.IsAbs(name) || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return clean, nil
}

// sameMember reports whether an entry name refers to member.
func sameMember(name, member string) bool {
	a, err := cleanName(name)
	if err != nil {
		return false
	}
	b, err := cleanName(member)
	if err != nil {
		return false
	}
	return a == b
}

// checkParents fails when any existing directory between dir and target is
// a symlink, so entries are only ever created where their name says.
func checkParents(dir, target string) error {
	rel, err := filepath.Rel(dir, filepath.Dir(target))
	if err != nil || rel == "." {
		return err
	}

	current := dir
	for _, segment := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, segment)
		info, err := os.Lstat(current)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stat %s: %w", current, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s passes through symlink %s", ErrUnsafePath, target, current)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", ErrUnsafePath, current)
		}
	}
	return nil
}

// checkLinks resolves every symlink below dir and fails when one lands
// outside it. Links are checked once extraction is complete, since a link
// that looks harmless can change meaning when a later entry adds another
// link along its path. Dangling links are left alone.
func checkLinks(dir string) error {
	root, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			return nil
		}
		if !within(root, resolved) {
			return fmt.Errorf("%w: symlink %s resolves to %s", ErrUnsafePath, path, resolved)
		}
		return nil
	})
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
