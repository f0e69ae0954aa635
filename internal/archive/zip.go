package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/yeka/zip"
)

// ExtractZip unpacks the zip file at src into dir, which must exist.
// Encrypted entries are opened with password.
func ExtractZip(ctx context.Context, src, dir, password string) (err error) {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer func() {
		err = errors.Join(err, reader.Close())
	}()

	for _, file := range reader.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		target, err := entryPath(dir, file.Name)
		if err != nil {
			return err
		}

		if file.FileInfo().IsDir() {
			if err := mkdir(dir, target); err != nil {
				return err
			}
			continue
		}

		if err := extractZipFile(file, dir, target, password); err != nil {
			return err
		}
	}
	return nil
}

func extractZipFile(file *zip.File, dir, target, password string) error {
	rc, err := openZipFile(file, password)
	if err != nil {
		return err
	}
	return errors.Join(writeFile(dir, target, rc, file.Mode().Perm()), rc.Close())
}

// OpenZipMember opens a single member of the zip file at src. Closing the
// returned reader also closes the archive.
func OpenZipMember(src, member, password string) (io.ReadCloser, error) {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}

	for _, file := range reader.File {
		if file.FileInfo().IsDir() || !sameMember(file.Name, member) {
			continue
		}
		rc, err := openZipFile(file, password)
		if err != nil {
			return nil, errors.Join(err, reader.Close())
		}
		return &memberReader{ReadCloser: rc, archive: reader}, nil
	}

	return nil, errors.Join(fmt.Errorf("%w: %s", ErrMemberNotFound, member), reader.Close())
}

func openZipFile(file *zip.File, password string) (io.ReadCloser, error) {
	if file.IsEncrypted() {
		if password == "" {
			return nil, fmt.Errorf("%w: %s", ErrPasswordMissing, file.Name)
		}
		file.SetPassword(password)
	}
	rc, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file.Name, err)
	}
	return rc, nil
}

type memberReader struct {
	io.ReadCloser
	archive *zip.ReadCloser
}

func (m *memberReader) Close() error {
	return errors.Join(m.ReadCloser.Close(), m.archive.Close())
}
