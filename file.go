package refcache

import (
	"io"
	"io/fs"
	"path"
	"time"
)

// streamFile is an fs.File over content served by an Opener. Nothing is known
// about it beyond its name, so Stat reports a read-only regular file of
// unknown size.
type streamFile struct {
	io.ReadCloser
	info streamInfo
}

func newStreamFile(name string, rc io.ReadCloser) *streamFile {
	return &streamFile{ReadCloser: rc, info: streamInfo{name: path.Base(name)}}
}

func (f *streamFile) Stat() (fs.FileInfo, error) {
	return f.info, nil
}

type streamInfo struct {
	name string
}

var _ fs.FileInfo = streamInfo{}

func (i streamInfo) Name() string       { return i.name }
func (i streamInfo) Size() int64        { return -1 }
func (i streamInfo) Mode() fs.FileMode  { return 0o444 }
func (i streamInfo) ModTime() time.Time { return time.Time{} }
func (i streamInfo) IsDir() bool        { return false }
func (i streamInfo) Sys() any           { return nil }
