// Package archive extracts tar and zip archives into directories and reads
// single members out of them.
//
// Entry names are validated before anything touches the filesystem: absolute
// names and names escaping the target with ".." are rejected. Tar symlinks
// are recreated only when their target stays inside the extraction directory.
package archive
