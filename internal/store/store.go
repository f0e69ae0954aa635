// Package store implements the on-disk side of the artifact cache.
//
// Artifacts are plain files and directories under a handler's cache
// directory. This package owns the mechanics of replacing them safely:
//   - WriteFile stages content in a temporary file next to the target and
//     renames it into place, so a failed write never leaves a partial artifact
//   - ReplaceDir wipes and recreates a directory artifact
//   - RemoveAll clears a subtree, forcing write permission on entries that
//     resist removal
package store
