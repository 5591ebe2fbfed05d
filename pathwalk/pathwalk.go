// Package pathwalk implements spec.md §4.6: resolving a slash-delimited
// absolute path into either a target inode, or a parent inode and the final
// component name for operations that create or remove an entry.
package pathwalk

import (
	"strings"

	"blockfs/direntry"
	"blockfs/errors"
	"blockfs/inode"
	"blockfs/layout"
)

// RootInode is the fixed inode number of the filesystem root (spec §4.1's
// root invariant).
const RootInode uint32 = 0

// Walker resolves paths against an inode store and directory layer. It keeps
// no state between calls: every Resolve walks component slices of the
// caller's path string without allocating a destructive copy, matching spec
// §9's "restartable path walk."
type Walker struct {
	inodes *inode.Store
	dirs   *direntry.Directory
}

// New creates a Walker over the given inode store and directory layer.
func New(inodes *inode.Store, dirs *direntry.Directory) *Walker {
	return &Walker{inodes: inodes, dirs: dirs}
}

// splitPath breaks an absolute path into its non-empty components, collapsing
// duplicate separators as spec §4.6 requires.
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func checkComponentLength(name string) error {
	if len(name) > layout.MaxFilenameLen {
		return errors.ErrNameTooLong
	}
	return nil
}

// Resolve walks path from the root and returns the inode number it names.
// Returns errors.ErrNotFound if any component along the way doesn't exist,
// and errors.ErrNotADirectory if an intermediate (non-final) component isn't
// a directory.
func (w *Walker) Resolve(path string) (uint32, error) {
	components := splitPath(path)
	current := RootInode

	for _, name := range components {
		if err := checkComponentLength(name); err != nil {
			return 0, err
		}

		raw, err := w.inodes.Read(current)
		if err != nil {
			return 0, err
		}
		if !raw.Mode.IsDir() {
			return 0, errors.ErrNotADirectory
		}

		next, err := w.dirs.Lookup(&raw, name)
		if err != nil {
			return 0, err
		}
		current = next
	}

	return current, nil
}

// ResolveParent walks path from the root up to but not including its final
// component, returning the parent's inode number and the final component's
// name, which is length-checked but not looked up (the caller performs the
// actual lookup or the insertion). This is the entry point mknod, mkdir, unlink, rmdir, and
// rename use to locate where an entry should be created or removed (spec
// §4.6: "produces ... the parent's inode number and the final component
// name").
//
// path must name at least one component; resolving "/" itself has no
// parent and returns errors.ErrInvalidArgument.
func (w *Walker) ResolveParent(path string) (parentInode uint32, finalName string, err error) {
	components := splitPath(path)
	if len(components) == 0 {
		return 0, "", errors.ErrInvalidArgument.WithMessage("path has no final component")
	}

	finalName = components[len(components)-1]
	if err := checkComponentLength(finalName); err != nil {
		return 0, "", err
	}

	current := RootInode
	for _, name := range components[:len(components)-1] {
		if err := checkComponentLength(name); err != nil {
			return 0, "", err
		}

		raw, err := w.inodes.Read(current)
		if err != nil {
			return 0, "", err
		}
		if !raw.Mode.IsDir() {
			return 0, "", errors.ErrNotADirectory
		}

		next, err := w.dirs.Lookup(&raw, name)
		if err != nil {
			return 0, "", err
		}
		current = next
	}

	raw, err := w.inodes.Read(current)
	if err != nil {
		return 0, "", err
	}
	if !raw.Mode.IsDir() {
		return 0, "", errors.ErrNotADirectory
	}

	return current, finalName, nil
}
