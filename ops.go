package blockfs

import (
	"os"
	"time"

	"blockfs/errors"
	"blockfs/inode"
	"blockfs/layout"
)

// DirFiller receives one directory entry per call from Readdir, in the style
// of FUSE's filler callback. It returns false to signal the caller's buffer
// is full, at which point Readdir stops early and still reports success
// (spec.md §4.7: "stop early if filler signals full; return success").
type DirFiller func(name string, inodeNum uint32) (keepGoing bool)

func modeToFileMode(m inode.Mode) os.FileMode {
	if m.IsDir() {
		return os.ModeDir | os.FileMode(m&0o777)
	}
	return os.FileMode(m & 0o777)
}

func statFromInode(n uint32, raw inode.Raw, sb layout.Superblock) FileStat {
	numBlocks := (int64(raw.Size) + 511) / 512
	// Every allocated indirect index block consumes disk space of its own,
	// on top of the data blocks it points to, and must be counted too
	// (fs.c: the block holding the indirect pointers is itself billable).
	unitsPerBlock := int64(sb.BlockSize) / 512
	for _, g := range raw.Indirect {
		if g != 0 {
			numBlocks += unitsPerBlock
		}
	}
	return FileStat{
		InodeNumber:  uint64(n),
		ModeFlags:    modeToFileMode(raw.Mode),
		Size:         int64(raw.Size),
		BlockSize:    int64(sb.BlockSize),
		NumBlocks:    numBlocks,
		LastAccessed: secondsToTime(raw.Atime),
		LastModified: secondsToTime(raw.Mtime),
		LastChanged:  secondsToTime(raw.Ctime),
	}
}

// Getattr resolves path and reports its attributes. Updates no timestamps
// (spec.md §4.7).
func (fs *Filesystem) Getattr(path string) (FileStat, error) {
	n, err := fs.walker.Resolve(path)
	if err != nil {
		return FileStat{}, err
	}
	raw, err := fs.readInode(n)
	if err != nil {
		return FileStat{}, err
	}
	return statFromInode(n, raw, fs.sb), nil
}

// Readdir resolves path, requires it to be a directory, and feeds ".", "..",
// then every live entry to filler in on-disk order. Updates atime.
func (fs *Filesystem) Readdir(path string, filler DirFiller) error {
	n, err := fs.walker.Resolve(path)
	if err != nil {
		return err
	}
	raw, err := fs.readInode(n)
	if err != nil {
		return err
	}
	if err := requireDirectory(raw); err != nil {
		return err
	}

	parent, err := fs.parentOf(path, n)
	if err != nil {
		return err
	}

	if !filler(".", n) {
		return fs.touchAtime(n, raw)
	}
	if !filler("..", parent) {
		return fs.touchAtime(n, raw)
	}

	entries, err := fs.dirs.Enumerate(&raw)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !filler(e.Name, e.InodeNum) {
			break
		}
	}

	return fs.touchAtime(n, raw)
}

// parentOf returns the inode number of path's parent, or n itself (root has
// no parent; ".." at the root resolves to the root, spec.md §4.1).
func (fs *Filesystem) parentOf(path string, n uint32) (uint32, error) {
	if n == RootInode {
		return RootInode, nil
	}
	parent, _, err := fs.walker.ResolveParent(path)
	if err != nil {
		return 0, err
	}
	return parent, nil
}

func (fs *Filesystem) touchAtime(n uint32, raw inode.Raw) error {
	raw.Atime = currentTime()
	return fs.writeInode(n, raw)
}

func secondsToTime(s uint32) time.Time {
	return time.Unix(int64(s), 0)
}

// createEntry implements the shared body of mknod and mkdir (spec.md §4.7):
// resolve the parent, reject an existing child of the same name, allocate a
// fresh inode of the given mode, insert the directory entry, and update the
// parent's timestamps.
func (fs *Filesystem) createEntry(path string, mode inode.Mode) (uint32, error) {
	parentNum, name, err := fs.walker.ResolveParent(path)
	if err != nil {
		return 0, err
	}

	parent, err := fs.readInode(parentNum)
	if err != nil {
		return 0, err
	}
	if err := requireDirectory(parent); err != nil {
		return 0, err
	}

	if _, err := fs.dirs.Lookup(&parent, name); err == nil {
		return 0, errors.ErrExists
	} else if err != errors.ErrNotFound {
		return 0, err
	}

	newInodeNum, err := fs.allocInode()
	if err != nil {
		return 0, err
	}

	now := currentTime()
	child := inode.Raw{Mode: mode, Atime: now, Mtime: now, Ctime: now}
	if err := fs.writeInode(newInodeNum, child); err != nil {
		return 0, err
	}

	if _, err := fs.dirs.Insert(&parent, name, newInodeNum); err != nil {
		return 0, err
	}

	parent.Mtime = now
	parent.Ctime = now
	if err := fs.writeInode(parentNum, parent); err != nil {
		return 0, err
	}

	return newInodeNum, nil
}

// Mknod creates a new, empty regular file at path.
func (fs *Filesystem) Mknod(path string) error {
	_, err := fs.createEntry(path, inode.ModeRegular)
	return err
}

// Mkdir creates a new, empty directory at path. "." and ".." are synthesized
// by Readdir, not stored (spec.md §4.7).
func (fs *Filesystem) Mkdir(path string) error {
	_, err := fs.createEntry(path, inode.ModeDirectory)
	return err
}

// removeEntry implements the shared body of unlink and rmdir: resolve parent
// and child, check the child's type, free its blocks and inode, clear the
// directory entry, and update the parent's timestamps.
func (fs *Filesystem) removeEntry(path string, wantDir bool) error {
	parentNum, name, err := fs.walker.ResolveParent(path)
	if err != nil {
		return err
	}

	parent, err := fs.readInode(parentNum)
	if err != nil {
		return err
	}
	if err := requireDirectory(parent); err != nil {
		return err
	}

	childNum, err := fs.dirs.Lookup(&parent, name)
	if err != nil {
		return err
	}

	child, err := fs.readInode(childNum)
	if err != nil {
		return err
	}

	if wantDir {
		if err := requireDirectory(child); err != nil {
			return err
		}
		hasEntries, err := fs.dirs.HasLiveEntries(&child)
		if err != nil {
			return err
		}
		if hasEntries {
			return errors.ErrDirectoryNotEmpty
		}
	} else {
		if err := requireRegularFile(child); err != nil {
			return err
		}
	}

	if err := fs.blocks.FreeAll(&child); err != nil {
		return err
	}
	if err := fs.writeInode(childNum, child); err != nil {
		return err
	}
	if err := fs.freeInode(childNum); err != nil {
		return err
	}

	if err := fs.dirs.Remove(&parent, name); err != nil {
		return err
	}

	now := currentTime()
	parent.Mtime = now
	parent.Ctime = now
	return fs.writeInode(parentNum, parent)
}

// Unlink removes a regular file.
func (fs *Filesystem) Unlink(path string) error {
	return fs.removeEntry(path, false)
}

// Rmdir removes an empty directory.
func (fs *Filesystem) Rmdir(path string) error {
	return fs.removeEntry(path, true)
}

// Rename moves the entry at oldPath to newPath, per spec.md §4.7: a
// same-inode collision at the destination is a no-op, a different-inode
// collision fails EEXIST (see SPEC_FULL.md §6.2's resolution of the open
// question).
func (fs *Filesystem) Rename(oldPath, newPath string) error {
	oldParentNum, oldName, err := fs.walker.ResolveParent(oldPath)
	if err != nil {
		return err
	}
	newParentNum, newName, err := fs.walker.ResolveParent(newPath)
	if err != nil {
		return err
	}

	sameParent := oldParentNum == newParentNum

	oldParent, err := fs.readInode(oldParentNum)
	if err != nil {
		return err
	}
	if err := requireDirectory(oldParent); err != nil {
		return err
	}

	sourceInode, err := fs.dirs.Lookup(&oldParent, oldName)
	if err != nil {
		return err
	}

	// When both paths share a parent, every mutation below must go through
	// this single in-memory copy: two independently read copies of the same
	// inode would let whichever is written back last silently discard the
	// other's directory growth.
	newParent := oldParent
	if !sameParent {
		newParent, err = fs.readInode(newParentNum)
		if err != nil {
			return err
		}
		if err := requireDirectory(newParent); err != nil {
			return err
		}
	}

	if destInode, err := fs.dirs.Lookup(&newParent, newName); err == nil {
		if destInode == sourceInode {
			return nil
		}
		return errors.ErrExists
	} else if err != errors.ErrNotFound {
		return err
	}

	if err := fs.dirs.Remove(&oldParent, oldName); err != nil {
		return err
	}
	if sameParent {
		newParent = oldParent
	}

	if _, err := fs.dirs.Insert(&newParent, newName, sourceInode); err != nil {
		return err
	}

	now := currentTime()
	newParent.Mtime, newParent.Ctime = now, now
	if err := fs.writeInode(newParentNum, newParent); err != nil {
		return err
	}

	if sameParent {
		return nil
	}

	oldParent.Mtime, oldParent.Ctime = now, now
	return fs.writeInode(oldParentNum, oldParent)
}

// Read resolves path and copies up to len(buf) bytes starting at off into
// buf, returning the number of bytes copied. Reading past EOF returns 0;
// holes (unallocated blocks within range) read as zero (spec.md §4.7).
func (fs *Filesystem) Read(path string, buf []byte, off uint32) (int, error) {
	n, err := fs.walker.Resolve(path)
	if err != nil {
		return 0, err
	}
	raw, err := fs.readInode(n)
	if err != nil {
		return 0, err
	}
	if err := requireRegularFile(raw); err != nil {
		return 0, err
	}

	if off >= raw.Size {
		return 0, nil
	}

	size := uint32(len(buf))
	if off+size > raw.Size {
		size = raw.Size - off
	}

	read := uint32(0)
	for read < size {
		logicalIndex := (off + read) / fs.sb.BlockSize
		blockOffset := (off + read) % fs.sb.BlockSize

		phys, _, err := fs.blocks.BlockFor(&raw, logicalIndex, false)
		if err != nil {
			return int(read), err
		}

		chunk := fs.sb.BlockSize - blockOffset
		if chunk > size-read {
			chunk = size - read
		}

		if phys == 0 {
			for i := uint32(0); i < chunk; i++ {
				buf[read+i] = 0
			}
		} else {
			block := make([]byte, fs.sb.BlockSize)
			if err := fs.dev.ReadBlock(phys, block); err != nil {
				return int(read), err
			}
			copy(buf[read:read+chunk], block[blockOffset:blockOffset+chunk])
		}

		read += chunk
	}

	raw.Atime = currentTime()
	if err := fs.writeInode(n, raw); err != nil {
		return int(read), err
	}

	return int(read), nil
}

// WriteFlagAppend tells Write to ignore off and append at the current end of
// file, matching O_APPEND (spec.md §4.7).
const WriteFlagAppend = 1 << 0

// Write resolves path and writes len(buf) bytes starting at off (or at EOF,
// if flags carries WriteFlagAppend), allocating blocks on demand. On
// NoSpace mid-write, whatever was written so far is persisted and returned
// alongside the error (spec.md §4.7).
func (fs *Filesystem) Write(path string, buf []byte, off uint32, flags int) (int, error) {
	n, err := fs.walker.Resolve(path)
	if err != nil {
		return 0, err
	}
	raw, err := fs.readInode(n)
	if err != nil {
		return 0, err
	}
	if err := requireRegularFile(raw); err != nil {
		return 0, err
	}

	if flags&WriteFlagAppend != 0 {
		off = raw.Size
	}

	size := uint32(len(buf))
	if uint64(off)+uint64(size) > fs.sb.MaxFileSize() {
		return 0, errors.ErrFileTooLarge
	}

	written := uint32(0)
	var writeErr error

	for written < size {
		logicalIndex := (off + written) / fs.sb.BlockSize
		blockOffset := (off + written) % fs.sb.BlockSize

		phys, _, err := fs.blocks.BlockFor(&raw, logicalIndex, true)
		if err != nil {
			writeErr = err
			break
		}

		chunk := fs.sb.BlockSize - blockOffset
		if chunk > size-written {
			chunk = size - written
		}

		block := make([]byte, fs.sb.BlockSize)
		if chunk != fs.sb.BlockSize {
			if err := fs.dev.ReadBlock(phys, block); err != nil {
				writeErr = err
				break
			}
		}
		copy(block[blockOffset:blockOffset+chunk], buf[written:written+chunk])
		if err := fs.dev.WriteBlock(phys, block); err != nil {
			writeErr = err
			break
		}

		written += chunk
	}

	if written > 0 {
		newSize := off + written
		if newSize > raw.Size {
			raw.Size = newSize
		}
		now := currentTime()
		raw.Mtime, raw.Ctime = now, now
	}

	if err := fs.writeInode(n, raw); err != nil {
		if writeErr == nil {
			writeErr = err
		}
	}

	if written == 0 && writeErr != nil {
		return 0, writeErr
	}
	return int(written), writeErr
}

// Truncate resolves path and resizes it to newSize. Growing never eagerly
// allocates blocks (holes); shrinking frees every logical block at or past
// the new block count, reclaiming an indirect index block once every slot
// within it is empty (spec.md §4.7).
func (fs *Filesystem) Truncate(path string, newSize uint32) error {
	n, err := fs.walker.Resolve(path)
	if err != nil {
		return err
	}
	raw, err := fs.readInode(n)
	if err != nil {
		return err
	}
	if err := requireRegularFile(raw); err != nil {
		return err
	}

	if uint64(newSize) > fs.sb.MaxFileSize() {
		return errors.ErrFileTooLarge
	}

	oldSize := raw.Size

	if newSize < oldSize {
		oldBlocks := fs.blocks.LogicalBlockCount(oldSize)
		newBlocks := fs.blocks.LogicalBlockCount(newSize)

		for i := newBlocks; i < oldBlocks; i++ {
			if err := fs.blocks.FreeLogicalBlock(&raw, i); err != nil {
				return err
			}
		}

		for g := 0; g < layout.IndirectPointers; g++ {
			if raw.Indirect[g] == 0 {
				continue
			}
			empty, err := fs.blocks.IndirectBlockEmpty(&raw, g)
			if err != nil {
				return err
			}
			if empty {
				if err := fs.blocks.FreeIndirectBlock(&raw, g); err != nil {
					return err
				}
			}
		}
	}

	raw.Size = newSize
	now := currentTime()
	raw.Ctime = now
	if newSize != oldSize {
		raw.Mtime = now
	}

	return fs.writeInode(n, raw)
}

// Utimens resolves path and sets its atime/mtime explicitly; ctime is always
// set to the current time (spec.md §4.7).
func (fs *Filesystem) Utimens(path string, atime, mtime uint32) error {
	n, err := fs.walker.Resolve(path)
	if err != nil {
		return err
	}
	raw, err := fs.readInode(n)
	if err != nil {
		return err
	}

	raw.Atime = atime
	raw.Mtime = mtime
	raw.Ctime = currentTime()

	return fs.writeInode(n, raw)
}

// Statfs reports filesystem-wide utilization (spec.md §4.7).
func (fs *Filesystem) Statfs() (FSStat, error) {
	freeData, err := fs.blocks.FreeDataBlockCount()
	if err != nil {
		return FSStat{}, err
	}
	freeInodes, err := fs.freeInodeCount()
	if err != nil {
		return FSStat{}, err
	}

	return FSStat{
		BlockSize:       int64(fs.sb.BlockSize),
		TotalBlocks:     uint64(fs.sb.DataBlockCount),
		BlocksFree:      uint64(freeData),
		BlocksAvailable: uint64(freeData),
		Files:           uint64(fs.sb.InodeCount),
		FilesFree:       uint64(freeInodes),
		FilesAvailable:  uint64(freeInodes),
		MaxNameLength:   layout.MaxFilenameLen,
	}, nil
}

// Open, Release, Opendir, and Releasedir are no-ops that always succeed,
// matching spec.md §6's "open, release, opendir, releasedir (all no-ops
// returning success in this core)". They exist so a FUSE-style host has a
// full set of lifecycle hooks to call even though this filesystem keeps no
// open-file state.
func (fs *Filesystem) Open(path string) error       { return nil }
func (fs *Filesystem) Release(path string) error    { return nil }
func (fs *Filesystem) Opendir(path string) error    { return nil }
func (fs *Filesystem) Releasedir(path string) error { return nil }
