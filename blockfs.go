// Package blockfs implements the operation layer of a block-structured,
// POSIX-style filesystem core: the externally visible calls (lookup/getattr,
// readdir, mknod/mkdir, unlink/rmdir, rename, read, write, truncate,
// utimens, statfs) in terms of the layout, bitmap, inode, block mapper,
// directory, and path resolver packages underneath it.
package blockfs

import (
	"time"

	"blockfs/bitmap"
	"blockfs/blockdev"
	"blockfs/blockmap"
	"blockfs/direntry"
	"blockfs/errors"
	"blockfs/inode"
	"blockfs/layout"
	"blockfs/pathwalk"
)

// currentTime returns the current time truncated to seconds since the
// epoch, matching the inode's 32-bit atime/mtime/ctime fields (spec.md §3:
// "32-bit truncation accepted").
func currentTime() uint32 {
	return uint32(time.Now().Unix())
}

// RootInode is the fixed inode number of the filesystem root.
const RootInode = pathwalk.RootInode

// Filesystem is a mounted instance of the filesystem core, wired to a single
// block device. Per spec.md §5 it holds only read-only state (the
// superblock) and the device itself; every operation re-reads whatever else
// it needs from disk.
type Filesystem struct {
	dev    blockdev.Device
	sb     layout.Superblock
	inodes *inode.Store
	blocks *blockmap.Mapper
	dirs   *direntry.Directory
	walker *pathwalk.Walker
}

// Format implements fs_mount(init_flag=1) from spec.md §4.1: compute the
// layout from the requested geometry, zero the metadata region, write the
// superblock, then create the root directory at inode 0.
func Format(dev blockdev.Device, inodeCount uint32) (*Filesystem, error) {
	sb, err := layout.Compute(dev.BlockSize(), dev.BlockCount(), inodeCount)
	if err != nil {
		return nil, err
	}

	zero := make([]byte, dev.BlockSize())
	for b := layout.InodeBitmapNum; b < sb.DataStart; b++ {
		if err := dev.WriteBlock(b, zero); err != nil {
			return nil, err
		}
	}

	if err := layout.Write(dev, sb); err != nil {
		return nil, err
	}

	fs := newFilesystem(dev, sb)

	if err := fs.markInodeUsed(RootInode); err != nil {
		return nil, err
	}

	root := inode.Raw{Mode: inode.ModeDirectory, Size: 0}
	now := currentTime()
	root.Atime, root.Mtime, root.Ctime = now, now, now
	if err := fs.inodes.Write(RootInode, root); err != nil {
		return nil, err
	}

	return fs, nil
}

// Mount implements fs_mount(init_flag=0) from spec.md §4.1: read the
// superblock from an already-formatted device and wire up the operation
// layer against it. No consistency check is mandated beyond the magic
// validated by layout.Read; callers wanting more should call
// Filesystem.Check().
func Mount(dev blockdev.Device) (*Filesystem, error) {
	sb, err := layout.Read(dev)
	if err != nil {
		return nil, err
	}
	return newFilesystem(dev, sb), nil
}

func newFilesystem(dev blockdev.Device, sb layout.Superblock) *Filesystem {
	inodes := inode.NewStore(dev, sb)
	blocks := blockmap.New(dev, sb)
	dirs := direntry.New(dev, blocks, sb)
	walker := pathwalk.New(inodes, dirs)

	return &Filesystem{
		dev:    dev,
		sb:     sb,
		inodes: inodes,
		blocks: blocks,
		dirs:   dirs,
		walker: walker,
	}
}

// Superblock returns the read-only superblock this filesystem was mounted
// with.
func (fs *Filesystem) Superblock() layout.Superblock {
	return fs.sb
}

// loadInodeBitmap reads the single-block inode bitmap fresh from disk,
// mirroring the data bitmap's no-cache policy in blockmap (spec.md §4.2).
func (fs *Filesystem) loadInodeBitmap() (*bitmap.Allocator, error) {
	raw := make([]byte, fs.sb.BlockSize)
	if err := fs.dev.ReadBlock(layout.InodeBitmapNum, raw); err != nil {
		return nil, err
	}
	return bitmap.Load(raw, fs.sb.InodeCount), nil
}

func (fs *Filesystem) storeInodeBitmap(alloc *bitmap.Allocator) error {
	raw := alloc.Bytes()
	buf := make([]byte, fs.sb.BlockSize)
	copy(buf, raw)
	return fs.dev.WriteBlock(layout.InodeBitmapNum, buf)
}

// markInodeUsed sets a specific inode's bitmap bit, used only to reserve the
// root inode at format time.
func (fs *Filesystem) markInodeUsed(n uint32) error {
	alloc, err := fs.loadInodeBitmap()
	if err != nil {
		return err
	}
	alloc.Set(n, true)
	return fs.storeInodeBitmap(alloc)
}

// allocInode implements spec.md §4.2's alloc_inode(): first-fit scan of the
// inode bitmap.
func (fs *Filesystem) allocInode() (uint32, error) {
	alloc, err := fs.loadInodeBitmap()
	if err != nil {
		return 0, err
	}
	n, err := alloc.Allocate()
	if err != nil {
		return 0, err
	}
	if err := fs.storeInodeBitmap(alloc); err != nil {
		return 0, err
	}
	return n, nil
}

// freeInode implements spec.md §4.2's free_inode().
func (fs *Filesystem) freeInode(n uint32) error {
	alloc, err := fs.loadInodeBitmap()
	if err != nil {
		return err
	}
	if err := alloc.Free(n); err != nil {
		return err
	}
	return fs.storeInodeBitmap(alloc)
}

func (fs *Filesystem) freeInodeCount() (uint32, error) {
	alloc, err := fs.loadInodeBitmap()
	if err != nil {
		return 0, err
	}
	return alloc.FreeCount(), nil
}

func (fs *Filesystem) readInode(n uint32) (inode.Raw, error) {
	return fs.inodes.Read(n)
}

func (fs *Filesystem) writeInode(n uint32, raw inode.Raw) error {
	return fs.inodes.Write(n, raw)
}

// requireDirectory returns errors.ErrNotADirectory if raw does not describe
// a directory.
func requireDirectory(raw inode.Raw) error {
	if !raw.Mode.IsDir() {
		return errors.ErrNotADirectory
	}
	return nil
}

// requireRegularFile returns errors.ErrIsADirectory if raw describes a
// directory, since every non-directory object in this filesystem is a
// regular file (no symlinks, no device nodes).
func requireRegularFile(raw inode.Raw) error {
	if raw.Mode.IsDir() {
		return errors.ErrIsADirectory
	}
	return nil
}
