// Package direntry implements spec.md §4.5: a directory's byte stream laid
// out as an array of fixed-size directory entries, with tombstone-based
// removal and lookup/insert/remove/enumerate operations.
package direntry

import (
	"bytes"
	"encoding/binary"

	"blockfs/blockdev"
	"blockfs/blockmap"
	"blockfs/errors"
	"blockfs/inode"
	"blockfs/layout"
)

// Entry is one fixed-size directory record. InodeNum == 0 marks an empty or
// tombstoned slot (spec §3).
type Entry struct {
	Name     [layout.MaxFilenameLen + 2]byte
	InodeNum uint32
}

// wireSize mirrors inode.wireSize: the portion of layout.DirEntrySize that
// Entry's fields occupy; the rest is reserved padding.
const wireSize = layout.MaxFilenameLen + 2 + 4

// NameString returns the entry's name as a Go string, stopping at the first
// NUL terminator.
func (e Entry) NameString() string {
	n := bytes.IndexByte(e.Name[:], 0)
	if n < 0 {
		n = len(e.Name)
	}
	return string(e.Name[:n])
}

func encodeName(name string) ([layout.MaxFilenameLen + 2]byte, error) {
	var buf [layout.MaxFilenameLen + 2]byte
	if len(name) > layout.MaxFilenameLen {
		return buf, errors.ErrNameTooLong
	}
	copy(buf[:], name)
	return buf, nil
}

func decodeEntry(raw []byte) Entry {
	var e Entry
	copy(e.Name[:], raw[:layout.MaxFilenameLen+2])
	e.InodeNum = binary.LittleEndian.Uint32(raw[layout.MaxFilenameLen+2 : wireSize])
	return e
}

func encodeEntry(e Entry) []byte {
	buf := make([]byte, layout.DirEntrySize)
	copy(buf, e.Name[:])
	binary.LittleEndian.PutUint32(buf[layout.MaxFilenameLen+2:wireSize], e.InodeNum)
	return buf
}

// Directory provides entry-level operations over a single directory inode's
// byte stream. It holds no state of its own besides the collaborators needed
// to read/write blocks; every call re-derives position from the inode it's
// given, matching spec §5's "no cross-operation buffer is retained."
type Directory struct {
	dev    blockdev.Device
	blocks *blockmap.Mapper
	sb     layout.Superblock
}

// New creates a Directory operating against the given block device and block
// mapper.
func New(dev blockdev.Device, blocks *blockmap.Mapper, sb layout.Superblock) *Directory {
	return &Directory{dev: dev, blocks: blocks, sb: sb}
}

func (d *Directory) readEntryAt(raw *inode.Raw, index uint32) (Entry, error) {
	perBlock := d.sb.DirEntriesPerBlock()
	logicalBlock := index / perBlock
	slot := index % perBlock

	phys, _, err := d.blocks.BlockFor(raw, logicalBlock, false)
	if err != nil {
		return Entry{}, err
	}
	if phys == 0 {
		return Entry{}, nil
	}

	block := make([]byte, d.sb.BlockSize)
	if err := d.blockRead(phys, block); err != nil {
		return Entry{}, err
	}
	return decodeEntry(block[slot*layout.DirEntrySize : (slot+1)*layout.DirEntrySize]), nil
}

func (d *Directory) blockRead(phys uint32, buf []byte) error {
	return d.dev.ReadBlock(phys, buf)
}

func (d *Directory) blockWrite(phys uint32, buf []byte) error {
	return d.dev.WriteBlock(phys, buf)
}

func (d *Directory) writeEntryAt(raw *inode.Raw, index uint32, entry Entry) (dirty bool, err error) {
	perBlock := d.sb.DirEntriesPerBlock()
	logicalBlock := index / perBlock
	slot := index % perBlock

	phys, dirty, err := d.blocks.BlockFor(raw, logicalBlock, true)
	if err != nil {
		return false, err
	}

	block := make([]byte, d.sb.BlockSize)
	if err := d.blockRead(phys, block); err != nil {
		return false, err
	}
	copy(block[slot*layout.DirEntrySize:(slot+1)*layout.DirEntrySize], encodeEntry(entry))
	if err := d.blockWrite(phys, block); err != nil {
		return false, err
	}
	return dirty, nil
}

func entryCount(raw inode.Raw) uint32 {
	return raw.Size / layout.DirEntrySize
}

// Lookup scans the live entries of the directory described by raw for name,
// returning the matching inode number. Returns errors.ErrNotFound if no live
// entry matches.
func (d *Directory) Lookup(raw *inode.Raw, name string) (uint32, error) {
	count := entryCount(*raw)
	for i := uint32(0); i < count; i++ {
		entry, err := d.readEntryAt(raw, i)
		if err != nil {
			return 0, err
		}
		if entry.InodeNum != 0 && entry.NameString() == name {
			return entry.InodeNum, nil
		}
	}
	return 0, errors.ErrNotFound
}

// Insert adds (name, inodeNum) to the directory described by raw, reusing the
// first tombstoned slot if one exists, else appending. It returns whether raw
// was modified (a new block or indirect block was allocated, or size grew)
// so the caller knows to persist it.
func (d *Directory) Insert(raw *inode.Raw, name string, inodeNum uint32) (dirty bool, err error) {
	encodedName, err := encodeName(name)
	if err != nil {
		return false, err
	}
	entry := Entry{Name: encodedName, InodeNum: inodeNum}

	count := entryCount(*raw)
	for i := uint32(0); i < count; i++ {
		existing, err := d.readEntryAt(raw, i)
		if err != nil {
			return false, err
		}
		if existing.InodeNum == 0 {
			wroteBlock, err := d.writeEntryAt(raw, i, entry)
			if err != nil {
				return false, err
			}
			return wroteBlock, nil
		}
	}

	if _, err := d.writeEntryAt(raw, count, entry); err != nil {
		return false, err
	}
	raw.Size += layout.DirEntrySize
	return true, nil
}

// Remove tombstones the entry named name: its InodeNum is cleared and its
// name zeroed, but raw.Size is never decreased (spec §4.5: "this keeps
// iteration bounded and makes rename's remove-then-insert idempotent").
func (d *Directory) Remove(raw *inode.Raw, name string) error {
	count := entryCount(*raw)
	for i := uint32(0); i < count; i++ {
		entry, err := d.readEntryAt(raw, i)
		if err != nil {
			return err
		}
		if entry.InodeNum != 0 && entry.NameString() == name {
			_, err := d.writeEntryAt(raw, i, Entry{})
			return err
		}
	}
	return errors.ErrNotFound
}

// LiveEntry is one entry yielded by Enumerate: a name and the inode number it
// points to.
type LiveEntry struct {
	Name     string
	InodeNum uint32
}

// Enumerate returns every live (non-tombstoned) entry in on-disk order. It
// does not include "." or "..", which are synthesized by the caller (spec
// §4.7's readdir and §4.5's Enumerate both describe this split).
func (d *Directory) Enumerate(raw *inode.Raw) ([]LiveEntry, error) {
	count := entryCount(*raw)
	out := make([]LiveEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		entry, err := d.readEntryAt(raw, i)
		if err != nil {
			return nil, err
		}
		if entry.InodeNum != 0 {
			out = append(out, LiveEntry{Name: entry.NameString(), InodeNum: entry.InodeNum})
		}
	}
	return out, nil
}

// HasLiveEntries reports whether the directory has any non-tombstoned entry,
// used by rmdir's emptiness check (spec §4.7: "implementation MAY verify").
func (d *Directory) HasLiveEntries(raw *inode.Raw) (bool, error) {
	entries, err := d.Enumerate(raw)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}
