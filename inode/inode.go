// Package inode implements the inode table (spec.md §4.3): fixed-size inode
// records packed contiguously from block layout.InodeTableStart, addressed by
// a stable integer index.
package inode

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"blockfs/blockdev"
	"blockfs/errors"
	"blockfs/layout"
)

// Mode identifies the type of filesystem object an inode describes. Unlike
// POSIX mode bits this filesystem never checks permissions (spec.md §9), so
// the permission bits baked into ModeRegular/ModeDirectory are cosmetic and
// fixed at format time.
type Mode uint32

const (
	typeMask Mode = 0o170000
	typeFile Mode = 0o100000
	typeDir  Mode = 0o040000

	permRegFile Mode = 0o644
	permDir     Mode = 0o755

	// ModeRegular is the fixed mode value for a newly created regular file.
	ModeRegular Mode = typeFile | permRegFile
	// ModeDirectory is the fixed mode value for a newly created directory.
	ModeDirectory Mode = typeDir | permDir
)

// IsDir reports whether m identifies a directory.
func (m Mode) IsDir() bool { return m&typeMask == typeDir }

// IsRegular reports whether m identifies a regular file.
func (m Mode) IsRegular() bool { return m&typeMask == typeFile }

// Raw is the fixed on-disk inode record. Field order follows fs.c's
// `inode_t` exactly (size, atime, mtime, ctime, mode, direct[], indirect[]);
// BLOCK_SIZE % sizeof(inode) == 0 is guaranteed by layout.InodeSize, leaving
// the rest of the record zero-padded reserved space.
type Raw struct {
	Size     uint32
	Atime    uint32
	Mtime    uint32
	Ctime    uint32
	Mode     Mode
	Direct   [layout.DirectPointers]uint32
	Indirect [layout.IndirectPointers]uint32
}

// wireSize is the portion of layout.InodeSize that Raw's fields actually
// occupy; the remainder is reserved padding zeroed on every write.
const wireSize = 4*5 + 4*layout.DirectPointers + 4*layout.IndirectPointers

// Allocated reports whether this inode describes a live file or directory.
// An all-zero Raw (Mode == 0) is the sentinel for "never written" or
// "unreadable because its bitmap bit is clear" (spec §8 invariant 1).
func (r Raw) Allocated() bool {
	return r.Mode != 0
}

// Store reads and writes inodes by index, computing their (block, offset)
// location the way spec §4.3 prescribes: block = InodeTableStart +
// n/inodesPerBlock, offset = n%inodesPerBlock, read-modify-write.
type Store struct {
	dev blockdev.Device
	sb  layout.Superblock
}

// NewStore creates an inode Store over dev using the geometry in sb.
func NewStore(dev blockdev.Device, sb layout.Superblock) *Store {
	return &Store{dev: dev, sb: sb}
}

func (s *Store) locate(n uint32) (blockNo uint32, offset uint32, err error) {
	if n >= s.sb.InodeCount {
		return 0, 0, errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("inode %d out of range [0, %d)", n, s.sb.InodeCount),
		)
	}
	perBlock := s.sb.InodesPerBlock()
	return layout.InodeTableStart + n/perBlock, n % perBlock, nil
}

// Read loads inode n from the table.
func (s *Store) Read(n uint32) (Raw, error) {
	blockNo, offset, err := s.locate(n)
	if err != nil {
		return Raw{}, err
	}

	block := make([]byte, s.dev.BlockSize())
	if err := s.dev.ReadBlock(blockNo, block); err != nil {
		return Raw{}, err
	}

	start := offset * layout.InodeSize
	var raw Raw
	if err := binary.Read(bytes.NewReader(block[start:start+wireSize]), binary.LittleEndian, &raw); err != nil {
		return Raw{}, errors.ErrIOFailed.WrapError(err)
	}
	return raw, nil
}

// Write persists inode n, read-modify-writing its containing block so
// neighboring inodes in the same block are untouched.
func (s *Store) Write(n uint32, raw Raw) error {
	blockNo, offset, err := s.locate(n)
	if err != nil {
		return err
	}

	block := make([]byte, s.dev.BlockSize())
	if err := s.dev.ReadBlock(blockNo, block); err != nil {
		return err
	}

	var w bytes.Buffer
	if err := binary.Write(&w, binary.LittleEndian, raw); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}

	start := offset * layout.InodeSize
	copy(block[start:start+layout.InodeSize], make([]byte, layout.InodeSize)) // clear reserved padding
	copy(block[start:start+wireSize], w.Bytes())

	return s.dev.WriteBlock(blockNo, block)
}
