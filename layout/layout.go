// Package layout owns the on-disk block numbering scheme described in
// spec.md §3: where the superblock, bitmaps, inode table, and data area each
// begin, and the superblock's own wire format.
package layout

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"blockfs/blockdev"
	"blockfs/errors"
)

const (
	// SuperblockNum is the fixed block number of the superblock.
	SuperblockNum uint32 = 0
	// InodeBitmapNum is the fixed block number of the inode bitmap.
	InodeBitmapNum uint32 = 1
	// DataBitmapStart is the first of the two fixed blocks holding the data
	// bitmap.
	DataBitmapStart uint32 = 2
	// DataBitmapBlocks is how many blocks the data bitmap always occupies.
	DataBitmapBlocks uint32 = 2
	// InodeTableStart is the first block of the inode table.
	InodeTableStart uint32 = DataBitmapStart + DataBitmapBlocks

	// DirectPointers is the number of direct block pointers in an inode.
	DirectPointers = 12
	// IndirectPointers is the number of single-level indirect pointers in an
	// inode.
	IndirectPointers = 2
	// MaxFilenameLen is the longest name (not counting the terminator) a
	// directory entry can hold.
	MaxFilenameLen = 24

	// DefaultInodeCount is the fixed total inode count used when a new image
	// is formatted without an explicit override.
	DefaultInodeCount = 32768

	magic   uint32 = 0x626c6b66 // "blkf"
	version uint16 = 1
)

// Superblock is the persisted record of the constants that describe the rest
// of the on-disk layout. Everything here is computed once at format time and
// is read-only for the remainder of the mount (spec §5).
type Superblock struct {
	Magic            uint32
	Version          uint16
	BlockSize        uint32
	BlockCount       uint32
	InodeCount       uint32
	InodeTableBlocks uint32
	DataBitmapBlocks uint32
	DataStart        uint32
	DataBlockCount   uint32
}

// rawSuperblock is the fixed-width wire layout written to block 0.
// encoding/binary requires fixed-size fields in a fixed order, matching the
// plain C struct fs.c itself declares for `struct superblock`.
type rawSuperblock struct {
	Magic            uint32
	Version          uint16
	_                uint16 // padding to keep the rest of the struct 4-byte aligned
	BlockSize        uint32
	BlockCount       uint32
	InodeCount       uint32
	InodeTableBlocks uint32
	DataBitmapBlocks uint32
	DataStart        uint32
	DataBlockCount   uint32
}

// InodeSize is the fixed on-disk size of one inode record. It is chosen so
// that it divides every block size this filesystem is ever formatted with
// (512, 1024, 4096, ...), per spec §3's "BLOCK_SIZE % sizeof(inode) == 0".
const InodeSize = 128

// DirEntrySize is the fixed on-disk size of one directory entry record, same
// divisibility requirement as InodeSize.
const DirEntrySize = 32

// Compute derives a Superblock from the requested geometry. inodeCount must
// be nonzero; callers pass DefaultInodeCount unless they have a reason not
// to.
func Compute(blockSize, blockCount, inodeCount uint32) (Superblock, error) {
	if inodeCount == 0 {
		return Superblock{}, errors.ErrInvalidArgument.WithMessage("inode count must be nonzero")
	}
	if blockSize == 0 || blockSize%uint32(InodeSize) != 0 || blockSize%uint32(DirEntrySize) != 0 {
		return Superblock{}, errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("block size %d must be a multiple of both %d and %d", blockSize, InodeSize, DirEntrySize),
		)
	}

	inodesPerBlock := blockSize / InodeSize
	inodeTableBlocks := (inodeCount + inodesPerBlock - 1) / inodesPerBlock
	dataStart := InodeTableStart + inodeTableBlocks

	if blockCount <= dataStart {
		return Superblock{}, errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("device has only %d blocks, need at least %d for metadata", blockCount, dataStart+1),
		)
	}
	dataBlockCount := blockCount - dataStart

	maxDataBlocks := DataBitmapBlocks * blockSize * 8
	if dataBlockCount > maxDataBlocks {
		return Superblock{}, errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("data area of %d blocks exceeds the %d-block data bitmap capacity", dataBlockCount, maxDataBlocks),
		)
	}

	return Superblock{
		Magic:            magic,
		Version:          version,
		BlockSize:        blockSize,
		BlockCount:       blockCount,
		InodeCount:       inodeCount,
		InodeTableBlocks: inodeTableBlocks,
		DataBitmapBlocks: DataBitmapBlocks,
		DataStart:        dataStart,
		DataBlockCount:   dataBlockCount,
	}, nil
}

// MaxFileSize is the largest file size in bytes this layout can address: 12
// direct blocks plus 2 indirect blocks, each holding BlockSize/4 pointers.
func (sb Superblock) MaxFileSize() uint64 {
	pointersPerIndirect := uint64(sb.BlockSize) / 4
	totalBlocks := uint64(DirectPointers) + uint64(IndirectPointers)*pointersPerIndirect
	return totalBlocks * uint64(sb.BlockSize)
}

// PointersPerIndirectBlock returns how many physical block numbers fit in a
// single indirect (index) block.
func (sb Superblock) PointersPerIndirectBlock() uint32 {
	return sb.BlockSize / 4
}

// InodesPerBlock returns how many fixed-size inode records fit in one block.
func (sb Superblock) InodesPerBlock() uint32 {
	return sb.BlockSize / InodeSize
}

// DirEntriesPerBlock returns how many fixed-size directory entries fit in one
// block.
func (sb Superblock) DirEntriesPerBlock() uint32 {
	return sb.BlockSize / DirEntrySize
}

// Write serializes sb to block 0 of dev.
func Write(dev blockdev.Device, sb Superblock) error {
	raw := rawSuperblock{
		Magic:            sb.Magic,
		Version:          sb.Version,
		BlockSize:        sb.BlockSize,
		BlockCount:       sb.BlockCount,
		InodeCount:       sb.InodeCount,
		InodeTableBlocks: sb.InodeTableBlocks,
		DataBitmapBlocks: sb.DataBitmapBlocks,
		DataStart:        sb.DataStart,
		DataBlockCount:   sb.DataBlockCount,
	}

	buf := make([]byte, dev.BlockSize())
	var w bytes.Buffer
	if err := binary.Write(&w, binary.LittleEndian, raw); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}
	copy(buf, w.Bytes())

	return dev.WriteBlock(SuperblockNum, buf)
}

// Read loads the superblock from block 0 of dev and validates its magic.
func Read(dev blockdev.Device) (Superblock, error) {
	buf := make([]byte, dev.BlockSize())
	if err := dev.ReadBlock(SuperblockNum, buf); err != nil {
		return Superblock{}, err
	}

	var raw rawSuperblock
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &raw); err != nil {
		return Superblock{}, errors.ErrIOFailed.WrapError(err)
	}

	if raw.Magic != magic {
		return Superblock{}, errors.ErrInvalidFileSystem.WithMessage(
			fmt.Sprintf("bad superblock magic 0x%x, expected 0x%x", raw.Magic, magic),
		)
	}

	return Superblock{
		Magic:            raw.Magic,
		Version:          raw.Version,
		BlockSize:        raw.BlockSize,
		BlockCount:       raw.BlockCount,
		InodeCount:       raw.InodeCount,
		InodeTableBlocks: raw.InodeTableBlocks,
		DataBitmapBlocks: raw.DataBitmapBlocks,
		DataStart:        raw.DataStart,
		DataBlockCount:   raw.DataBlockCount,
	}, nil
}
