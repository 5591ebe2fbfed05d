// Package blockdev defines the block device abstraction blockfs is built on:
// a fixed number of fixed-size blocks, numbered 0..BlockCount-1, that can only
// be read or written a whole block at a time. Per spec, the real driver (disk
// controller, raw device file, FUSE loopback, ...) lives outside this module;
// this package only supplies the interface plus two reference
// implementations (File and Memory) used by the rest of blockfs and by its
// tests, and Cached, a write-through cache that wraps another Device.
package blockdev

import (
	"fmt"

	"blockfs/errors"
)

// Device is the block device adapter blockfs consumes. It mirrors the
// disk_read(block_no, buf) / disk_write(block_no, buf) pair from spec §6:
// every call moves exactly one block's worth of bytes.
type Device interface {
	// BlockSize returns the number of bytes in a single block.
	BlockSize() uint32
	// BlockCount returns the total number of blocks on the device.
	BlockCount() uint32
	// ReadBlock fills buf (which must be exactly BlockSize() bytes) with the
	// contents of block blockNo.
	ReadBlock(blockNo uint32, buf []byte) error
	// WriteBlock writes buf (which must be exactly BlockSize() bytes) to
	// block blockNo.
	WriteBlock(blockNo uint32, buf []byte) error
}

// CheckBounds validates that blockNo is addressable on dev and that buf is
// exactly one block long. Both reference implementations call this before
// touching their backing storage.
func CheckBounds(dev Device, blockNo uint32, buf []byte) error {
	if blockNo >= dev.BlockCount() {
		return errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("block %d not in range [0, %d)", blockNo, dev.BlockCount()),
		)
	}
	if uint32(len(buf)) != dev.BlockSize() {
		return errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("buffer is %d bytes, want exactly %d", len(buf), dev.BlockSize()),
		)
	}
	return nil
}
