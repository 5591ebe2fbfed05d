package blockdev

import (
	"fmt"
	"io"
	"os"

	"blockfs/errors"
)

// File is a Device backed by an os.File (or any io.ReadWriteSeeker), the
// usual way a disk image is represented when there's no real block device
// underneath. Reads and writes seek to the block's byte offset first, the
// same arithmetic disko's BlockStream uses.
type File struct {
	stream     io.ReadWriteSeeker
	blockSize  uint32
	blockCount uint32
}

// NewFile wraps stream as a Device with the given geometry. The caller is
// responsible for ensuring stream is at least blockSize*blockCount bytes
// long; use blockfs.Format to lay out a fresh image.
func NewFile(stream io.ReadWriteSeeker, blockSize, blockCount uint32) *File {
	return &File{stream: stream, blockSize: blockSize, blockCount: blockCount}
}

// OpenFile opens the disk image at path and wraps it as a Device, sizing
// blockCount from the file's length.
func OpenFile(path string, blockSize uint32) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.ErrIOFailed.WrapError(err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.ErrIOFailed.WrapError(err)
	}

	return NewFile(f, blockSize, uint32(info.Size())/blockSize), nil
}

func (d *File) BlockSize() uint32  { return d.blockSize }
func (d *File) BlockCount() uint32 { return d.blockCount }

func (d *File) blockOffset(blockNo uint32) int64 {
	return int64(blockNo) * int64(d.blockSize)
}

func (d *File) ReadBlock(blockNo uint32, buf []byte) error {
	if err := CheckBounds(d, blockNo, buf); err != nil {
		return err
	}
	if _, err := d.stream.Seek(d.blockOffset(blockNo), io.SeekStart); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}
	if _, err := io.ReadFull(d.stream, buf); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}
	return nil
}

func (d *File) WriteBlock(blockNo uint32, buf []byte) error {
	if err := CheckBounds(d, blockNo, buf); err != nil {
		return err
	}
	if _, err := d.stream.Seek(d.blockOffset(blockNo), io.SeekStart); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}
	n, err := d.stream.Write(buf)
	if err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}
	if n != len(buf) {
		return errors.ErrIOFailed.WithMessage(
			fmt.Sprintf("short write: wrote %d of %d bytes", n, len(buf)),
		)
	}
	return nil
}

// Close closes the underlying stream if it supports io.Closer.
func (d *File) Close() error {
	if closer, ok := d.stream.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
