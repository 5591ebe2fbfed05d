package blockdev

import (
	"github.com/xaionaro-go/bytesextra"
)

// Memory is a Device backed entirely by an in-process byte slice. It's used
// throughout this module's own tests in place of a real disk image, exactly
// the role disko's testing.LoadDiskImage played for that library's test
// suite.
type Memory struct {
	*File
	backing []byte
}

// NewMemory allocates a zero-filled in-memory device with the given geometry.
func NewMemory(blockSize, blockCount uint32) *Memory {
	backing := make([]byte, int(blockSize)*int(blockCount))
	return WrapMemory(backing, blockSize)
}

// WrapMemory wraps an existing byte slice as a Device. len(backing) must be
// an exact multiple of blockSize.
func WrapMemory(backing []byte, blockSize uint32) *Memory {
	stream := bytesextra.NewReadWriteSeeker(backing)
	blockCount := uint32(len(backing)) / blockSize
	return &Memory{
		File:    NewFile(stream, blockSize, blockCount),
		backing: backing,
	}
}

// Bytes returns the raw backing slice. Mutating it bypasses Device's bounds
// checking; intended for test assertions only.
func (d *Memory) Bytes() []byte {
	return d.backing
}
