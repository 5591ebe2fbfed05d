package layout_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockfs/blockdev"
	"blockfs/errors"
	"blockfs/layout"
)

func TestCompute_BasicGeometry(t *testing.T) {
	sb, err := layout.Compute(1024, 4096, 256)
	require.NoError(t, err)

	assert.EqualValues(t, 1024, sb.BlockSize)
	assert.EqualValues(t, 4096, sb.BlockCount)
	assert.EqualValues(t, 256, sb.InodeCount)
	assert.EqualValues(t, layout.InodeTableStart+sb.InodeTableBlocks, sb.DataStart)
	assert.EqualValues(t, sb.BlockCount-sb.DataStart, sb.DataBlockCount)
}

func TestCompute_RejectsZeroInodeCount(t *testing.T) {
	_, err := layout.Compute(1024, 4096, 0)
	require.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestCompute_RejectsBlockSizeNotDivisible(t *testing.T) {
	_, err := layout.Compute(100, 4096, 64)
	require.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestCompute_RejectsTooFewBlocksForMetadata(t *testing.T) {
	_, err := layout.Compute(1024, 4, 256)
	require.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestCompute_RejectsDataAreaExceedingBitmapCapacity(t *testing.T) {
	_, err := layout.Compute(512, 1<<20, 64)
	require.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestMaxFileSize(t *testing.T) {
	sb, err := layout.Compute(1024, 8192, 256)
	require.NoError(t, err)

	pointersPerIndirect := uint64(1024) / 4
	expected := (uint64(12) + 2*pointersPerIndirect) * 1024
	assert.Equal(t, expected, sb.MaxFileSize())
}

func TestWriteAndReadRoundTrip(t *testing.T) {
	dev := blockdev.NewMemory(1024, 4096)
	sb, err := layout.Compute(1024, 4096, 256)
	require.NoError(t, err)

	require.NoError(t, layout.Write(dev, sb))

	loaded, err := layout.Read(dev)
	require.NoError(t, err)
	assert.Equal(t, sb, loaded)
}

func TestRead_RejectsBadMagic(t *testing.T) {
	dev := blockdev.NewMemory(1024, 4096)
	_, err := layout.Read(dev)
	require.ErrorIs(t, err, errors.ErrInvalidFileSystem)
}
