package blockfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockfs"
	"blockfs/blockdev"
	"blockfs/errors"
)

func formatMemFS(t *testing.T) (*blockfs.Filesystem, *blockdev.Memory) {
	t.Helper()
	dev := blockdev.NewMemory(1024, 4096)
	fs, err := blockfs.Format(dev, 256)
	require.NoError(t, err)
	return fs, dev
}

func readdirNames(t *testing.T, fs *blockfs.Filesystem, path string) []string {
	t.Helper()
	var names []string
	err := fs.Readdir(path, func(name string, inodeNum uint32) bool {
		names = append(names, name)
		return true
	})
	require.NoError(t, err)
	return names
}

// Scenario 1: format -> root is empty.
func TestScenario_FormatRootIsEmpty(t *testing.T) {
	fs, _ := formatMemFS(t)

	names := readdirNames(t, fs, "/")
	assert.ElementsMatch(t, []string{".", ".."}, names)

	stat, err := fs.Getattr("/")
	require.NoError(t, err)
	assert.True(t, stat.IsDir())
	assert.EqualValues(t, 0, stat.Size)
}

// Scenario 2: create, write, read.
func TestScenario_CreateWriteRead(t *testing.T) {
	fs, _ := formatMemFS(t)

	require.NoError(t, fs.Mknod("/a"))

	n, err := fs.Write("/a", []byte("hello"), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = fs.Read("/a", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))

	stat, err := fs.Getattr("/a")
	require.NoError(t, err)
	assert.EqualValues(t, 5, stat.Size)
}

// Scenario 3: nested directories.
func TestScenario_NestedDirectories(t *testing.T) {
	fs, _ := formatMemFS(t)

	require.NoError(t, fs.Mkdir("/d"))
	require.NoError(t, fs.Mknod("/d/f"))

	names := readdirNames(t, fs, "/d")
	assert.ElementsMatch(t, []string{".", "..", "f"}, names)

	stat, err := fs.Getattr("/d/f")
	require.NoError(t, err)
	assert.True(t, stat.IsFile())
}

// Scenario 4: large file exercising indirect addressing.
func TestScenario_LargeFileWithIndirection(t *testing.T) {
	fs, _ := formatMemFS(t)
	sb := fs.Superblock()

	require.NoError(t, fs.Mknod("/big"))

	pointersPerIndirect := sb.PointersPerIndirectBlock()
	offset := (12 + pointersPerIndirect - 1) * sb.BlockSize

	before, err := fs.Statfs()
	require.NoError(t, err)

	data := make([]byte, sb.BlockSize)
	for i := range data {
		data[i] = byte(i)
	}

	n, err := fs.Write("/big", data, offset, 0)
	require.NoError(t, err)
	assert.EqualValues(t, sb.BlockSize, n)

	after, err := fs.Statfs()
	require.NoError(t, err)
	assert.Equal(t, before.BlocksFree-2, after.BlocksFree, "one data block plus one index block")

	readBack := make([]byte, sb.BlockSize)
	n, err = fs.Read("/big", readBack, offset)
	require.NoError(t, err)
	assert.EqualValues(t, sb.BlockSize, n)
	assert.Equal(t, data, readBack)
}

// Scenario 5: rename across directories.
func TestScenario_RenameAcrossDirectories(t *testing.T) {
	fs, _ := formatMemFS(t)

	require.NoError(t, fs.Mkdir("/x"))
	require.NoError(t, fs.Mkdir("/y"))
	require.NoError(t, fs.Mknod("/x/f"))
	_, err := fs.Write("/x/f", []byte("abc"), 0, 0)
	require.NoError(t, err)

	require.NoError(t, fs.Rename("/x/f", "/y/g"))

	names := readdirNames(t, fs, "/x")
	assert.ElementsMatch(t, []string{".", ".."}, names)

	buf := make([]byte, 3)
	n, err := fs.Read("/y/g", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "abc", string(buf))
}

// Scenario 6: delete reclaims blocks.
func TestScenario_DeleteReclaimsBlocks(t *testing.T) {
	fs, _ := formatMemFS(t)
	sb := fs.Superblock()

	require.NoError(t, fs.Mknod("/z"))

	data := make([]byte, sb.BlockSize*10)
	_, err := fs.Write("/z", data, 0, 0)
	require.NoError(t, err)

	before, err := fs.Statfs()
	require.NoError(t, err)

	require.NoError(t, fs.Unlink("/z"))

	after, err := fs.Statfs()
	require.NoError(t, err)
	assert.Equal(t, before.BlocksFree+10, after.BlocksFree)
}

func TestMountAfterFormatPreservesRootAndSuperblock(t *testing.T) {
	fs, dev := formatMemFS(t)
	sbBefore := fs.Superblock()
	rootBefore, err := fs.Getattr("/")
	require.NoError(t, err)

	reloaded, err := blockfs.Mount(dev)
	require.NoError(t, err)

	assert.Equal(t, sbBefore, reloaded.Superblock())

	rootAfter, err := reloaded.Getattr("/")
	require.NoError(t, err)
	assert.Equal(t, rootBefore.ModeFlags, rootAfter.ModeFlags)
	assert.Equal(t, rootBefore.Size, rootAfter.Size)
}

func TestMknodDuplicateNameFails(t *testing.T) {
	fs, _ := formatMemFS(t)
	require.NoError(t, fs.Mknod("/a"))

	err := fs.Mknod("/a")
	require.ErrorIs(t, err, errors.ErrExists)
}

func TestUnlinkDirectoryFails(t *testing.T) {
	fs, _ := formatMemFS(t)
	require.NoError(t, fs.Mkdir("/d"))

	err := fs.Unlink("/d")
	require.ErrorIs(t, err, errors.ErrIsADirectory)
}

func TestRmdirNonEmptyFails(t *testing.T) {
	fs, _ := formatMemFS(t)
	require.NoError(t, fs.Mkdir("/d"))
	require.NoError(t, fs.Mknod("/d/f"))

	err := fs.Rmdir("/d")
	require.ErrorIs(t, err, errors.ErrDirectoryNotEmpty)
}

func TestRenameSameInodeIsNoOp(t *testing.T) {
	fs, _ := formatMemFS(t)
	require.NoError(t, fs.Mknod("/a"))

	require.NoError(t, fs.Rename("/a", "/a"))

	names := readdirNames(t, fs, "/")
	assert.Contains(t, names, "a")
}

func TestRenameOntoDifferentInodeFails(t *testing.T) {
	fs, _ := formatMemFS(t)
	require.NoError(t, fs.Mknod("/a"))
	require.NoError(t, fs.Mknod("/b"))

	err := fs.Rename("/a", "/b")
	require.ErrorIs(t, err, errors.ErrExists)
}

func TestTruncateShrinkFreesBlocks(t *testing.T) {
	fs, _ := formatMemFS(t)
	sb := fs.Superblock()
	require.NoError(t, fs.Mknod("/f"))

	data := make([]byte, sb.BlockSize*3)
	_, err := fs.Write("/f", data, 0, 0)
	require.NoError(t, err)

	before, err := fs.Statfs()
	require.NoError(t, err)

	require.NoError(t, fs.Truncate("/f", sb.BlockSize))

	after, err := fs.Statfs()
	require.NoError(t, err)
	assert.Equal(t, before.BlocksFree+2, after.BlocksFree)

	stat, err := fs.Getattr("/f")
	require.NoError(t, err)
	assert.EqualValues(t, sb.BlockSize, stat.Size)
}

func TestTruncateIdempotent(t *testing.T) {
	fs, _ := formatMemFS(t)
	sb := fs.Superblock()
	require.NoError(t, fs.Mknod("/f"))

	require.NoError(t, fs.Truncate("/f", sb.BlockSize*2))
	statOnce, err := fs.Getattr("/f")
	require.NoError(t, err)

	require.NoError(t, fs.Truncate("/f", sb.BlockSize*2))
	statTwice, err := fs.Getattr("/f")
	require.NoError(t, err)

	assert.Equal(t, statOnce.Size, statTwice.Size)
}

func TestReadPastEOFReturnsZero(t *testing.T) {
	fs, _ := formatMemFS(t)
	require.NoError(t, fs.Mknod("/f"))
	_, err := fs.Write("/f", []byte("abc"), 0, 0)
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := fs.Read("/f", buf, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReadHoleReturnsZeroes(t *testing.T) {
	fs, _ := formatMemFS(t)
	sb := fs.Superblock()
	require.NoError(t, fs.Mknod("/f"))

	// Write only into the second logical block, leaving the first a hole.
	_, err := fs.Write("/f", []byte("x"), sb.BlockSize, 0)
	require.NoError(t, err)

	buf := make([]byte, sb.BlockSize)
	n, err := fs.Read("/f", buf, 0)
	require.NoError(t, err)
	assert.EqualValues(t, sb.BlockSize, n)
	for _, b := range buf {
		assert.Zero(t, b)
	}
}

func TestWriteExactlyMaxFileSizeSucceedsOneMoreFails(t *testing.T) {
	fs, _ := formatMemFS(t)
	sb := fs.Superblock()
	require.NoError(t, fs.Mknod("/f"))

	maxSize := sb.MaxFileSize()

	_, err := fs.Write("/f", []byte("x"), uint32(maxSize-1), 0)
	require.NoError(t, err)

	_, err = fs.Write("/f", []byte("x"), uint32(maxSize), 0)
	require.ErrorIs(t, err, errors.ErrFileTooLarge)
}

func TestAppendFlagWritesAtEOF(t *testing.T) {
	fs, _ := formatMemFS(t)
	require.NoError(t, fs.Mknod("/f"))

	_, err := fs.Write("/f", []byte("abc"), 0, 0)
	require.NoError(t, err)
	_, err = fs.Write("/f", []byte("def"), 0, blockfs.WriteFlagAppend)
	require.NoError(t, err)

	buf := make([]byte, 6)
	n, err := fs.Read("/f", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcdef", string(buf))
}

func TestNameExactlyMaxLengthAcceptedOneMoreRejected(t *testing.T) {
	fs, _ := formatMemFS(t)

	exact := make([]byte, 24)
	for i := range exact {
		exact[i] = 'a'
	}
	require.NoError(t, fs.Mknod("/"+string(exact)))

	tooLong := make([]byte, 25)
	for i := range tooLong {
		tooLong[i] = 'b'
	}
	err := fs.Mknod("/" + string(tooLong))
	require.ErrorIs(t, err, errors.ErrNameTooLong)
}

func TestCheckReportsNoProblemsOnFreshFilesystem(t *testing.T) {
	fs, _ := formatMemFS(t)
	require.NoError(t, fs.Mkdir("/d"))
	require.NoError(t, fs.Mknod("/d/f"))
	_, err := fs.Write("/d/f", []byte("hello"), 0, 0)
	require.NoError(t, err)

	report, err := fs.Check()
	require.NoError(t, err)
	assert.True(t, report.OK(), "unexpected problems: %v", report.Problems)
}
