package pathwalk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockfs/blockdev"
	"blockfs/blockmap"
	"blockfs/direntry"
	"blockfs/errors"
	"blockfs/inode"
	"blockfs/layout"
	"blockfs/pathwalk"
)

type fixture struct {
	inodes *inode.Store
	dirs   *direntry.Directory
	walker *pathwalk.Walker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dev := blockdev.NewMemory(512, 64)
	sb, err := layout.Compute(512, 64, 64)
	require.NoError(t, err)
	require.NoError(t, layout.Write(dev, sb))

	inodes := inode.NewStore(dev, sb)
	blocks := blockmap.New(dev, sb)
	dirs := direntry.New(dev, blocks, sb)

	root := inode.Raw{Mode: inode.ModeDirectory}
	require.NoError(t, inodes.Write(pathwalk.RootInode, root))

	return &fixture{inodes: inodes, dirs: dirs, walker: pathwalk.New(inodes, dirs)}
}

func (f *fixture) mkdir(t *testing.T, parent uint32, name string, inodeNum uint32) {
	t.Helper()
	raw, err := f.inodes.Read(parent)
	require.NoError(t, err)

	dirty, err := f.dirs.Insert(&raw, name, inodeNum)
	require.NoError(t, err)
	if dirty {
		require.NoError(t, f.inodes.Write(parent, raw))
	}

	child := inode.Raw{Mode: inode.ModeDirectory}
	require.NoError(t, f.inodes.Write(inodeNum, child))
}

func TestWalker_ResolveRoot(t *testing.T) {
	f := newFixture(t)

	got, err := f.walker.Resolve("/")
	require.NoError(t, err)
	assert.EqualValues(t, pathwalk.RootInode, got)
}

func TestWalker_ResolveNestedPath(t *testing.T) {
	f := newFixture(t)
	f.mkdir(t, pathwalk.RootInode, "a", 1)
	f.mkdir(t, 1, "b", 2)

	got, err := f.walker.Resolve("/a/b")
	require.NoError(t, err)
	assert.EqualValues(t, 2, got)
}

func TestWalker_ResolveCollapsesDuplicateSeparators(t *testing.T) {
	f := newFixture(t)
	f.mkdir(t, pathwalk.RootInode, "a", 1)

	got, err := f.walker.Resolve("//a//")
	require.NoError(t, err)
	assert.EqualValues(t, 1, got)
}

func TestWalker_ResolveMissingComponent(t *testing.T) {
	f := newFixture(t)

	_, err := f.walker.Resolve("/nope")
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestWalker_ResolveThroughNonDirectory(t *testing.T) {
	f := newFixture(t)
	raw, err := f.inodes.Read(pathwalk.RootInode)
	require.NoError(t, err)
	_, err = f.dirs.Insert(&raw, "file", 9)
	require.NoError(t, err)
	require.NoError(t, f.inodes.Write(pathwalk.RootInode, raw))
	require.NoError(t, f.inodes.Write(9, inode.Raw{Mode: inode.ModeRegular}))

	_, err = f.walker.Resolve("/file/anything")
	require.ErrorIs(t, err, errors.ErrNotADirectory)
}

func TestWalker_ResolveParent(t *testing.T) {
	f := newFixture(t)
	f.mkdir(t, pathwalk.RootInode, "a", 1)

	parent, name, err := f.walker.ResolveParent("/a/newfile")
	require.NoError(t, err)
	assert.EqualValues(t, 1, parent)
	assert.Equal(t, "newfile", name)
}

func TestWalker_ResolveParentTopLevel(t *testing.T) {
	f := newFixture(t)

	parent, name, err := f.walker.ResolveParent("/newfile")
	require.NoError(t, err)
	assert.EqualValues(t, pathwalk.RootInode, parent)
	assert.Equal(t, "newfile", name)
}

func TestWalker_ResolveParentNoComponents(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.walker.ResolveParent("/")
	require.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestWalker_ComponentTooLong(t *testing.T) {
	f := newFixture(t)

	_, err := f.walker.Resolve("/this-name-is-definitely-too-long-for-one-entry")
	require.ErrorIs(t, err, errors.ErrNameTooLong)
}
