package direntry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockfs/blockdev"
	"blockfs/blockmap"
	"blockfs/direntry"
	"blockfs/inode"
	"blockfs/layout"
)

func newTestDirectory(t *testing.T) (*direntry.Directory, *inode.Raw) {
	t.Helper()

	dev := blockdev.NewMemory(512, 64)
	sb, err := layout.Compute(512, 64, 64)
	require.NoError(t, err)
	require.NoError(t, layout.Write(dev, sb))

	blocks := blockmap.New(dev, sb)
	dir := direntry.New(dev, blocks, sb)

	raw := &inode.Raw{Mode: inode.ModeDirectory}
	return dir, raw
}

func TestDirectory_InsertAndLookup(t *testing.T) {
	dir, raw := newTestDirectory(t)

	dirty, err := dir.Insert(raw, "alpha", 5)
	require.NoError(t, err)
	assert.True(t, dirty)

	_, err = dir.Insert(raw, "beta", 6)
	require.NoError(t, err)

	found, err := dir.Lookup(raw, "alpha")
	require.NoError(t, err)
	assert.EqualValues(t, 5, found)

	found, err = dir.Lookup(raw, "beta")
	require.NoError(t, err)
	assert.EqualValues(t, 6, found)
}

func TestDirectory_LookupMissingReturnsNotFound(t *testing.T) {
	dir, raw := newTestDirectory(t)

	_, err := dir.Lookup(raw, "nope")
	require.Error(t, err)
}

func TestDirectory_RemoveTombstonesWithoutShrinking(t *testing.T) {
	dir, raw := newTestDirectory(t)

	_, err := dir.Insert(raw, "alpha", 5)
	require.NoError(t, err)
	sizeAfterInsert := raw.Size

	require.NoError(t, dir.Remove(raw, "alpha"))
	assert.Equal(t, sizeAfterInsert, raw.Size, "tombstoning must not shrink the directory")

	_, err = dir.Lookup(raw, "alpha")
	require.Error(t, err)
}

func TestDirectory_InsertReusesTombstonedSlot(t *testing.T) {
	dir, raw := newTestDirectory(t)

	_, err := dir.Insert(raw, "alpha", 5)
	require.NoError(t, err)
	_, err = dir.Insert(raw, "beta", 6)
	require.NoError(t, err)

	require.NoError(t, dir.Remove(raw, "alpha"))
	sizeBeforeReuse := raw.Size

	_, err = dir.Insert(raw, "gamma", 7)
	require.NoError(t, err)
	assert.Equal(t, sizeBeforeReuse, raw.Size, "insert should have reused the tombstoned slot instead of appending")

	found, err := dir.Lookup(raw, "gamma")
	require.NoError(t, err)
	assert.EqualValues(t, 7, found)
}

func TestDirectory_Enumerate(t *testing.T) {
	dir, raw := newTestDirectory(t)

	_, err := dir.Insert(raw, "alpha", 5)
	require.NoError(t, err)
	_, err = dir.Insert(raw, "beta", 6)
	require.NoError(t, err)
	require.NoError(t, dir.Remove(raw, "alpha"))

	entries, err := dir.Enumerate(raw)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "beta", entries[0].Name)
	assert.EqualValues(t, 6, entries[0].InodeNum)
}

func TestDirectory_NameTooLong(t *testing.T) {
	dir, raw := newTestDirectory(t)

	_, err := dir.Insert(raw, "this-name-is-definitely-too-long-for-one-entry", 5)
	require.Error(t, err)
}

func TestDirectory_HasLiveEntries(t *testing.T) {
	dir, raw := newTestDirectory(t)

	hasEntries, err := dir.HasLiveEntries(raw)
	require.NoError(t, err)
	assert.False(t, hasEntries)

	_, err = dir.Insert(raw, "alpha", 5)
	require.NoError(t, err)

	nonEmpty, err := dir.HasLiveEntries(raw)
	require.NoError(t, err)
	assert.True(t, nonEmpty)
}
