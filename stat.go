package blockfs

import (
	"os"
	"time"
)

// FileStat is a platform-independent description of a single file or
// directory, analogous to syscall.Stat_t. Trimmed to the fields this
// filesystem actually tracks: there are no hard links, uids/gids, device
// nodes, or symlinks (spec.md §1 Non-goals), so the link-count, owner and
// device fields are omitted entirely.
type FileStat struct {
	InodeNumber  uint64
	ModeFlags    os.FileMode
	Size         int64
	BlockSize    int64
	NumBlocks    int64
	LastChanged  time.Time
	LastAccessed time.Time
	LastModified time.Time
}

// IsDir reports whether the stat describes a directory.
func (stat *FileStat) IsDir() bool {
	return stat.ModeFlags.IsDir()
}

// IsFile reports whether the stat describes a regular file.
func (stat *FileStat) IsFile() bool {
	return stat.ModeFlags.IsRegular()
}

// FSStat is a platform-independent description of filesystem-wide
// utilization, analogous to syscall.Statfs_t, matching the fields
// spec.md §4.7's statfs operation reports.
type FSStat struct {
	BlockSize       int64
	TotalBlocks     uint64
	BlocksFree      uint64
	BlocksAvailable uint64
	Files           uint64
	FilesFree       uint64
	FilesAvailable  uint64
	MaxNameLength   int64
}
