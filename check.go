package blockfs

import (
	"fmt"

	"blockfs/inode"
	"blockfs/layout"
)

// CheckReport summarizes the result of a read-only consistency walk. It
// never repairs anything (crash recovery and journaling are explicit
// Non-goals); it only reports, the way a filesystem checker's "dry run" mode
// would.
type CheckReport struct {
	Problems []string
}

// OK reports whether the walk found no problems.
func (r CheckReport) OK() bool {
	return len(r.Problems) == 0
}

// Check walks every allocated inode and its reachable blocks, cross-checking
// them against the bitmaps and the directory name-uniqueness invariant. It
// reports inodes whose bitmap bit is set but whose mode is zero, reachable
// blocks outside the data area or with a clear data-bitmap bit, blocks
// reachable from two inodes, and directory names that repeat or exceed
// MaxFilenameLen. It does not compare Statfs's free-block count with the data
// bitmap, since Statfs computes that count from the bitmap itself.
func (fs *Filesystem) Check() (CheckReport, error) {
	var report CheckReport

	inodeBitmap, err := fs.loadInodeBitmap()
	if err != nil {
		return report, err
	}
	dataBitmap, err := fs.blocks.LoadDataBitmapForCheck()
	if err != nil {
		return report, err
	}

	seenBlocks := make(map[uint32]uint32) // physical block -> owning inode

	for n := uint32(0); n < fs.sb.InodeCount; n++ {
		used := inodeBitmap.IsSet(n)

		raw, err := fs.readInode(n)
		if err != nil {
			return report, err
		}

		if used && !raw.Allocated() {
			report.Problems = append(report.Problems, fmt.Sprintf(
				"inode %d: bitmap bit set but mode is zero", n))
			continue
		}
		if !used {
			continue
		}

		for _, phys := range raw.Direct {
			fs.checkReachableBlock(&report, dataBitmap, seenBlocks, n, phys)
		}
		for _, indexBlock := range raw.Indirect {
			if indexBlock == 0 {
				continue
			}
			fs.checkReachableBlock(&report, dataBitmap, seenBlocks, n, indexBlock)

			slots, err := fs.blocks.ReadIndirectSlotsForCheck(indexBlock)
			if err != nil {
				return report, err
			}
			for _, phys := range slots {
				fs.checkReachableBlock(&report, dataBitmap, seenBlocks, n, phys)
			}
		}

		if raw.Mode.IsDir() {
			if err := fs.checkDirectoryNames(&report, n, raw); err != nil {
				return report, err
			}
		}
	}

	return report, nil
}

func (fs *Filesystem) checkReachableBlock(
	report *CheckReport,
	dataBitmap checkBitmap,
	seenBlocks map[uint32]uint32,
	owner uint32,
	phys uint32,
) {
	if phys == 0 {
		return
	}

	if phys < fs.sb.DataStart || phys >= fs.sb.DataStart+fs.sb.DataBlockCount {
		report.Problems = append(report.Problems, fmt.Sprintf(
			"inode %d: references block %d outside the data area", owner, phys))
		return
	}

	if !dataBitmap.IsSet(phys - fs.sb.DataStart) {
		report.Problems = append(report.Problems, fmt.Sprintf(
			"inode %d: references block %d whose data-bitmap bit is clear", owner, phys))
	}

	if prevOwner, ok := seenBlocks[phys]; ok {
		report.Problems = append(report.Problems, fmt.Sprintf(
			"block %d is reachable from both inode %d and inode %d", phys, prevOwner, owner))
		return
	}
	seenBlocks[phys] = owner
}

func (fs *Filesystem) checkDirectoryNames(report *CheckReport, n uint32, raw inode.Raw) error {
	entries, err := fs.dirs.Enumerate(&raw)
	if err != nil {
		return err
	}

	seenNames := make(map[string]bool, len(entries))
	for _, e := range entries {
		if len(e.Name) > layout.MaxFilenameLen {
			report.Problems = append(report.Problems, fmt.Sprintf(
				"directory inode %d: entry %q exceeds MAX_FILENAME_LEN", n, e.Name))
		}
		if seenNames[e.Name] {
			report.Problems = append(report.Problems, fmt.Sprintf(
				"directory inode %d: duplicate entry name %q", n, e.Name))
		}
		seenNames[e.Name] = true
	}
	return nil
}

// checkBitmap is the minimal read interface Check needs from a bitmap
// allocator, satisfied by *bitmap.Allocator.
type checkBitmap interface {
	IsSet(index uint32) bool
}
