// Package bitmap implements the single-source-of-truth free/used tracking
// spec §4.2 requires of the inode and data-block allocators: a linear
// first-fit scan over a bit-per-unit map, deterministic and reproducible.
package bitmap

import (
	"fmt"

	gobitmap "github.com/boljen/go-bitmap"

	"blockfs/errors"
)

// Allocator is a first-fit allocator over a fixed number of units (inodes or
// data blocks). It holds no information about what each unit represents;
// callers decide what index 0 means.
type Allocator struct {
	bits  gobitmap.Bitmap
	count uint32
}

// New creates an allocator over count units, all initially free.
func New(count uint32) *Allocator {
	return &Allocator{bits: gobitmap.New(int(count)), count: count}
}

// Load wraps raw bitmap bytes (as read from a bitmap block on disk) without
// copying allocation state; the returned Allocator's Set calls mutate raw in
// place, matching spec §4.2's "freshly reads the bitmap block(s) ... on every
// call" allocator model when the caller re-loads raw before each operation.
func Load(raw []byte, count uint32) *Allocator {
	return &Allocator{bits: gobitmap.Bitmap(raw), count: count}
}

// Bytes returns the raw bitmap storage, ready to be written back to its
// backing block(s).
func (a *Allocator) Bytes() []byte {
	return []byte(a.bits)
}

// Count returns the total number of units this allocator tracks.
func (a *Allocator) Count() uint32 {
	return a.count
}

// IsSet reports whether unit index is currently allocated.
func (a *Allocator) IsSet(index uint32) bool {
	return a.bits.Get(int(index))
}

// Set forces the allocation state of index, bypassing the scan. Used to seed
// reserved units (e.g. inode 0, the root) at format time.
func (a *Allocator) Set(index uint32, used bool) {
	a.bits.Set(int(index), used)
}

// Allocate scans from the low end for the first free unit, marks it used, and
// returns its index. This is the deterministic "first clear bit" policy spec
// §4.2 calls for.
func (a *Allocator) Allocate() (uint32, error) {
	for i := uint32(0); i < a.count; i++ {
		if !a.bits.Get(int(i)) {
			a.bits.Set(int(i), true)
			return i, nil
		}
	}
	return 0, errors.ErrNoSpaceOnDevice
}

// Free marks index as unallocated. Per spec §4.2, callers must not rely on
// this being a no-op when index is already clear; it always just writes the
// bit.
func (a *Allocator) Free(index uint32) error {
	if index >= a.count {
		return errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("unit %d not in range [0, %d)", index, a.count),
		)
	}
	a.bits.Set(int(index), false)
	return nil
}

// FreeCount returns the number of currently-unallocated units, used directly
// by statfs's f_bfree/f_ffree (spec §4.7).
func (a *Allocator) FreeCount() uint32 {
	used := uint32(0)
	for i := uint32(0); i < a.count; i++ {
		if a.bits.Get(int(i)) {
			used++
		}
	}
	return a.count - used
}
