// Package blockmap implements spec.md §4.4: translating a logical block
// index within a file into a physical block number, lazily allocating
// direct and indirect index blocks as needed.
package blockmap

import (
	"encoding/binary"
	"fmt"

	"blockfs/bitmap"
	"blockfs/blockdev"
	"blockfs/errors"
	"blockfs/inode"
	"blockfs/layout"
)

// Mapper resolves logical block indices against an inode's direct and
// indirect pointers, allocating from the data bitmap on demand. It never
// persists the inode it's given; per spec §4.4 ("The block mapper ownership")
// the caller must Write the inode back if BlockFor reports it was modified.
type Mapper struct {
	dev blockdev.Device
	sb  layout.Superblock
}

// New creates a Mapper over dev using sb's geometry.
func New(dev blockdev.Device, sb layout.Superblock) *Mapper {
	return &Mapper{dev: dev, sb: sb}
}

// loadDataBitmap reads the two-block data bitmap fresh from disk. Per spec
// §4.2 there is no in-memory cache: every allocator call re-reads state.
func (m *Mapper) loadDataBitmap() (*bitmap.Allocator, error) {
	raw := make([]byte, layout.DataBitmapBlocks*m.sb.BlockSize)
	for i := uint32(0); i < layout.DataBitmapBlocks; i++ {
		if err := m.dev.ReadBlock(layout.DataBitmapStart+i, raw[i*m.sb.BlockSize:(i+1)*m.sb.BlockSize]); err != nil {
			return nil, err
		}
	}
	return bitmap.Load(raw, m.sb.DataBlockCount), nil
}

func (m *Mapper) storeDataBitmap(alloc *bitmap.Allocator) error {
	raw := alloc.Bytes()
	for i := uint32(0); i < layout.DataBitmapBlocks; i++ {
		lo, hi := i*m.sb.BlockSize, (i+1)*m.sb.BlockSize
		if hi > uint32(len(raw)) {
			hi = uint32(len(raw))
		}
		buf := make([]byte, m.sb.BlockSize)
		if lo < uint32(len(raw)) {
			copy(buf, raw[lo:hi])
		}
		if err := m.dev.WriteBlock(layout.DataBitmapStart+i, buf); err != nil {
			return err
		}
	}
	return nil
}

// AllocateDataBlock allocates a fresh data block, zeroes it on disk, and
// returns its physical block number. Physical block numbers are relative to
// the whole device (data area starts at sb.DataStart), matching spec §3's
// "block i in this region has bitmap bit (i - data_start)".
func (m *Mapper) AllocateDataBlock() (uint32, error) {
	alloc, err := m.loadDataBitmap()
	if err != nil {
		return 0, err
	}

	relative, err := alloc.Allocate()
	if err != nil {
		return 0, err
	}

	if err := m.storeDataBitmap(alloc); err != nil {
		return 0, err
	}

	phys := m.sb.DataStart + relative
	zero := make([]byte, m.sb.BlockSize)
	if err := m.dev.WriteBlock(phys, zero); err != nil {
		return 0, err
	}
	return phys, nil
}

// FreeDataBlock clears phys's data-bitmap bit. It does not zero the block's
// contents; the next allocation will.
func (m *Mapper) FreeDataBlock(phys uint32) error {
	if phys < m.sb.DataStart || phys >= m.sb.DataStart+m.sb.DataBlockCount {
		return errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("physical block %d is not in the data area", phys),
		)
	}

	alloc, err := m.loadDataBitmap()
	if err != nil {
		return err
	}
	if err := alloc.Free(phys - m.sb.DataStart); err != nil {
		return err
	}
	return m.storeDataBitmap(alloc)
}

// FreeDataBlockCount returns the number of unallocated data blocks, used by
// statfs (spec §4.7).
func (m *Mapper) FreeDataBlockCount() (uint32, error) {
	alloc, err := m.loadDataBitmap()
	if err != nil {
		return 0, err
	}
	return alloc.FreeCount(), nil
}

// LoadDataBitmapForCheck exposes the data bitmap read-only, for
// Filesystem.Check's cross-validation against reachable blocks. It returns
// the same *bitmap.Allocator AllocateDataBlock uses internally; callers must
// not mutate it.
func (m *Mapper) LoadDataBitmapForCheck() (*bitmap.Allocator, error) {
	return m.loadDataBitmap()
}

// ReadIndirectSlotsForCheck returns every physical block number recorded in
// the index block at indexBlock, for Filesystem.Check's reachability walk.
func (m *Mapper) ReadIndirectSlotsForCheck(indexBlock uint32) ([]uint32, error) {
	pointersPerBlock := m.sb.PointersPerIndirectBlock()
	slots := make([]uint32, pointersPerBlock)
	for o := uint32(0); o < pointersPerBlock; o++ {
		v, err := m.readIndirectSlot(indexBlock, o)
		if err != nil {
			return nil, err
		}
		slots[o] = v
	}
	return slots, nil
}

func (m *Mapper) readIndirectSlot(indexBlock uint32, slot uint32) (uint32, error) {
	buf := make([]byte, m.sb.BlockSize)
	if err := m.dev.ReadBlock(indexBlock, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[slot*4 : slot*4+4]), nil
}

func (m *Mapper) writeIndirectSlot(indexBlock uint32, slot uint32, value uint32) error {
	buf := make([]byte, m.sb.BlockSize)
	if err := m.dev.ReadBlock(indexBlock, buf); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[slot*4:slot*4+4], value)
	return m.dev.WriteBlock(indexBlock, buf)
}

// BlockFor resolves logicalIndex against raw's pointers. If allocateIfMissing
// is true and the slot is unpopulated, it allocates a data block (and, if
// needed, the indirect index block housing it) and records the new pointer
// back into raw (the caller's in-memory copy — see spec §4.4's ownership
// note). dirty reports whether raw was modified and must be written back.
func (m *Mapper) BlockFor(raw *inode.Raw, logicalIndex uint32, allocateIfMissing bool) (phys uint32, dirty bool, err error) {
	if logicalIndex < layout.DirectPointers {
		existing := raw.Direct[logicalIndex]
		if existing != 0 {
			return existing, false, nil
		}
		if !allocateIfMissing {
			return 0, false, nil
		}

		newBlock, err := m.AllocateDataBlock()
		if err != nil {
			return 0, false, err
		}
		raw.Direct[logicalIndex] = newBlock
		return newBlock, true, nil
	}

	pointersPerBlock := m.sb.PointersPerIndirectBlock()
	k := logicalIndex - layout.DirectPointers
	g := k / pointersPerBlock
	o := k % pointersPerBlock

	if g >= layout.IndirectPointers {
		return 0, false, errors.ErrFileTooLarge
	}

	indexBlock := raw.Indirect[g]
	indirectDirty := false
	if indexBlock == 0 {
		if !allocateIfMissing {
			return 0, false, nil
		}
		newIndexBlock, err := m.AllocateDataBlock()
		if err != nil {
			return 0, false, err
		}
		indexBlock = newIndexBlock
		raw.Indirect[g] = indexBlock
		indirectDirty = true
	}

	slotValue, err := m.readIndirectSlot(indexBlock, o)
	if err != nil {
		return 0, false, err
	}

	if slotValue != 0 {
		return slotValue, indirectDirty, nil
	}
	if !allocateIfMissing {
		return 0, indirectDirty, nil
	}

	newBlock, err := m.AllocateDataBlock()
	if err != nil {
		return 0, false, err
	}
	if err := m.writeIndirectSlot(indexBlock, o, newBlock); err != nil {
		return 0, false, err
	}
	return newBlock, true, nil
}

// FreeAll walks every pointer reachable from raw — direct slots, then each
// indirect block's slots followed by the indirect block itself — and frees
// them, zeroing raw's pointer fields as it goes (spec §4.4 "Freeing all
// blocks").
func (m *Mapper) FreeAll(raw *inode.Raw) error {
	for i := range raw.Direct {
		if raw.Direct[i] == 0 {
			continue
		}
		if err := m.FreeDataBlock(raw.Direct[i]); err != nil {
			return err
		}
		raw.Direct[i] = 0
	}

	pointersPerBlock := m.sb.PointersPerIndirectBlock()
	for g := range raw.Indirect {
		indexBlock := raw.Indirect[g]
		if indexBlock == 0 {
			continue
		}

		for o := uint32(0); o < pointersPerBlock; o++ {
			slotValue, err := m.readIndirectSlot(indexBlock, o)
			if err != nil {
				return err
			}
			if slotValue == 0 {
				continue
			}
			if err := m.FreeDataBlock(slotValue); err != nil {
				return err
			}
		}

		if err := m.FreeDataBlock(indexBlock); err != nil {
			return err
		}
		raw.Indirect[g] = 0
	}

	return nil
}

// FreeLogicalBlock frees the single data block (if any) at logicalIndex and
// clears its pointer, without touching a now-possibly-empty indirect index
// block. Used by truncate (spec §4.7) to shrink a file one logical block at a
// time; the caller decides separately whether to reclaim an emptied indirect
// block with IndirectBlockEmpty/FreeIndirectBlock.
func (m *Mapper) FreeLogicalBlock(raw *inode.Raw, logicalIndex uint32) error {
	if logicalIndex < layout.DirectPointers {
		phys := raw.Direct[logicalIndex]
		if phys == 0 {
			return nil
		}
		if err := m.FreeDataBlock(phys); err != nil {
			return err
		}
		raw.Direct[logicalIndex] = 0
		return nil
	}

	pointersPerBlock := m.sb.PointersPerIndirectBlock()
	k := logicalIndex - layout.DirectPointers
	g := k / pointersPerBlock
	o := k % pointersPerBlock

	if g >= layout.IndirectPointers {
		return errors.ErrFileTooLarge
	}

	indexBlock := raw.Indirect[g]
	if indexBlock == 0 {
		return nil
	}

	slotValue, err := m.readIndirectSlot(indexBlock, o)
	if err != nil {
		return err
	}
	if slotValue == 0 {
		return nil
	}
	if err := m.FreeDataBlock(slotValue); err != nil {
		return err
	}
	return m.writeIndirectSlot(indexBlock, o, 0)
}

// IndirectBlockEmpty reports whether every slot of the index block at
// raw.Indirect[g] is zero. Callers use this after a run of FreeLogicalBlock
// calls to decide whether the index block itself can be reclaimed.
func (m *Mapper) IndirectBlockEmpty(raw *inode.Raw, g int) (bool, error) {
	indexBlock := raw.Indirect[g]
	if indexBlock == 0 {
		return true, nil
	}

	pointersPerBlock := m.sb.PointersPerIndirectBlock()
	for o := uint32(0); o < pointersPerBlock; o++ {
		slotValue, err := m.readIndirectSlot(indexBlock, o)
		if err != nil {
			return false, err
		}
		if slotValue != 0 {
			return false, nil
		}
	}
	return true, nil
}

// FreeIndirectBlock frees the index block itself at raw.Indirect[g] and
// clears the pointer. Callers must confirm it's empty first (see
// IndirectBlockEmpty); this does not check.
func (m *Mapper) FreeIndirectBlock(raw *inode.Raw, g int) error {
	indexBlock := raw.Indirect[g]
	if indexBlock == 0 {
		return nil
	}
	if err := m.FreeDataBlock(indexBlock); err != nil {
		return err
	}
	raw.Indirect[g] = 0
	return nil
}

// LogicalBlockCount returns ceil(size/BlockSize), the number of logical
// blocks a file of the given byte size spans.
func (m *Mapper) LogicalBlockCount(size uint32) uint32 {
	if size == 0 {
		return 0
	}
	return (size + m.sb.BlockSize - 1) / m.sb.BlockSize
}
