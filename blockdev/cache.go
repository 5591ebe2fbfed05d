package blockdev

// Cached wraps a Device with a write-through block cache: reads are served
// from memory once a block has been touched, writes update the cache and the
// underlying device in the same call. Spec §5 permits exactly this kind of
// cache ("MAY cache, provided every state change is persisted before the call
// returns") and forbids anything that defers persistence, so there is no
// separate Flush/Sync call here — every Write already landed on disk by the
// time it returns, unlike disko's BlockCache (drivers/common/blockcache),
// which this is adapted from and which defers flushing until FlushAll/Sync is
// called explicitly.
type Cached struct {
	dev    Device
	loaded []bool
	data   [][]byte
}

// NewCached wraps dev with a write-through cache. The cache grows lazily, one
// block at a time, so wrapping a large device is cheap until it's actually
// touched.
func NewCached(dev Device) *Cached {
	return &Cached{
		dev:    dev,
		loaded: make([]bool, dev.BlockCount()),
		data:   make([][]byte, dev.BlockCount()),
	}
}

func (c *Cached) BlockSize() uint32  { return c.dev.BlockSize() }
func (c *Cached) BlockCount() uint32 { return c.dev.BlockCount() }

func (c *Cached) ReadBlock(blockNo uint32, buf []byte) error {
	if err := CheckBounds(c, blockNo, buf); err != nil {
		return err
	}

	if !c.loaded[blockNo] {
		cached := make([]byte, c.dev.BlockSize())
		if err := c.dev.ReadBlock(blockNo, cached); err != nil {
			return err
		}
		c.data[blockNo] = cached
		c.loaded[blockNo] = true
	}

	copy(buf, c.data[blockNo])
	return nil
}

func (c *Cached) WriteBlock(blockNo uint32, buf []byte) error {
	if err := CheckBounds(c, blockNo, buf); err != nil {
		return err
	}

	if err := c.dev.WriteBlock(blockNo, buf); err != nil {
		return err
	}

	if !c.loaded[blockNo] {
		c.data[blockNo] = make([]byte, c.dev.BlockSize())
		c.loaded[blockNo] = true
	}
	copy(c.data[blockNo], buf)
	return nil
}
