package pool

// MemChunk is a byte range within a MemBlock's payload: (memblock, index,
// length).
type MemChunk struct {
	Block  *MemBlock
	Index  int
	Length int
}

// Bytes returns the chunk's view into the block's payload. Bytes acquires
// and releases the block only around the slicing itself; the returned view
// is not covered by an acquire, so the caller must Acquire/Release the
// block around any retained use that crosses a goroutine boundary.
func (c MemChunk) Bytes() []byte {
	if c.Block == nil {
		return nil
	}
	data := c.Block.Acquire()
	defer c.Block.Release()
	return data[c.Index : c.Index+c.Length]
}

// IsEmpty reports whether the chunk carries no bytes.
func (c MemChunk) IsEmpty() bool {
	return c.Block == nil || c.Length == 0
}

// Ref returns a new MemChunk sharing the same block with an incremented
// refcount — used when the same payload is queued into more than one
// consumer (e.g. a sample cache entry played more than once).
func (c MemChunk) Ref() MemChunk {
	if c.Block != nil {
		c.Block.Ref()
	}
	return c
}

// Unref drops this chunk's reference to its block.
func (c MemChunk) Unref() {
	if c.Block != nil {
		c.Block.Unref()
	}
}
