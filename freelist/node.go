package freelist

import "encoding/binary"

// blockRef is the byte offset of a block's header within the arena. All block
// metadata lives inside the arena itself, so links between blocks are stored as
// offsets rather than pointers.
type blockRef int

// noBlock marks an absent link, such as the prev link of the arena's first block.
const noBlock blockRef = -1

const (
	// nodeAlign is the required alignment for block offsets and sizes. Every true
	// block size is a multiple of nodeAlign, so the low bit of the packed size
	// word is always zero and is repurposed as the allocated flag.
	nodeAlign = 16

	// headerSize is a block's metadata footprint while it is allocated: the next
	// and prev offsets, the packed size word, and padding that keeps payloads
	// aligned to nodeAlign.
	headerSize = 32

	// nodeSize is a block's metadata footprint while it is free: the header plus
	// the two free-list link words. The link words overlap the payload region and
	// are handed back to the caller when the block is allocated, so nodeSize is
	// also the minimum size of any block.
	nodeSize = 48

	fieldNext     = 0
	fieldPrev     = 8
	fieldSize     = 16
	fieldNextFree = 32
	fieldPrevFree = 40

	allocatedBit = 0x1

	nilWord = ^uint64(0)
)

func (m *Allocator) field(b blockRef, field int) blockRef {
	raw := binary.LittleEndian.Uint64(m.data[int(b)+field:])
	if raw == nilWord {
		return noBlock
	}
	return blockRef(raw)
}

func (m *Allocator) setField(b blockRef, field int, ref blockRef) {
	raw := nilWord
	if ref != noBlock {
		raw = uint64(ref)
	}
	binary.LittleEndian.PutUint64(m.data[int(b)+field:], raw)
}

func (m *Allocator) next(b blockRef) blockRef     { return m.field(b, fieldNext) }
func (m *Allocator) prev(b blockRef) blockRef     { return m.field(b, fieldPrev) }
func (m *Allocator) nextFree(b blockRef) blockRef { return m.field(b, fieldNextFree) }
func (m *Allocator) prevFree(b blockRef) blockRef { return m.field(b, fieldPrevFree) }

func (m *Allocator) setNext(b, ref blockRef)     { m.setField(b, fieldNext, ref) }
func (m *Allocator) setPrev(b, ref blockRef)     { m.setField(b, fieldPrev, ref) }
func (m *Allocator) setNextFree(b, ref blockRef) { m.setField(b, fieldNextFree, ref) }
func (m *Allocator) setPrevFree(b, ref blockRef) { m.setField(b, fieldPrevFree, ref) }

// blockSize returns the block's full footprint including its own header, with the
// allocated flag masked off.
func (m *Allocator) blockSize(b blockRef) int {
	return int(binary.LittleEndian.Uint64(m.data[int(b)+fieldSize:]) &^ allocatedBit)
}

// setBlockSize rewrites the block's size, preserving the allocated flag.
func (m *Allocator) setBlockSize(b blockRef, size int) {
	flag := binary.LittleEndian.Uint64(m.data[int(b)+fieldSize:]) & allocatedBit
	binary.LittleEndian.PutUint64(m.data[int(b)+fieldSize:], uint64(size)|flag)
}

func (m *Allocator) isFree(b blockRef) bool {
	return binary.LittleEndian.Uint64(m.data[int(b)+fieldSize:])&allocatedBit == 0
}

func (m *Allocator) setFree(b blockRef) {
	raw := binary.LittleEndian.Uint64(m.data[int(b)+fieldSize:])
	binary.LittleEndian.PutUint64(m.data[int(b)+fieldSize:], raw&^allocatedBit)
}

func (m *Allocator) setAllocated(b blockRef) {
	raw := binary.LittleEndian.Uint64(m.data[int(b)+fieldSize:])
	binary.LittleEndian.PutUint64(m.data[int(b)+fieldSize:], raw|allocatedBit)
}

// initBlock constructs a fresh free block of the given size at offset b, with no
// links in either list.
func (m *Allocator) initBlock(b blockRef, size int) {
	m.setNext(b, noBlock)
	m.setPrev(b, noBlock)
	binary.LittleEndian.PutUint64(m.data[int(b)+fieldSize:], uint64(size))
	m.setNextFree(b, noBlock)
	m.setPrevFree(b, noBlock)
}

// appendToList splices p into the full block chain immediately after b. The caller
// guarantees p is address-contiguous with b.
func (m *Allocator) appendToList(b, p blockRef) {
	if n := m.next(b); n != noBlock {
		m.setPrev(n, p)
	}
	m.setNext(p, m.next(b))
	m.setPrev(p, b)
	m.setNext(b, p)
}

// prependToList splices p into the full block chain immediately before b. The
// caller guarantees p is address-contiguous with b.
func (m *Allocator) prependToList(b, p blockRef) {
	if q := m.prev(b); q != noBlock {
		m.setNext(q, p)
	}
	m.setPrev(p, m.prev(b))
	m.setNext(p, b)
	m.setPrev(b, p)
}

// unlinkFromList removes b from the full block chain without touching its
// neighbors' offsets. Used when b is absorbed into the block before it.
func (m *Allocator) unlinkFromList(b blockRef) {
	if q := m.prev(b); q != noBlock {
		m.setNext(q, m.next(b))
	}
	if n := m.next(b); n != noBlock {
		m.setPrev(n, m.prev(b))
	}
}

// appendToFreelist splices p into the free chain immediately after b, marks p
// free, and eagerly merges p with any address-adjacent free neighbor.
func (m *Allocator) appendToFreelist(b, p blockRef) {
	if n := m.nextFree(b); n != noBlock {
		m.setPrevFree(n, p)
	}
	m.setNextFree(p, m.nextFree(b))
	m.setPrevFree(p, b)
	m.setNextFree(b, p)
	m.setFree(p)
	m.freeCount++
	m.merge(p)
}

// prependToFreelist splices p into the free chain immediately before b, marks p
// free, and eagerly merges p with any address-adjacent free neighbor.
func (m *Allocator) prependToFreelist(b, p blockRef) {
	if q := m.prevFree(b); q != noBlock {
		m.setNextFree(q, p)
	}
	m.setPrevFree(p, m.prevFree(b))
	m.setNextFree(p, b)
	m.setPrevFree(b, p)
	m.setFree(p)
	m.freeCount++
	m.merge(p)
}

// unlinkFromFreelist removes b from the free chain and marks it allocated. The
// caller is responsible for updating the free list head when b was the head.
func (m *Allocator) unlinkFromFreelist(b blockRef) {
	if q := m.prevFree(b); q != noBlock {
		m.setNextFree(q, m.nextFree(b))
	}
	if n := m.nextFree(b); n != noBlock {
		m.setPrevFree(n, m.prevFree(b))
	}
	m.setAllocated(b)
	m.freeCount--
}

// split divides the free block b into an allocated-to-be prefix of exactly size
// bytes and a free tail holding the leftover. The tail is spliced into both lists
// immediately after b. The tail's merge check cannot fire against b because b
// still carries its original size until the tail is fully linked.
func (m *Allocator) split(b blockRef, size int) {
	tail := b + blockRef(size)
	m.initBlock(tail, m.blockSize(b)-size)
	m.appendToList(b, tail)
	m.appendToFreelist(b, tail)
	m.setBlockSize(b, size)
}

// mergeNext absorbs b's next free-list neighbor, which the caller has verified is
// also b's physical successor, into b.
func (m *Allocator) mergeNext(b blockRef) {
	n := m.nextFree(b)
	m.setBlockSize(b, m.blockSize(b)+m.blockSize(n))
	m.unlinkFromFreelist(n)
	m.unlinkFromList(n)
}

// merge coalesces b with its immediate free-list neighbors when they are truly
// address-adjacent. Because the free list is address-ordered and contains exactly
// the free blocks, any free block adjacent to b must be one of these two
// neighbors, so no rescan is needed.
func (m *Allocator) merge(b blockRef) {
	if n := m.nextFree(b); n != noBlock && b+blockRef(m.blockSize(b)) == n {
		m.mergeNext(b)
	}
	if q := m.prevFree(b); q != noBlock && q+blockRef(m.blockSize(q)) == b {
		m.mergeNext(q)
	}
}
