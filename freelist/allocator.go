package freelist

import (
	"unsafe"

	"github.com/fixedpoint-io/memarena"
)

// Allocator is a fixed-capacity first-fit allocator that carves allocations out
// of a single caller-supplied byte arena. It never grows the arena or acquires
// memory from anywhere else; the only failure mode is a nil result when no
// single free block can satisfy a request.
//
// All bookkeeping lives inside the arena itself. Every block begins with a
// header carrying address-order links and a packed size word; while the block is
// free, two additional link words thread it into an address-ordered free list.
// Those words overlap the payload region and are handed back to the caller when
// the block is allocated.
//
// The Allocator is not safe for concurrent use. Callers needing concurrent
// access must serialize externally or give each goroutine its own arena.
type Allocator struct {
	data []byte
	size int

	allocated  int
	allocCount int
	freeCount  int

	first     blockRef
	firstFree blockRef
}

// New creates an Allocator over the provided arena. The caller retains ownership
// of the arena and must keep it alive, and otherwise untouched, for the
// Allocator's entire lifetime.
//
// New never fails. The usable region is aligned up at the front and trimmed at
// the back to a multiple of the node alignment; an arena too small to host a
// single block yields an allocator whose every Allocate returns nil.
func New(buf []byte) *Allocator {
	m := &Allocator{first: noBlock, firstFree: noBlock}
	if len(buf) == 0 {
		return m
	}

	base := int(uintptr(unsafe.Pointer(unsafe.SliceData(buf))))
	pad := memarena.AlignUp(base, nodeAlign) - base
	if pad >= len(buf) {
		return m
	}

	usable := memarena.AlignDown(len(buf)-pad, nodeAlign)
	if usable < nodeSize {
		return m
	}

	m.data = buf[pad : pad+usable]
	m.size = usable
	m.initBlock(0, usable)
	m.first = 0
	m.firstFree = 0
	m.freeCount = 1

	return m
}

// Allocate returns a payload slice of length size carved out of the arena, or
// nil when size is not positive or no single free block is large enough. The
// slice's capacity may exceed size due to footprint rounding; the extra bytes
// belong to the allocation and remain valid until Deallocate.
//
// The returned slice's backing pointer is aligned to the node alignment.
func (m *Allocator) Allocate(size int) []byte {
	if size <= 0 {
		return nil
	}

	memarena.DebugValidate(m)

	// Block footprints include the header and are a multiple of the node alignment.
	footprint := memarena.AlignUp(size+memarena.DebugMargin+headerSize, nodeAlign)
	if footprint < size {
		// The overhead and rounding wrapped around; no block can satisfy this.
		return nil
	}

	for b := m.firstFree; b != noBlock; b = m.nextFree(b) {
		if m.blockSize(b) < footprint {
			continue
		}

		// If the leftover can host another node, split it off.
		if m.blockSize(b)-footprint >= nodeSize {
			m.split(b, footprint)
		}

		next := m.nextFree(b)
		m.unlinkFromFreelist(b)
		if b == m.firstFree {
			m.firstFree = next
		}

		m.allocated += m.blockSize(b)
		m.allocCount++

		payload := int(b) + headerSize
		payloadCap := m.blockSize(b) - headerSize - memarena.DebugMargin
		if memarena.DebugMargin > 0 {
			memarena.WriteMagicValue(m.data, int(b)+m.blockSize(b)-memarena.DebugMargin)
		}

		return m.data[payload : payload+size : payload+payloadCap]
	}

	return nil
}

// Deallocate returns an allocation obtained from Allocate to the free list,
// eagerly coalescing it with any address-adjacent free neighbor. A nil slice is
// a no-op.
//
// Passing a slice that did not originate from this Allocator, or deallocating
// the same allocation twice, is undefined: the header recovered from the slice's
// address is trusted as-is. Contains can be used to reject foreign slices before
// calling Deallocate.
func (m *Allocator) Deallocate(p []byte) {
	if p == nil {
		return
	}

	memarena.DebugValidate(m)

	b := blockRef(m.payloadOffset(p) - headerSize)
	m.allocated -= m.blockSize(b)
	m.allocCount--

	// Walk the full block chain backward to the nearest free predecessor; the
	// splice performs the coalescing merge itself.
	for q := m.prev(b); q != noBlock; q = m.prev(q) {
		if !m.isFree(q) {
			continue
		}
		m.appendToFreelist(q, b)
		return
	}

	// No free predecessor: b becomes the new free list head.
	if m.firstFree != noBlock {
		m.prependToFreelist(m.firstFree, b)
	} else {
		m.setNextFree(b, noBlock)
		m.setPrevFree(b, noBlock)
		m.setFree(b)
		m.freeCount++
	}
	m.firstFree = b
}

// AllocationSize returns the usable payload capacity in bytes of an allocation
// obtained from Allocate. It is never less than the size originally requested
// and may exceed it due to footprint rounding.
func (m *Allocator) AllocationSize(p []byte) int {
	b := blockRef(m.payloadOffset(p) - headerSize)
	return m.blockSize(b) - headerSize - memarena.DebugMargin
}

// Contains reports whether p points into this Allocator's usable arena range.
func (m *Allocator) Contains(p []byte) bool {
	if p == nil || m.size == 0 {
		return false
	}

	base := uintptr(unsafe.Pointer(unsafe.SliceData(m.data)))
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(p)))
	return addr >= base && addr < base+uintptr(m.size)
}

// Allocated returns the total footprint in bytes of all live allocations,
// including per-block header overhead.
func (m *Allocator) Allocated() int {
	return m.allocated
}

// Size returns the total usable arena capacity after alignment trimming.
func (m *Allocator) Size() int {
	return m.size
}

// SumFreeSize returns the number of free bytes in the arena, including the
// header overhead of free blocks.
func (m *Allocator) SumFreeSize() int {
	return m.size - m.allocated
}

// AllocationCount returns the number of live allocations.
func (m *Allocator) AllocationCount() int {
	return m.allocCount
}

// FreeRegionsCount returns the number of distinct free blocks. Adjacent free
// regions are always merged, so this is also the number of maximal free ranges.
func (m *Allocator) FreeRegionsCount() int {
	return m.freeCount
}

// IsEmpty returns true if the Allocator has no live allocations.
func (m *Allocator) IsEmpty() bool {
	return m.allocCount == 0
}

// Clear instantly frees all allocations, restoring the single initial free
// block. Payload slices handed out before Clear must no longer be used.
func (m *Allocator) Clear() {
	m.allocated = 0
	m.allocCount = 0
	m.freeCount = 0
	m.first = noBlock
	m.firstFree = noBlock

	if m.size >= nodeSize {
		m.initBlock(0, m.size)
		m.first = 0
		m.firstFree = 0
		m.freeCount = 1
	}
}

// payloadOffset recovers the arena offset of a payload slice returned by
// Allocate. The block's header sits at a fixed negative offset from it.
func (m *Allocator) payloadOffset(p []byte) int {
	base := uintptr(unsafe.Pointer(unsafe.SliceData(m.data)))
	return int(uintptr(unsafe.Pointer(unsafe.SliceData(p))) - base)
}
