package freelist

import "unsafe"

// Typed adapts an Allocator to hand out slices of an arbitrary element type,
// scaling byte counts by the element size. It carries no state of its own beyond
// the Allocator it wraps: two Typed values over the same Allocator are equal and
// interchangeable, and allocations made through one may be freed through the
// other.
type Typed[T any] struct {
	m *Allocator
}

// NewTyped creates a Typed adapter over the provided Allocator.
func NewTyped[T any](m *Allocator) Typed[T] {
	return Typed[T]{m: m}
}

// Allocate returns a slice of count elements carved out of the arena, or nil
// when the request cannot be satisfied. Zero-sized element types cannot be
// arena-allocated and always return nil.
func (t Typed[T]) Allocate(count int) []T {
	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	if count <= 0 || elemSize == 0 {
		return nil
	}

	raw := t.m.Allocate(count * elemSize)
	if raw == nil {
		return nil
	}

	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(raw))), count)
}

// Deallocate returns a slice obtained from Allocate to the arena. A nil slice is
// a no-op.
func (t Typed[T]) Deallocate(s []T) {
	if s == nil {
		return
	}

	t.m.Deallocate(t.bytes(s))
}

// AllocationSize returns the usable capacity, in elements, of a slice obtained
// from Allocate. It is never less than the element count originally requested.
func (t Typed[T]) AllocationSize(s []T) int {
	var zero T
	return t.m.AllocationSize(t.bytes(s)) / int(unsafe.Sizeof(zero))
}

// Contains reports whether s points into the underlying arena.
func (t Typed[T]) Contains(s []T) bool {
	if s == nil {
		return false
	}

	return t.m.Contains(t.bytes(s))
}

func (t Typed[T]) bytes(s []T) []byte {
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}
