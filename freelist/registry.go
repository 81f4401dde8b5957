package freelist

import (
	"github.com/dolthub/swiss"
	"github.com/pkg/errors"
)

// HeapRegistry stores one Allocator per integer index, each over its own
// independently sized arena. It replaces ambient global heaps with an explicit
// object that callers construct once and pass by reference to everything that
// needs heap access.
//
// Like the Allocator itself, a HeapRegistry is not internally synchronized.
type HeapRegistry struct {
	heaps *swiss.Map[int, *Allocator]
}

// NewHeapRegistry creates an empty HeapRegistry.
func NewHeapRegistry() *HeapRegistry {
	return &HeapRegistry{
		heaps: swiss.NewMap[int, *Allocator](8),
	}
}

// Create builds a new Allocator over the provided arena and registers it under
// the given index. It must be called exactly once per index: registering an
// index twice returns an error and leaves the existing Allocator in place.
func (r *HeapRegistry) Create(index int, buf []byte) (*Allocator, error) {
	_, ok := r.heaps.Get(index)
	if ok {
		return nil, errors.Errorf("heap %d has already been created", index)
	}

	m := New(buf)
	r.heaps.Put(index, m)
	return m, nil
}

// GetAllocator retrieves the Allocator registered under the given index,
// returning an error if Create has not been called for it.
func (r *HeapRegistry) GetAllocator(index int) (*Allocator, error) {
	m, ok := r.heaps.Get(index)
	if !ok {
		return nil, errors.Errorf("heap %d has not been created", index)
	}

	return m, nil
}
