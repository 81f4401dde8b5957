package freelist

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/fixedpoint-io/memarena"
)

// Validate performs internal consistency checks on the arena's block chains:
// the full block list must partition the usable arena in address order with no
// gaps, the free list must be exactly the set of free blocks in address order,
// no two adjacent blocks may both be free, and the accounting counters must
// match the blocks. When the engine is functioning correctly this cannot return
// an error, but it may assist in diagnosing corruption.
func (m *Allocator) Validate() error {
	if m.size == 0 {
		if m.first != noBlock || m.firstFree != noBlock {
			return errors.New("an empty arena cannot have blocks")
		}
		if m.allocated != 0 || m.allocCount != 0 || m.freeCount != 0 {
			return errors.New("an empty arena cannot have accounting counters")
		}
		return nil
	}

	if m.first != 0 {
		return errors.Errorf("the first block should have an offset of 0, but instead it has an offset of %d", m.first)
	}

	var total, allocBytes, allocCount, freeCount int
	prevRef := noBlock
	prevWasFree := false

	for b := m.first; b != noBlock; b = m.next(b) {
		if int(b) < 0 || int(b)+nodeSize > m.size {
			return errors.Errorf("block offset %d is out of the arena's bounds", b)
		}
		if int(b)%nodeAlign != 0 {
			return errors.Errorf("block offset %d is not aligned", b)
		}

		size := m.blockSize(b)
		if size < nodeSize || size%nodeAlign != 0 {
			return errors.Errorf("block at offset %d has invalid size %d", b, size)
		}

		if m.prev(b) != prevRef {
			return errors.Errorf("block at offset %d has a broken reverse reference", b)
		}
		if prevRef != noBlock && prevRef+blockRef(m.blockSize(prevRef)) != b {
			return errors.Errorf("block at offset %d does not start where the previous block ends", b)
		}

		if m.isFree(b) {
			if prevWasFree {
				return errors.Errorf("blocks at offsets %d and %d are adjacent but both free", prevRef, b)
			}
			freeCount++
		} else {
			allocCount++
			allocBytes += size
		}

		prevWasFree = m.isFree(b)
		total += size
		prevRef = b
	}

	if total != m.size {
		return errors.Errorf("the usable arena size is %d, but the blocks only added up to %d", m.size, total)
	}

	// Check integrity of the free list
	freeListCount := 0
	prevFreeRef := noBlock

	for b := m.firstFree; b != noBlock; b = m.nextFree(b) {
		if !m.isFree(b) {
			return errors.Errorf("block at offset %d is in the free list but is not free", b)
		}
		if m.prevFree(b) != prevFreeRef {
			return errors.Errorf("block at offset %d has a broken free-list reverse reference", b)
		}
		if prevFreeRef != noBlock && b <= prevFreeRef {
			return errors.Errorf("the free list is not address ordered at offset %d", b)
		}

		freeListCount++
		prevFreeRef = b
	}

	if freeListCount != freeCount {
		return errors.Errorf("the number of free blocks in the full list and the free list do not match! free list size: %d, full list free blocks: %d", freeListCount, freeCount)
	}

	if allocBytes != m.allocated {
		return errors.Errorf("the allocated byte count of the arena is %d, but the taken blocks only added up to %d", m.allocated, allocBytes)
	}
	if allocCount != m.allocCount {
		return errors.Errorf("the allocation count of the arena is %d, but the taken blocks only added up to %d", m.allocCount, allocCount)
	}
	if freeCount != m.freeCount {
		return errors.Errorf("the free block count of the arena is %d, but there were only %d free blocks", m.freeCount, freeCount)
	}

	return nil
}

// VisitAllRegions calls the provided callback once for each block in the arena
// in address order, passing the block's offset, its full size including header
// overhead, and whether it is free.
func (m *Allocator) VisitAllRegions(handleBlock func(offset, size int, free bool) error) error {
	for b := m.first; b != noBlock; b = m.next(b) {
		err := handleBlock(int(b), m.blockSize(b), m.isFree(b))
		if err != nil {
			return err
		}
	}

	return nil
}

// AddStatistics sums this arena's allocation statistics into the statistics
// currently present in the provided memarena.Statistics object.
func (m *Allocator) AddStatistics(stats *memarena.Statistics) {
	stats.ArenaCount++
	stats.AllocationCount += m.allocCount
	stats.ArenaBytes += m.size
	stats.AllocationBytes += m.allocated
}

// AddDetailedStatistics sums this arena's allocation statistics into the
// statistics currently present in the provided memarena.DetailedStatistics
// object.
func (m *Allocator) AddDetailedStatistics(stats *memarena.DetailedStatistics) {
	stats.ArenaCount++
	stats.ArenaBytes += m.size

	for b := m.first; b != noBlock; b = m.next(b) {
		if m.isFree(b) {
			stats.AddUnusedRange(m.blockSize(b))
		} else {
			stats.AddAllocation(m.blockSize(b))
		}
	}
}

// BlockJsonData populates a json object with summary information about this
// arena. The state is taken by pointer so that writes here are visible to the
// caller's separator tracking when it continues writing the same object.
func (m *Allocator) BlockJsonData(json *jwriter.ObjectState) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UnusedBytes").Int(m.SumFreeSize())
	json.Name("Allocations").Int(m.AllocationCount())
	json.Name("UnusedRanges").Int(m.FreeRegionsCount())
}

// PrintDetailedMap writes the arena summary and one entry per block, allocated
// and free, to the provided json writer. This walks the entire block chain and
// should only be used for diagnostic purposes.
func (m *Allocator) PrintDetailedMap(writer *jwriter.Writer) {
	objState := writer.Object()
	defer objState.End()

	m.BlockJsonData(&objState)

	arrayState := objState.Name("Suballocations").Array()
	defer arrayState.End()

	_ = m.VisitAllRegions(
		func(offset, size int, free bool) error {
			obj := arrayState.Object()
			defer obj.End()

			obj.Name("Offset").Int(offset)
			if free {
				obj.Name("Type").String("FREE")
			} else {
				obj.Name("Type").String("ALLOCATED")
			}
			obj.Name("Size").Int(size)

			return nil
		})
}

// CheckCorruption returns nil if anti-corruption markers are present after every
// live allocation in the arena. Markers are only written when the module is
// built with the debug_mem_arena build tag; without it this method always
// succeeds. It walks the entire block chain and so should only be run as part of
// some sort of diagnostic regime.
func (m *Allocator) CheckCorruption() error {
	if memarena.DebugMargin == 0 {
		return nil
	}

	for b := m.first; b != noBlock; b = m.next(b) {
		if !m.isFree(b) {
			if !memarena.ValidateMagicValue(m.data, int(b)+m.blockSize(b)-memarena.DebugMargin) {
				return errors.Errorf("memory corruption detected after allocation at offset %d", b)
			}
		}
	}

	return nil
}

// DebugLogAllAllocations calls logFunc once per live allocation with the block's
// offset and full size.
func (m *Allocator) DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, offset int, size int)) {
	for b := m.first; b != noBlock; b = m.next(b) {
		if !m.isFree(b) {
			logFunc(logger, int(b), m.blockSize(b))
		}
	}
}
