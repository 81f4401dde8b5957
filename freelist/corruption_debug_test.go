//go:build debug_mem_arena

package freelist_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/fixedpoint-io/memarena"
	"github.com/fixedpoint-io/memarena/freelist"
)

func TestCheckCorruptionDetectsOverrun(t *testing.T) {
	require.Positive(t, memarena.DebugMargin)

	buf := make([]byte, 4096)
	m := freelist.New(buf)

	p := m.Allocate(64)
	q := m.Allocate(64)
	require.NotNil(t, p)
	require.NotNil(t, q)
	require.NoError(t, m.CheckCorruption())

	// The margin markers sit immediately after each payload's capacity. Reach
	// them through the caller-owned arena buffer, the way a real overrun would.
	off := int(uintptr(unsafe.Pointer(unsafe.SliceData(p))) - uintptr(unsafe.Pointer(unsafe.SliceData(buf))))
	buf[off+cap(p)] ^= 0xFF
	require.Error(t, m.CheckCorruption())

	buf[off+cap(p)] ^= 0xFF
	require.NoError(t, m.CheckCorruption())

	// The last marker byte of the second allocation.
	off = int(uintptr(unsafe.Pointer(unsafe.SliceData(q))) - uintptr(unsafe.Pointer(unsafe.SliceData(buf))))
	buf[off+cap(q)+memarena.DebugMargin-1] ^= 0xFF
	require.Error(t, m.CheckCorruption())
}

func TestCheckCorruptionIgnoresFreedBlocks(t *testing.T) {
	buf := make([]byte, 4096)
	m := freelist.New(buf)

	p := m.Allocate(64)
	q := m.Allocate(64)
	require.NotNil(t, p)
	require.NotNil(t, q)

	// Freeing a block reclaims its margin bytes; stale marker contents there
	// must not be reported once the block is no longer live.
	off := int(uintptr(unsafe.Pointer(unsafe.SliceData(p))) - uintptr(unsafe.Pointer(unsafe.SliceData(buf))))
	buf[off+cap(p)] ^= 0xFF
	m.Deallocate(p)
	require.NoError(t, m.CheckCorruption())
	require.NoError(t, m.Validate())
}
