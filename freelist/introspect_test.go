package freelist_test

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/fixedpoint-io/memarena/freelist"
)

func TestPrintDetailedMap(t *testing.T) {
	m := freelist.New(make([]byte, 4096))
	capacity := m.Size()

	a := m.Allocate(64)
	b := m.Allocate(64)
	require.NotNil(t, a)
	require.NotNil(t, b)
	m.Deallocate(a)

	w := jwriter.NewWriter()
	m.PrintDetailedMap(&w)
	require.NoError(t, w.Error())

	var parsed struct {
		TotalBytes     int
		UnusedBytes    int
		Allocations    int
		UnusedRanges   int
		Suballocations []struct {
			Offset int
			Type   string
			Size   int
		}
	}
	require.NoError(t, json.Unmarshal(w.Bytes(), &parsed))

	require.Equal(t, capacity, parsed.TotalBytes)
	require.Equal(t, capacity-footprint(64), parsed.UnusedBytes)
	require.Equal(t, 1, parsed.Allocations)
	require.Equal(t, 2, parsed.UnusedRanges)

	// Free hole, live allocation, free tail: in address order with no gaps.
	require.Len(t, parsed.Suballocations, 3)
	require.Equal(t, "FREE", parsed.Suballocations[0].Type)
	require.Equal(t, "ALLOCATED", parsed.Suballocations[1].Type)
	require.Equal(t, "FREE", parsed.Suballocations[2].Type)

	offset := 0
	total := 0
	for _, region := range parsed.Suballocations {
		require.Equal(t, offset, region.Offset)
		offset += region.Size
		total += region.Size
	}
	require.Equal(t, capacity, total)
}

func TestVisitAllRegions(t *testing.T) {
	m := freelist.New(make([]byte, 4096))

	p := m.Allocate(64)
	require.NotNil(t, p)

	var visited int
	err := m.VisitAllRegions(func(offset, size int, free bool) error {
		visited++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, visited)

	sentinel := io.ErrUnexpectedEOF
	err = m.VisitAllRegions(func(offset, size int, free bool) error {
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
}

func TestDebugLogAllAllocations(t *testing.T) {
	m := freelist.New(make([]byte, 4096))

	require.NotNil(t, m.Allocate(64))
	require.NotNil(t, m.Allocate(128))

	logger := slog.New(slog.NewTextHandler(io.Discard))

	var logged int
	m.DebugLogAllAllocations(logger, func(log *slog.Logger, offset int, size int) {
		log.Debug("allocation", slog.Int("Offset", offset), slog.Int("Size", size))
		logged++
	})
	require.Equal(t, 2, logged)
}

func TestCheckCorruption(t *testing.T) {
	m := freelist.New(make([]byte, 4096))

	p := m.Allocate(64)
	require.NotNil(t, p)
	for i := range p {
		p[i] = 0xAB
	}

	// Markers are only written under the debug_mem_arena build tag; without it
	// this must succeed unconditionally.
	require.NoError(t, m.CheckCorruption())
}
