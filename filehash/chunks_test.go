package filehash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkSizeSteps(t *testing.T) {
	cases := []struct {
		size int64
		want int64
	}{
		{0, 4 * 1024 * 1024},
		{1024, 4 * 1024 * 1024},
		{4 * 1024 * 1024, 4 * 1024 * 1024},
		{16 * 1024 * 1024, 8 * 1024 * 1024},
		{64 * 1024 * 1024, 16 * 1024 * 1024},
		{256 * 1024 * 1024, 32 * 1024 * 1024},
		{1024 * 1024 * 1024, 64 * 1024 * 1024},
		{4 * 1024 * 1024 * 1024, 128 * 1024 * 1024},
		{16 * 1024 * 1024 * 1024, 256 * 1024 * 1024},
		{100 * 1024 * 1024 * 1024, 256 * 1024 * 1024}, // saturates at k=7
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ChunkSize(c.size), "size=%d", c.size)
	}
}

func TestRangesTileExactly(t *testing.T) {
	size := int64(20*1024*1024 + 7)
	ranges := Ranges(size)
	require.NotEmpty(t, ranges)

	var pos int64
	for _, r := range ranges {
		assert.Equal(t, pos, r.Begin)
		assert.Greater(t, r.End, r.Begin)
		pos = r.End
	}
	assert.Equal(t, size, pos, "ranges must cover [0, size) exactly once")
}

func TestRangesEmptyForZeroByteFile(t *testing.T) {
	assert.Empty(t, Ranges(0))
}

func TestRangesSingleChunkUnderBaseSize(t *testing.T) {
	ranges := Ranges(100)
	require.Len(t, ranges, 1)
	assert.Equal(t, Range{Begin: 0, End: 100}, ranges[0])
}
