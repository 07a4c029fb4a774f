package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContentRange(t *testing.T) {
	cr, err := ParseContentRange("bytes 0-99/1000")
	require.NoError(t, err)
	assert.Equal(t, ContentRange{Start: 0, End: 99, Total: 1000}, cr)
	assert.Equal(t, int64(100), cr.Len())
	assert.Equal(t, ByteRange{Start: 0, End: 100}, cr.Bytes())
	assert.Equal(t, int64(1000), cr.ObjectSize())

	cr, err = ParseContentRange("bytes 5-9/*")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), cr.Total)
	assert.Equal(t, int64(10), cr.ObjectSize())

	for _, bad := range []string{"", "items 0-1/2", "bytes 0-1", "bytes 5-2/10", "bytes 0-10/10", "bytes a-b/c", "bytes */10"} {
		_, err := ParseContentRange(bad)
		assert.Error(t, err, bad)
	}
}

func TestContentRange_Matches(t *testing.T) {
	cr := ContentRange{Start: 10, End: 19, Total: 100}
	assert.True(t, cr.Matches(BoundedRange(10, 20)))
	assert.True(t, cr.Matches(BoundedRange(10, 50)))
	assert.False(t, cr.Matches(BoundedRange(11, 20)))
	assert.False(t, cr.Matches(BoundedRange(10, 15)))
	assert.True(t, cr.Matches(OffsetRange(10)))
	assert.False(t, cr.Matches(OffsetRange(0)))

	tail := ContentRange{Start: 90, End: 99, Total: 100}
	assert.True(t, tail.Matches(SuffixRange(10)))
	assert.True(t, tail.Matches(SuffixRange(500)))
	assert.False(t, tail.Matches(SuffixRange(5)))
	assert.False(t, cr.Matches(SuffixRange(10)))
}
