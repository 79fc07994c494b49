package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wordCounter struct{}

func (wordCounter) CountTokens(text string) int { return len(strings.Fields(text)) }

func reassemble(segments []Segment, overlap int) string {
	var b strings.Builder
	for i, seg := range segments {
		if i == 0 {
			b.WriteString(seg.Text)
			continue
		}
		b.WriteString(string([]rune(seg.Text)[overlap:]))
	}
	return b.String()
}

func TestSplitOverlapAndCoverage(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)

	cases := []struct {
		size, overlap int
	}{
		{100, 20},
		{64, 0},
		{7, 6},
		{1500, 200},
		{len(text), 10},
	}
	for _, tc := range cases {
		segments, err := Split(text, tc.size, tc.overlap)
		require.NoError(t, err)
		require.NotEmpty(t, segments)

		for i := 0; i+1 < len(segments); i++ {
			cur := []rune(segments[i].Text)
			next := []rune(segments[i+1].Text)
			require.Len(t, cur, tc.size, "only the last chunk may be short")
			if tc.overlap > 0 {
				assert.Equal(t, string(cur[len(cur)-tc.overlap:]), string(next[:tc.overlap]))
			}
			assert.Equal(t, segments[i].Start+tc.size-tc.overlap, segments[i+1].Start)
		}
		last := segments[len(segments)-1]
		assert.LessOrEqual(t, len([]rune(last.Text)), tc.size)
		assert.True(t, strings.HasSuffix(text, last.Text))
		assert.Equal(t, text, reassemble(segments, tc.overlap))
	}
}

func TestSplitDeterministic(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet ", 100)
	a, err := Split(text, 120, 30)
	require.NoError(t, err)
	b, err := Split(text, 120, 30)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSplitShortAndEmpty(t *testing.T) {
	segments, err := Split("short", 100, 10)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "short", segments[0].Text)

	segments, err = Split("", 100, 10)
	require.NoError(t, err)
	assert.Empty(t, segments)
}

func TestSplitCountsRunes(t *testing.T) {
	text := "héllo wörld ünïcode ☃☃☃"
	segments, err := Split(text, 5, 2)
	require.NoError(t, err)
	for _, seg := range segments[:len(segments)-1] {
		assert.Len(t, []rune(seg.Text), 5)
	}
	assert.Equal(t, text, reassemble(segments, 2))
}

func TestSplitInvalidConfig(t *testing.T) {
	for _, tc := range []struct{ size, overlap int }{
		{0, 0}, {-1, 0}, {10, -1}, {10, 10}, {10, 11},
	} {
		_, err := Split("text", tc.size, tc.overlap)
		assert.ErrorIs(t, err, ErrInvalidConfig)

		_, err = New(tc.size, tc.overlap, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	}
}

func TestSplitterChunk(t *testing.T) {
	s, err := New(10, 4, wordCounter{})
	require.NoError(t, err)

	chunks := s.Chunk("notes.txt", "alpha beta gamma delta epsilon")
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, "notes.txt", c.Document)
		assert.Equal(t, i, c.Index)
		assert.Equal(t, i*6, c.StartIndex)
		assert.Equal(t, len(strings.Fields(c.Text)), c.TokenCount)
	}
	assert.Equal(t, "notes.txt_0", chunks[0].ID())
}
