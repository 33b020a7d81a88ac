package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeText(tokens int) string {
	words := make([]string, tokens)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(words, " ")
}

func TestNewValidation(t *testing.T) {
	_, err := New(0, 0)
	assert.Error(t, err)

	_, err = New(100, 100)
	assert.Error(t, err)

	_, err = New(100, -1)
	assert.Error(t, err)

	c, err := New(100, 0)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestShortTextSingleChunk(t *testing.T) {
	c, err := New(500, 50)
	require.NoError(t, err)

	text := makeText(120)
	pieces := c.Chunk(text)

	require.Len(t, pieces, 1)
	assert.Equal(t, 0, pieces[0].Ordinal)
	assert.Equal(t, text, pieces[0].Text)
	assert.Equal(t, 0, pieces[0].StartOffset)
	assert.Equal(t, len(text), pieces[0].EndOffset)
}

func TestEmptyText(t *testing.T) {
	c, err := New(500, 50)
	require.NoError(t, err)

	assert.Empty(t, c.Chunk(""))
	assert.Empty(t, c.Chunk("   \n\t  "))
}

// A 600-token document with chunkSize=500/overlap=50 yields exactly two
// chunks, the second starting 50 tokens before the end of the first.
func TestSixHundredTokenDocument(t *testing.T) {
	c, err := New(500, 50)
	require.NoError(t, err)

	text := makeText(600)
	pieces := c.Chunk(text)
	require.Len(t, pieces, 2)

	first := strings.Fields(pieces[0].Text)
	second := strings.Fields(pieces[1].Text)
	assert.Len(t, first, 500)
	assert.Len(t, second, 150)
	assert.Equal(t, first[450:], second[:50])
}

func TestTrailingRemainderMergedIntoPrevious(t *testing.T) {
	c, err := New(100, 20)
	require.NoError(t, err)

	// 110 tokens: the 10-token remainder is shorter than the overlap, so the
	// single window absorbs it instead of spawning a near-empty chunk.
	pieces := c.Chunk(makeText(110))
	require.Len(t, pieces, 1)
	assert.Len(t, strings.Fields(pieces[0].Text), 110)

	// 120 tokens: remainder equals the overlap, second chunk is emitted.
	pieces = c.Chunk(makeText(120))
	require.Len(t, pieces, 2)
	assert.Len(t, strings.Fields(pieces[1].Text), 40)

	// 190 tokens: the final window extends to the end so the tail never
	// falls below the overlap.
	pieces = c.Chunk(makeText(190))
	require.Len(t, pieces, 2)
	assert.Len(t, strings.Fields(pieces[1].Text), 110)
}

func TestDeterministicBoundaries(t *testing.T) {
	c, err := New(500, 50)
	require.NoError(t, err)

	text := makeText(1700)
	a := c.Chunk(text)
	b := c.Chunk(text)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i], b[i])
	}
}

func TestOrdinalsContiguousAndOffsetsOrdered(t *testing.T) {
	c, err := New(50, 10)
	require.NoError(t, err)

	text := makeText(333)
	pieces := c.Chunk(text)
	require.NotEmpty(t, pieces)

	for i, p := range pieces {
		assert.Equal(t, i, p.Ordinal)
		assert.Less(t, p.StartOffset, p.EndOffset)
		assert.Equal(t, p.Text, text[p.StartOffset:p.EndOffset])
		if i > 0 {
			assert.Greater(t, p.StartOffset, pieces[i-1].StartOffset)
		}
	}
}

func TestCountTokens(t *testing.T) {
	assert.Equal(t, 0, CountTokens(""))
	assert.Equal(t, 3, CountTokens("a  b\nc"))
	assert.Equal(t, 600, CountTokens(makeText(600)))
}
