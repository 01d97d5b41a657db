package embed

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerShortTextSingleChunk(t *testing.T) {
	c := NewChunker(100, 10)
	chunks := c.Chunk("just a few words", nil)
	require.Len(t, chunks, 1)
	assert.Equal(t, "just a few words", chunks[0].Content)
	assert.Equal(t, 0, chunks[0].Index)
}

func TestChunkerEmptyText(t *testing.T) {
	c := NewChunker(100, 10)
	assert.Nil(t, c.Chunk("   ", nil))
}

func TestChunkerOverlap(t *testing.T) {
	words := make([]string, 25)
	for i := range words {
		words[i] = string(rune('a' + i))
	}
	text := strings.Join(words, " ")

	c := NewChunker(10, 3)
	chunks := c.Chunk(text, nil)
	require.Greater(t, len(chunks), 1)

	// Consecutive chunks share the overlap tail.
	first := strings.Fields(chunks[0].Content)
	second := strings.Fields(chunks[1].Content)
	assert.Equal(t, first[len(first)-3:], second[:3])

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
	}
}

func TestChunkerMetadataCopied(t *testing.T) {
	c := NewChunker(2, 0)
	meta := map[string]string{"source": "doc.txt"}
	chunks := c.Chunk("one two three four", meta)
	require.Len(t, chunks, 2)

	chunks[0].Metadata["source"] = "mutated"
	assert.Equal(t, "doc.txt", chunks[1].Metadata["source"])
	assert.Equal(t, "doc.txt", meta["source"])
}
