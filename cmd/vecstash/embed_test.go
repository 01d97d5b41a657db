package main

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vecstash/internal/embed"
)

func TestStampProvenanceFileChunks(t *testing.T) {
	chunker := embed.NewChunker(3, 1)
	text := strings.Repeat("word ", 10)

	chunks := stampProvenance(chunker.Chunk(text, chunkMeta("batch-1")), "notes/doc.txt")
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.Equal(t, "batch-1", c.Metadata["batch"])
		assert.Equal(t, "notes/doc.txt", c.Metadata["path"])
		assert.Equal(t, strconv.Itoa(i), c.Metadata["chunk"])
		assert.Equal(t, strconv.Itoa(len(chunks)), c.Metadata["chunks"])
	}
}

func TestStampProvenanceInlineText(t *testing.T) {
	chunker := embed.NewChunker(100, 0)

	chunks := stampProvenance(chunker.Chunk("short inline text", chunkMeta("batch-2")), "")
	require.Len(t, chunks, 1)

	_, hasPath := chunks[0].Metadata["path"]
	assert.False(t, hasPath, "inline text has no file path")
	assert.Equal(t, "0", chunks[0].Metadata["chunk"])
	assert.Equal(t, "1", chunks[0].Metadata["chunks"])
}

func TestChunkMetaSourceFlag(t *testing.T) {
	embedSource = "manual"
	defer func() { embedSource = "" }()

	meta := chunkMeta("batch-3")
	assert.Equal(t, "manual", meta["source"])
	assert.Equal(t, "batch-3", meta["batch"])
}
