package embed

import "strings"

// Chunker splits text into overlapping fixed-size word chunks.
type Chunker struct {
	maxWords int
	overlap  int
}

// NewChunker creates a chunker. Overlap is clamped below maxWords.
func NewChunker(maxWords, overlap int) *Chunker {
	if maxWords <= 0 {
		maxWords = 200
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= maxWords {
		overlap = maxWords / 4
	}
	return &Chunker{maxWords: maxWords, overlap: overlap}
}

// Chunk splits text into chunks, attaching a copy of meta to each.
func (c *Chunker) Chunk(text string, meta map[string]string) []Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []Chunk
	step := c.maxWords - c.overlap
	if step <= 0 {
		step = 1
	}

	for i := 0; i < len(words); i += step {
		end := i + c.maxWords
		if end > len(words) {
			end = len(words)
		}

		chunks = append(chunks, Chunk{
			Content:  strings.Join(words[i:end], " "),
			Index:    len(chunks),
			Metadata: copyMeta(meta),
		})

		if end == len(words) {
			break
		}
	}
	return chunks
}

func copyMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
