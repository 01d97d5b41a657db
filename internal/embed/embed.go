// Package embed turns text into vectors for storage and querying, and
// splits long documents into chunks sized for embedding.
package embed

import "context"

// Embedder converts text to vectors.
type Embedder interface {
	// Embed converts texts to vectors (batched for efficiency).
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the vector dimensionality.
	Dimensions() int

	// Name identifies the embedder.
	Name() string
}

// Chunk is one piece of a split document.
type Chunk struct {
	Content  string
	Index    int
	Metadata map[string]string
}
