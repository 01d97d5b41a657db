package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"vecstash/internal/embed"
	"vecstash/internal/store"
)

var (
	embedCollection string
	embedFiles      []string
	embedSource     string
)

var embedCmd = &cobra.Command{
	Use:   "embed [text...]",
	Short: "Embed text or files into a collection",
	Long: `Embed text arguments or files into a collection. Long documents are
split into overlapping chunks before embedding. All chunks from one
invocation share a batch tag in their metadata and are stored
atomically.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && len(embedFiles) == 0 {
			return fmt.Errorf("nothing to embed: pass text arguments or --file")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		eng, st, err := openEngine()
		if err != nil {
			return err
		}
		defer st.Close()

		chunker := embed.NewChunker(cfg.Embed.ChunkWords, cfg.Embed.Overlap)
		batchTag := uuid.NewString()

		var chunks []embed.Chunk
		for _, text := range args {
			chunks = append(chunks, stampProvenance(chunker.Chunk(text, chunkMeta(batchTag)), "")...)
		}
		for _, path := range embedFiles {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			chunks = append(chunks, stampProvenance(chunker.Chunk(string(data), chunkMeta(batchTag)), path)...)
		}
		if len(chunks) == 0 {
			return fmt.Errorf("no embeddable content found")
		}

		embedder, err := loadOrTrainEmbedder(embedCollection, chunks)
		if err != nil {
			return err
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vectors, err := embedder.Embed(ctx, texts)
		if err != nil {
			return err
		}

		batch := make([]store.BatchEntry, len(chunks))
		for i, c := range chunks {
			batch[i] = store.BatchEntry{
				Vector:   vectors[i],
				Text:     c.Content,
				Metadata: c.Metadata,
			}
		}

		entries, err := eng.InsertBatch(ctx, embedCollection, batch)
		if err != nil {
			return err
		}

		fmt.Printf("Embedded %d chunk(s) into %q (batch %s)\n", len(entries), embedCollection, batchTag)
		for _, e := range entries {
			fmt.Printf("  id %d: %s\n", e.ID, preview(e.Text, 60))
		}
		return nil
	},
}

func chunkMeta(batchTag string) map[string]string {
	meta := map[string]string{"batch": batchTag}
	if embedSource != "" {
		meta["source"] = embedSource
	}
	return meta
}

// stampProvenance records where each chunk came from: the originating
// file path and its position within the document's chunk sequence.
func stampProvenance(chunks []embed.Chunk, path string) []embed.Chunk {
	total := strconv.Itoa(len(chunks))
	for i := range chunks {
		if path != "" {
			chunks[i].Metadata["path"] = path
		}
		chunks[i].Metadata["chunk"] = strconv.Itoa(chunks[i].Index)
		chunks[i].Metadata["chunks"] = total
	}
	return chunks
}

// loadOrTrainEmbedder reuses the collection's saved embedding model so
// every entry and query shares one vector space. First use trains on the
// incoming chunks and persists the model.
func loadOrTrainEmbedder(collection string, chunks []embed.Chunk) (*embed.TFIDF, error) {
	modelPath := cfg.ModelPath(collection)
	if embedder, err := embed.LoadTFIDF(modelPath); err == nil {
		return embedder, nil
	}

	corpus := make([]string, len(chunks))
	for i, c := range chunks {
		corpus[i] = c.Content
	}
	embedder := embed.NewTFIDF(cfg.Embed.Dimensions)
	embedder.Train(corpus)
	if err := embedder.Save(modelPath); err != nil {
		return nil, fmt.Errorf("save embedding model: %w", err)
	}
	logger.Debug("trained embedding model", "collection", collection, "path", modelPath)
	return embedder, nil
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func init() {
	embedCmd.Flags().StringVarP(&embedCollection, "collection", "c", "default", "target collection")
	embedCmd.Flags().StringSliceVarP(&embedFiles, "file", "f", nil, "file(s) to embed")
	embedCmd.Flags().StringVar(&embedSource, "source", "", "source label stored in metadata")
	rootCmd.AddCommand(embedCmd)
}
