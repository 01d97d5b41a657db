package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"vecstash/internal/embed"
)

var (
	searchCollection string
	searchK          int
	searchFilters    []string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search a collection by text similarity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		filters, err := parseFilters(searchFilters)
		if err != nil {
			return err
		}

		eng, st, err := openEngine()
		if err != nil {
			return err
		}
		defer st.Close()

		embedder, err := embed.LoadTFIDF(cfg.ModelPath(searchCollection))
		if err != nil {
			return fmt.Errorf("no embedding model for collection %q: embed something first", searchCollection)
		}
		vectors, err := embedder.Embed(ctx, []string{args[0]})
		if err != nil {
			return err
		}

		results, err := eng.Search(ctx, searchCollection, vectors[0], searchK, filters)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No results.")
			return nil
		}

		for i, r := range results {
			fmt.Printf("%d. [%s] id %d\n", i+1, similarityColor(r.Similarity), r.Entry.ID)
			fmt.Printf("   %s\n", preview(r.Entry.Text, 120))
			if src, ok := r.Entry.Metadata["source"]; ok {
				fmt.Printf("   source: %s\n", src)
			}
			if p, ok := r.Entry.Metadata["path"]; ok {
				fmt.Printf("   path: %s (chunk %s of %s)\n", p, r.Entry.Metadata["chunk"], r.Entry.Metadata["chunks"])
			}
		}
		return nil
	},
}

// similarityColor renders a similarity score with a color scaled to
// match quality.
func similarityColor(sim float64) string {
	pct := fmt.Sprintf("%.1f%%", sim*100)
	switch {
	case sim >= 0.8:
		return color.GreenString(pct)
	case sim >= 0.6:
		return color.YellowString(pct)
	default:
		return color.RedString(pct)
	}
}

func parseFilters(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	filters := make(map[string]string, len(raw))
	for _, f := range raw {
		key, value, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q: expected key=value", f)
		}
		filters[key] = value
	}
	return filters, nil
}

func init() {
	searchCmd.Flags().StringVarP(&searchCollection, "collection", "c", "default", "collection to search")
	searchCmd.Flags().IntVarP(&searchK, "top", "k", 5, "number of results")
	searchCmd.Flags().StringSliceVar(&searchFilters, "filter", nil, "metadata filter(s), key=value")
	rootCmd.AddCommand(searchCmd)
}
