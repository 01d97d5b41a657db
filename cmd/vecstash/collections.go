package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "Manage collections",
}

var collectionsCreateCmd = &cobra.Command{
	Use:   "create <name> <dimension>",
	Short: "Create a collection with a fixed dimension",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dim, err := strconv.Atoi(args[1])
		if err != nil || dim <= 0 {
			return fmt.Errorf("invalid dimension %q", args[1])
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		_, st, err := openEngine()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.CreateCollection(ctx, args[0], dim); err != nil {
			return err
		}
		fmt.Printf("Collection %q ready (dimension %d)\n", args[0], dim)
		return nil
	},
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		eng, st, err := openEngine()
		if err != nil {
			return err
		}
		defer st.Close()

		cols, err := st.ListCollections(ctx)
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			fmt.Println("No collections.")
			return nil
		}

		for _, c := range cols {
			n, err := eng.Store().Count(ctx, c.Name)
			if err != nil {
				return err
			}
			fmt.Printf("%-20s dim %-5d %s entries, created %s\n",
				c.Name, c.Dimension, humanize.Comma(int64(n)), humanize.Time(c.CreatedAt))
		}
		return nil
	},
}

var collectionsInfoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show collection statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		_, st, err := openEngine()
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Stats(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Collection: %s\n", stats.Name)
		fmt.Printf("Dimension:  %d\n", stats.Dimension)
		fmt.Printf("Entries:    %s\n", humanize.Comma(int64(stats.Entries)))
		if !stats.Earliest.IsZero() {
			fmt.Printf("Oldest:     %s\n", humanize.Time(stats.Earliest))
			fmt.Printf("Newest:     %s\n", humanize.Time(stats.Latest))
		}
		fmt.Printf("Store size: %s\n", humanize.Bytes(uint64(stats.FileSizeBytes)))
		return nil
	},
}

var dropForce bool

var collectionsDropCmd = &cobra.Command{
	Use:   "drop <name>",
	Short: "Delete a collection and all its entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !dropForce {
			return fmt.Errorf("dropping %q removes all its entries; re-run with --force", args[0])
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		eng, st, err := openEngine()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := eng.Drop(ctx, args[0]); err != nil {
			return err
		}
		// The embedding model is useless without its entries.
		os.Remove(cfg.ModelPath(args[0]))

		fmt.Printf("Dropped collection %q\n", args[0])
		return nil
	},
}

func init() {
	collectionsDropCmd.Flags().BoolVar(&dropForce, "force", false, "skip confirmation")
	collectionsCmd.AddCommand(collectionsCreateCmd)
	collectionsCmd.AddCommand(collectionsListCmd)
	collectionsCmd.AddCommand(collectionsInfoCmd)
	collectionsCmd.AddCommand(collectionsDropCmd)
	rootCmd.AddCommand(collectionsCmd)
}
