package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var entryCollection string

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one stored entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		eng, st, err := openEngine()
		if err != nil {
			return err
		}
		defer st.Close()

		e, err := eng.Get(ctx, entryCollection, id)
		if err != nil {
			return err
		}

		fmt.Printf("id:         %d\n", e.ID)
		fmt.Printf("collection: %s\n", e.Collection)
		fmt.Printf("dimension:  %d\n", len(e.Vector))
		fmt.Printf("created:    %s\n", e.CreatedAt.Format(time.RFC3339))
		for k, v := range e.Metadata {
			fmt.Printf("meta %s: %s\n", k, v)
		}
		fmt.Printf("text:\n%s\n", e.Text)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one stored entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		eng, st, err := openEngine()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := eng.Delete(ctx, entryCollection, id); err != nil {
			return err
		}
		fmt.Printf("Deleted %s/%d\n", entryCollection, id)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all entries in a collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		_, st, err := openEngine()
		if err != nil {
			return err
		}
		defer st.Close()

		cur, err := st.Scan(ctx, entryCollection)
		if err != nil {
			return err
		}
		defer cur.Close()

		n := 0
		for cur.Next() {
			e := cur.Entry()
			fmt.Printf("%6d  %s\n", e.ID, preview(e.Text, 100))
			n++
		}
		if err := cur.Err(); err != nil {
			return err
		}
		if n == 0 {
			fmt.Println("No entries.")
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{getCmd, deleteCmd, listCmd} {
		c.Flags().StringVarP(&entryCollection, "collection", "c", "default", "collection name")
		rootCmd.AddCommand(c)
	}
}
