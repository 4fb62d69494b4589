package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var reembedForce bool

var reembedCmd = &cobra.Command{
	Use:   "reembed <table> <column>",
	Short: "Regenerate embeddings for rows missing a live vector",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openClient(dbPath)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx := context.Background()
		var n int
		if reembedForce {
			n, err = client.ReembedColumnForce(ctx, args[0], args[1])
		} else {
			n, err = client.ReembedColumn(ctx, args[0], args[1])
		}
		if err != nil {
			return err
		}
		fmt.Printf("re-embedded %d row(s) in %s.%s\n", n, args[0], args[1])
		return nil
	},
}

func init() {
	reembedCmd.Flags().BoolVar(&reembedForce, "force", false, "re-embed every row, not just those missing a vector")
}
