package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats <table> <column>",
	Short: "Print VectorFile occupancy for a vector-enabled column",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openClient(dbPath)
		if err != nil {
			return err
		}
		defer client.Close()

		stats, err := client.VectorStats(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("dimension:   %d\n", stats.Dimension)
		fmt.Printf("live:        %d\n", stats.LiveCount)
		fmt.Printf("tombstoned:  %d\n", stats.TombstoneCount)
		fmt.Printf("embedder:    %s\n", stats.Embedder)
		return nil
	},
}
