package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var compactCmd = &cobra.Command{
	Use:   "compact <table> <column>",
	Short: "Rewrite a VectorFile dropping tombstoned slots",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openClient(dbPath)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Compact(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("compacted %s.%s\n", args[0], args[1])
		return nil
	},
}
