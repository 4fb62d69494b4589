package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var retryOutboxCmd = &cobra.Command{
	Use:   "retry-outbox <table> <column>",
	Short: "Re-embed rows queued in a column's outbox after a non-atomic embedding failure",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openClient(dbPath)
		if err != nil {
			return err
		}
		defer client.Close()

		succeeded, failed, err := client.RetryOutbox(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("retried outbox for %s.%s: %d succeeded, %d still failing\n", args[0], args[1], succeeded, failed)
		return nil
	},
}
