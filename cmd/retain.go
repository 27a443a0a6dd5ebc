package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adalundhe/hindsight/core/engine"
	"github.com/adalundhe/hindsight/core/ingest"
)

var (
	retainBank     string
	retainContext  string
	retainDocument string
	retainAsync    bool
)

var retainCmd = &cobra.Command{
	Use:   "retain [content]",
	Short: "Extract and store facts from content",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer eng.Close()

		result, err := eng.Retain(cmd.Context(), engine.RetainRequest{
			Request: ingest.Request{
				BankID:     retainBank,
				DocumentID: retainDocument,
				Items: []ingest.Item{{
					Content: strings.Join(args, " "),
					Context: retainContext,
				}},
			},
			Async: retainAsync,
		})
		if err != nil {
			return err
		}

		if result.OperationID != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "operation: %s\n", result.OperationID)
			return nil
		}
		for _, ids := range result.UnitIDs {
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
		}
		return nil
	},
}

func init() {
	retainCmd.Flags().StringVar(&retainBank, "bank", "default", "memory bank id")
	retainCmd.Flags().StringVar(&retainContext, "context", "", "free-text context stored with the facts")
	retainCmd.Flags().StringVar(&retainDocument, "document", "", "document id; re-ingesting replaces prior units")
	retainCmd.Flags().BoolVar(&retainAsync, "async", false, "return an operation id immediately")
	rootCmd.AddCommand(retainCmd)
}
