package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adalundhe/hindsight/core/memory"
	"github.com/adalundhe/hindsight/core/retrieval"
)

var (
	recallBank      string
	recallBudget    string
	recallMaxTokens int
	recallTypes     []string
	recallEntities  bool
)

var recallCmd = &cobra.Command{
	Use:   "recall [query]",
	Short: "Retrieve ranked memories for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer eng.Close()

		req := retrieval.Request{
			BankID:          recallBank,
			Query:           strings.Join(args, " "),
			Budget:          retrieval.BudgetLevel(recallBudget),
			MaxTokens:       recallMaxTokens,
			IncludeEntities: recallEntities,
		}
		for _, t := range recallTypes {
			req.Types = append(req.Types, memory.FactType(t))
		}

		result, err := eng.Recall(cmd.Context(), req)
		if err != nil {
			return err
		}

		for i, item := range result.Items {
			date := ""
			if item.EventDate != nil {
				date = " (" + item.EventDate.Format("2006-01-02") + ")"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%2d. [%.3f] %s%s\n", i+1, item.Weight, item.Text, date)
		}
		for _, e := range result.Entities {
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s (%s):\n", e.Name, e.Type)
			for _, obs := range e.Observations {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", obs)
			}
		}
		for _, w := range result.Warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
		}
		return nil
	},
}

func init() {
	recallCmd.Flags().StringVar(&recallBank, "bank", "default", "memory bank id")
	recallCmd.Flags().StringVar(&recallBudget, "budget", "mid", "recall budget: low, mid, high")
	recallCmd.Flags().IntVar(&recallMaxTokens, "max-tokens", 4096, "token budget for results")
	recallCmd.Flags().StringSliceVar(&recallTypes, "types", nil, "fact types to search (default world,bank,opinion)")
	recallCmd.Flags().BoolVar(&recallEntities, "entities", false, "attach entity observations")
	rootCmd.AddCommand(recallCmd)
}
