package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/quotegate/backend/internal/query"
)

func queryCMD(flags *globalFlags) *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "query [text...]",
		Short: "Run one query and print the response envelope",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			env, err := a.Engine.ProcessQuery(ctx, query.Request{Query: strings.Join(args, " "), TopK: topK})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), env)
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "results to keep (0 uses retrieval.topK)")
	return cmd
}
