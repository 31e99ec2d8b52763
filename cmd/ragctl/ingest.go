package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func ingestCMD(flags *globalFlags) *cobra.Command {
	var remove string
	cmd := &cobra.Command{
		Use:   "ingest [dir]",
		Short: "Chunk and index every .txt, .md and .html file in a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if remove != "" {
				n, err := a.Processor.DeleteDocument(ctx, remove)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d chunks of %s\n", n, remove)
				return nil
			}

			if len(args) == 0 {
				return fmt.Errorf("a directory is required unless --delete is set")
			}
			n, err := a.Processor.IngestDir(ctx, args[0])
			if err != nil {
				return err
			}
			total, err := a.Store.CountChunks()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d chunks (%d stored)\n", n, total)
			return nil
		},
	}
	cmd.Flags().StringVar(&remove, "delete", "", "remove the chunks of this source from the store and both indexes instead of ingesting")
	return cmd
}
