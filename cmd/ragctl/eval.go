package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quotegate/backend/internal/evaluation"
)

type evalFlags struct {
	dataset string
	k       int
	asJSON  bool
}

func evalCMD(flags *globalFlags) *cobra.Command {
	var ef evalFlags
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate retrieval and gating against a labelled dataset",
	}
	cmd.PersistentFlags().StringVarP(&ef.dataset, "dataset", "d", "", "dataset path (default evaluation.datasetPath)")
	cmd.PersistentFlags().IntVarP(&ef.k, "k", "k", 0, "retrieval cutoff (default evaluation.k)")
	cmd.PersistentFlags().BoolVar(&ef.asJSON, "json", false, "print the full report as JSON")

	cmd.AddCommand(evalGateCMD(flags, &ef), evalBucketsCMD(flags, &ef), evalSweepCMD(flags, &ef), evalRunsCMD(flags, &ef))
	return cmd
}

// runEval runs the dataset through the gate evaluation and persists it.
func runEval(cmd *cobra.Command, flags *globalFlags, ef *evalFlags) (*evaluation.Report, error) {
	ctx := cmd.Context()
	a, err := setup(ctx, flags)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	path, k := ef.dataset, ef.k
	if path == "" {
		path = a.Config.Evaluation.DatasetPath
	}
	if k <= 0 {
		k = a.Config.Evaluation.K
	}

	records, err := evaluation.LoadDataset(path)
	if err != nil {
		return nil, err
	}
	return evaluation.NewRunner(a.Engine, a.Store, k).Run(ctx, path, records)
}

func evalGateCMD(flags *globalFlags, ef *evalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "gate",
		Short: "Report false abstains, false passes and retrieval metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runEval(cmd, flags, ef)
			if err != nil {
				return err
			}
			if ef.asJSON {
				return printJSON(cmd.OutOrStdout(), report)
			}
			fmt.Fprint(cmd.OutOrStdout(), report.Text())
			return nil
		},
	}
}

func evalBucketsCMD(flags *globalFlags, ef *evalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "buckets",
		Short: "Group every query by failure bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runEval(cmd, flags, ef)
			if err != nil {
				return err
			}
			if ef.asJSON {
				return printJSON(cmd.OutOrStdout(), report.Rows)
			}
			writeBuckets(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

func writeBuckets(w io.Writer, report *evaluation.Report) {
	for _, bucket := range evaluation.AllBuckets {
		n := report.Summary.BucketCounts[bucket]
		if n == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s (%d)\n", bucket, n)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, row := range report.Rows {
			if row.Bucket != bucket {
				continue
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", row.ID, row.Route, row.GateReason, row.Behavior, row.Query)
		}
		tw.Flush()
	}

	fmt.Fprintln(w, "\nBehavior:")
	for _, b := range []evaluation.BehaviorBucket{
		evaluation.BehaviorOK,
		evaluation.BehaviorSemanticAbsence,
		evaluation.BehaviorContentMixing,
		evaluation.BehaviorFalseAbstain,
		evaluation.BehaviorUnknown,
	} {
		if n := report.Summary.BehaviorCounts[b]; n > 0 {
			fmt.Fprintf(w, "- %s: %d\n", b, n)
		}
	}
}

func evalSweepCMD(flags *globalFlags, ef *evalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Score hybrid retrieval across alpha values without changing config",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			path, k := ef.dataset, ef.k
			if path == "" {
				path = a.Config.Evaluation.DatasetPath
			}
			if k <= 0 {
				k = a.Config.Evaluation.K
			}
			records, err := evaluation.LoadDataset(path)
			if err != nil {
				return err
			}

			points, err := evaluation.SweepAlpha(ctx, a.Engine, records, k)
			if err != nil {
				return err
			}
			if ef.asJSON {
				return printJSON(cmd.OutOrStdout(), points)
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "alpha\thit_rate\tmrr")
			for _, p := range points {
				fmt.Fprintf(tw, "%.1f\t%.3f\t%.3f\n", p.Alpha, p.HitRate, p.MRR)
			}
			tw.Flush()
			if best, ok := evaluation.BestAlpha(points); ok {
				fmt.Fprintf(out, "best alpha: %.1f (configured %.2f)\n", best.Alpha, a.Engine.Alpha())
			}
			return nil
		},
	}
}

func evalRunsCMD(flags *globalFlags, ef *evalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List persisted evaluation runs or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				run, rows, err := a.Store.GetEvalRun(args[0])
				if err != nil {
					return err
				}
				return printJSON(out, map[string]interface{}{"run": run, "rows": rows})
			}

			runs, err := a.Store.ListEvalRuns(limit)
			if err != nil {
				return err
			}
			if ef.asJSON {
				return printJSON(out, runs)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "id\tkind\tmode\tdataset\tcreated")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Kind, r.Mode, r.Dataset, r.CreatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "runs to list")
	return cmd
}
