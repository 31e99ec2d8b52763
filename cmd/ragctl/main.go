package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quotegate/backend/internal/app"
	"github.com/quotegate/backend/pkg/config"
	"github.com/quotegate/backend/pkg/logger"
)

type globalFlags struct {
	configPath string
	mode       string
	verbose    bool
}

func main() {
	var flags globalFlags
	root := &cobra.Command{
		Use:           "ragctl",
		Short:         "Query, ingest and evaluate the policy QA pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default searches ., ./config, /etc/quotegate)")
	root.PersistentFlags().StringVar(&flags.mode, "mode", "", "feature mode override (retrieval, gated, full, ungated)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(queryCMD(&flags), ingestCMD(&flags), evalCMD(&flags))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads config and the pipeline. Logs go to stderr so stdout carries
// only command output.
func setup(ctx context.Context, flags *globalFlags) (*app.App, error) {
	cfg, err := config.LoadFile(flags.configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if flags.verbose {
		level = "debug"
	}
	output := cfg.Logging.OutputPath
	if output == "" || output == "stdout" {
		output = "stderr"
	}
	if err := logger.Init(level, "console", output); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return app.New(ctx, cfg, flags.mode)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
