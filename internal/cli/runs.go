package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robavelii/web-scrapper/internal/config"
	"github.com/robavelii/web-scrapper/internal/logging"
	"github.com/robavelii/web-scrapper/internal/storage"
	"github.com/robavelii/web-scrapper/pkg/types"
)

type runsFlags struct {
	configPath string
	format     string
	dsn        string
	table      string
}

// newRunsCmd lists crawl runs stored in a SQL table, or prints the records
// of one run as CSV.
func newRunsCmd() *cobra.Command {
	var f runsFlags
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List stored crawl runs or export one run as CSV",
		Long: `runs reads back what earlier crawls wrote to a postgres or sqlite table.
Without arguments it lists every run id with its record count and start URL.
With a run id it prints that run's records to stdout in the CSV export format.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.run(cmd, args)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to a YAML configuration file")
	cmd.Flags().StringVar(&f.format, "format", "", "Storage format: postgres or sqlite")
	cmd.Flags().StringVar(&f.dsn, "dsn", "", "Database DSN")
	cmd.Flags().StringVar(&f.table, "table", "", "Table holding the records")
	return cmd
}

func (f *runsFlags) run(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return err
		}
		cfg = *loaded
	}
	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.Output.Format = f.format
	}
	if flags.Changed("dsn") {
		cfg.Output.DSN = f.dsn
	}
	if flags.Changed("table") {
		cfg.Output.Table = f.table
	}
	applyLoggingFlags(cmd, &cfg)
	cfg.Normalise()
	if cfg.Output.Format != config.FormatPostgres && cfg.Output.Format != config.FormatSQLite {
		return fmt.Errorf("%w: runs needs --format postgres or sqlite (got %q)", types.ErrInvalidInput, cfg.Output.Format)
	}

	logger, err := logging.New(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	store, err := storage.NewSQLSink(cfg.Output, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		records, err := store.Records(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return fmt.Errorf("no records stored for run %q", args[0])
		}
		return storage.EncodeCSV(out, records, cfg.Output.LinkSeparator)
	}

	runs, err := store.Runs(cmd.Context())
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs stored.")
		return nil
	}
	for _, run := range runs {
		fmt.Fprintf(out, "%s\t%d\t%s\n", run.RunID, run.Records, run.FirstURL)
	}
	return nil
}
