package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"vitalsdash/adapters/excel"
	"vitalsdash/app"
	"vitalsdash/domain/vitals"
	"vitalsdash/internal"
	"vitalsdash/internal/config"
	"vitalsdash/internal/container"
	"vitalsdash/internal/errors"
	"vitalsdash/internal/migration"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "vitalsctl",
		Short:         "Health metrics dashboard CLI: export, latest readings, predictions and migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env file is fine; the environment may already be set
			_ = godotenv.Load()
		},
	}

	rootCmd.AddCommand(
		newExportCmd(),
		newLatestCmd(),
		newPredictCmd(),
		newMigrateCmd(),
	)
	return rootCmd
}

func newExportCmd() *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Fetch all metrics once and write an .xlsx workbook or a Markdown report",
		Long: `Fetch every metric from the upstream API and write the dashboard to a file.

Example: vitalsctl export --format md -o report.md`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), cmd.OutOrStdout(), format, output)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "xlsx", "Output format: xlsx|md")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default health-metrics.<format>)")
	return cmd
}

func newLatestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latest [metric...]",
		Short: "Print the most recent reading of each metric",
		Long: `Print the most recent reading of the given metrics, or of all metrics.

Example: vitalsctl latest heart-rate spo2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLatest(cmd.Context(), cmd.OutOrStdout(), args)
		},
	}
}

func newPredictCmd() *cobra.Command {
	var offset int

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Print the heart-rate regression and its projection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPredict(cmd.Context(), cmd.OutOrStdout(), offset)
		},
	}

	cmd.Flags().IntVar(&offset, "offset", 0, "Months to project ahead (default PREDICTION_OFFSET)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the snapshot schema in DATABASE_URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

// openApp loads configuration and builds a container, persisting snapshots
// when DATABASE_URL is set
func openApp(ctx context.Context) (*container.Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := internal.NewLoggerWithOutput(internal.ParseLogLevel(cfg.Log.Level), os.Stderr, false)
	c, err := container.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Database.URL != "" {
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.URL)
		if err != nil {
			return nil, errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to connect to database"))
		}
		if err := c.InitWithDatabase(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	if err := c.Build(); err != nil {
		return nil, err
	}
	return c, nil
}

func loadDashboard(ctx context.Context, c *container.Container) (*app.Dashboard, error) {
	if _, err := c.Dashboard.Refresh(ctx); err != nil {
		return nil, err
	}
	return c.Dashboard.Dashboard(ctx)
}

func runExport(ctx context.Context, out io.Writer, format, output string) error {
	format = strings.ToLower(format)
	if format != "xlsx" && format != "md" {
		return errors.InvalidInput(fmt.Sprintf("unknown format %q (use xlsx or md)", format))
	}
	if output == "" {
		output = "health-metrics." + format
	}

	c, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer c.Shutdown(context.Background())

	d, err := loadDashboard(ctx, c)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	switch format {
	case "xlsx":
		if err := excel.WriteDashboard(&buf, d); err != nil {
			return err
		}
	case "md":
		buf.WriteString(app.ReportBuilder{}.Markdown(d))
	}

	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", output)
	}

	p := newPrinter(out)
	for _, v := range d.Metrics {
		if v.Stale {
			p.Warn("%s: upstream unavailable, exported stored data", v.DisplayName)
		}
	}
	p.Success("wrote %s (%d bytes)", output, buf.Len())
	return nil
}

func runLatest(ctx context.Context, out io.Writer, names []string) error {
	metrics := vitals.AllMetrics()
	if len(names) > 0 {
		metrics = metrics[:0]
		for _, name := range names {
			m, err := vitals.ParseMetric(name)
			if err != nil {
				return err
			}
			metrics = append(metrics, m)
		}
	}

	c, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer c.Shutdown(context.Background())

	table := newTable(out, []string{"Metric", "Value", "Date", "Status"})
	for _, m := range metrics {
		view, err := c.Dashboard.MetricView(ctx, m)
		if err != nil {
			return err
		}

		value, date := "-", "-"
		if view.Latest != nil {
			info, _ := m.Info()
			value = strconv.FormatFloat(view.Latest.Value, 'f', info.Precision, 64) + " " + view.Unit
			date = view.Latest.Date
		}
		table.AddRow([]string{view.DisplayName, value, date, statusLabel(view)})
	}
	return table.Render()
}

func runPredict(ctx context.Context, out io.Writer, offset int) error {
	if offset < 0 || offset > app.MaxPredictionOffset {
		return errors.InvalidInput(fmt.Sprintf("offset must be between 1 and %d", app.MaxPredictionOffset))
	}

	c, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer c.Shutdown(context.Background())

	p, err := c.Dashboard.Prediction(ctx, offset)
	if err != nil {
		return err
	}

	printer := newPrinter(out)
	if !p.Available {
		printer.Warn("not enough heart-rate data for a trend")
		return nil
	}

	table := newTable(out, []string{"Month", "Average", "Regression", fmt.Sprintf("Predicted (+%d)", p.Offset)})
	for _, r := range p.Rows {
		table.AddRow([]string{r.Name, formatFloat(r.Average), formatFloat(r.Regression), formatFloat(r.Predicted)})
	}
	if err := table.Render(); err != nil {
		return err
	}

	printer.Info("slope %.4f, intercept %.4f, R² %.3f", p.Slope, p.Intercept, p.RSquared)
	printer.Success("projected value: %s %s", formatFloat(p.NextValue), p.Unit)
	return nil
}

func runMigrate(ctx context.Context, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.ConfigInvalid("DATABASE_URL is required")
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.URL)
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to connect to database"))
	}
	defer db.Close()

	runner := migration.NewRunner()
	if err := runner.Run(ctx, db); err != nil {
		return err
	}
	newPrinter(out).Success("schema %s is up to date", runner.Version())
	return nil
}

func statusLabel(v *app.MetricView) string {
	switch {
	case !v.Available && v.Error != "":
		return "unavailable"
	case !v.Available:
		return "no data"
	case v.Stale:
		return "stale"
	default:
		return "live"
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
