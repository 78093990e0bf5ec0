package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"text/tabwriter"

	"wisefido-vitals/internal/models"

	"github.com/spf13/cobra"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service health and monitor status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out json.RawMessage
			if err := opts.client().get("/health", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newSnapshotCmd(opts *rootOptions) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Show the latest record per category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if category != "" {
				q.Set("category", category)
			}
			var out json.RawMessage
			if err := opts.client().get(apiPrefix+"/snapshot", q, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Only show one category (e.g. steps)")
	return cmd
}

func newRefreshCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Request a throttled refresh of every monitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Executed bool            `json:"executed"`
				Monitors map[string]bool `json:"monitors"`
			}
			if err := opts.client().post(apiPrefix+"/refresh", nil, nil, &out); err != nil {
				return err
			}
			if out.Executed {
				fmt.Fprintln(cmd.OutOrStdout(), "Refresh executed")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Refresh throttled, try again shortly")
			}
			return nil
		},
	}
}

type metricsFlags struct {
	from, to string
	types    string
	sources  string
	manual   string
	asJSON   bool
}

func newMetricsCmd(opts *rootOptions) *cobra.Command {
	f := &metricsFlags{}
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "List cached metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			setIf(q, "from", f.from)
			setIf(q, "to", f.to)
			setIf(q, "types", f.types)
			setIf(q, "sources", f.sources)
			setIf(q, "manual", f.manual)

			var out struct {
				Version uint64          `json:"version"`
				Count   int             `json:"count"`
				Metrics []models.Metric `json:"metrics"`
			}
			if err := opts.client().get(apiPrefix+"/metrics", q, &out); err != nil {
				return err
			}
			if f.asJSON {
				return printJSON(cmd.OutOrStdout(), out)
			}
			return printMetrics(cmd.OutOrStdout(), out.Metrics)
		},
	}
	cmd.Flags().StringVar(&f.from, "from", "", "Start time (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "End time (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.types, "types", "", "Comma separated metric types")
	cmd.Flags().StringVar(&f.sources, "sources", "", "Comma separated sources")
	cmd.Flags().StringVar(&f.manual, "manual", "", "Filter by manual entry (true|false)")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "Print raw JSON")
	return cmd
}

func newWindowCmd(opts *rootOptions) *cobra.Command {
	var from, to string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "window",
		Short: "Rebuild metrics for an arbitrary time window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			setIf(q, "from", from)
			setIf(q, "to", to)
			var out struct {
				Count   int             `json:"count"`
				Metrics []models.Metric `json:"metrics"`
			}
			if err := opts.client().post(apiPrefix+"/metrics/refresh", q, nil, &out); err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), out)
			}
			return printMetrics(cmd.OutOrStdout(), out.Metrics)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Window start (RFC3339 or YYYY-MM-DD); 7 days before --to when empty")
	cmd.Flags().StringVar(&to, "to", "", "Window end (RFC3339 or YYYY-MM-DD); now when empty")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}

func newDailyCmd(opts *rootOptions) *cobra.Command {
	var typ, date string
	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Aggregate a metric type per day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("type", typ)
			setIf(q, "date", date)
			var out json.RawMessage
			if err := opts.client().get(apiPrefix+"/metrics/daily", q, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "Metric type (e.g. stepcount)")
	cmd.Flags().StringVar(&date, "date", "", "Day (YYYY-MM-DD); all days when empty")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newLatestCmd(opts *rootOptions) *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Show the most recent metric of a type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var m models.Metric
			if err := opts.client().get(apiPrefix+"/metrics/latest", url.Values{"type": {typ}}, &m); err != nil {
				return err
			}
			return printMetrics(cmd.OutOrStdout(), []models.Metric{m})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "Metric type (e.g. weight)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download the metrics workbook (xlsx)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.client().download(apiPrefix+"/metrics/export", nil)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(data), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "vitals-metrics.xlsx", "Output file")
	return cmd
}

func newWriteCmd(opts *rootOptions) *cobra.Command {
	var data, file string
	cmd := &cobra.Command{
		Use:   "write <category>",
		Short: "Write one manual record",
		Long: `Write one record through the service's record gateway.

The record body is JSON, e.g.
  vitalsctl write steps --data '{"start_time":"2024-03-01T08:00:00Z","end_time":"2024-03-01T09:00:00Z","steps":{"count":1200}}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, err := models.ParseCategory(args[0])
			if err != nil {
				return err
			}
			body, err := recordBody(cmd.InOrStdin(), data, file)
			if err != nil {
				return err
			}
			var out struct {
				RecordID string `json:"record_id"`
			}
			if err := opts.client().post(apiPrefix+"/records/"+string(category), nil, body, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Record written: %s\n", out.RecordID)
			return nil
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "Record JSON")
	cmd.Flags().StringVar(&file, "file", "", "Read record JSON from file (- for stdin)")
	return cmd
}

func recordBody(stdin io.Reader, data, file string) (json.RawMessage, error) {
	var raw []byte
	switch {
	case data != "":
		raw = []byte(data)
	case file == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		raw = b
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		raw = b
	default:
		return nil, fmt.Errorf("one of --data or --file is required")
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("record body is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func printMetrics(w io.Writer, metrics []models.Metric) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tSTART\tEND\tVALUE\tUNIT\tSOURCE\tMANUAL")
	for _, m := range metrics {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			m.Type, m.StartTime, m.EndTime, m.Value, m.Unit, m.Source, m.ManualEntry)
	}
	return tw.Flush()
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}
