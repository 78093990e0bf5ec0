package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// 默认服务地址，可用 VITALSCTL_SERVER 覆盖
const defaultServer = "http://localhost:8090"

const apiPrefix = "/api/v1/vitals"

type rootOptions struct {
	server  string
	timeout time.Duration
}

func (o *rootOptions) client() *apiClient {
	return newAPIClient(o.server, o.timeout)
}

// NewRootCommand 创建 vitalsctl 命令树
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "vitalsctl",
		Short: "vitalsctl - command line client for wisefido-vitals",
		Long: `vitalsctl talks to a running wisefido-vitals service.

It reads the cached snapshot and metrics, triggers refreshes,
exports workbooks and writes manual health records.`,
		SilenceUsage: true,
	}

	server := os.Getenv("VITALSCTL_SERVER")
	if server == "" {
		server = defaultServer
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", server, "wisefido-vitals base URL")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(
		newStatusCmd(opts),
		newSnapshotCmd(opts),
		newRefreshCmd(opts),
		newMetricsCmd(opts),
		newWindowCmd(opts),
		newDailyCmd(opts),
		newLatestCmd(opts),
		newExportCmd(opts),
		newWriteCmd(opts),
	)
	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
