package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/apilens/apilens/internal/core/quota"
	"github.com/apilens/apilens/internal/output"
)

var statusServerURL string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show quota status of a running gateway",
	Long: `Query a running gateway for its admission state: remaining per-minute
and daily allowances, in-flight requests, and upcoming replenishments.

By default the gateway address is taken from server.host and server.port.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		base := strings.TrimSpace(statusServerURL)
		if base == "" {
			base = fmt.Sprintf("http://%s:%d", viper.GetString("server.host"), viper.GetInt("server.port"))
		}
		target := strings.TrimRight(base, "/") + "/api/v1/status"

		httpClient := &http.Client{Timeout: 10 * time.Second}
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("gateway unreachable at %s: %w", base, err)
		}
		defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("gateway returned status %d", resp.StatusCode)
		}

		var snapshot quota.Snapshot
		if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
			return fmt.Errorf("decode status response: %w", err)
		}

		rendered, err := output.FormatStatus(format, snapshot)
		if err != nil {
			return err
		}

		outPath, outDir, err := resolveOutputTargets(cmd)
		if err != nil {
			return err
		}
		if outDir != "" {
			outDir, err = ensureOutDir(outDir)
			if err != nil {
				return err
			}
			outPath = filepath.Join(outDir, fmt.Sprintf("status.%s", outputExtension(format)))
		}

		sink, err := openSink(outPath)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusServerURL, "server", "", "Gateway base URL (default from server.host/server.port)")
	statusCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|yaml")
	statusCmd.Flags().String("out", "", "Write output to a file (default stdout)")
	statusCmd.Flags().String("out-dir", "", "Write output to a directory")
}
