package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fulmenhq/gofulmen/crucible"

	"github.com/apilens/apilens/internal/config"
	"github.com/apilens/apilens/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display comprehensive environment, configuration, and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		version := crucible.GetVersion()

		observability.CLILogger.Info("=== APILens Environment Information ===")
		observability.CLILogger.Info("")

		// Application Info
		identity := GetAppIdentity()
		observability.CLILogger.Info("Application:")
		observability.CLILogger.Info("  Name:       " + identity.BinaryName)
		observability.CLILogger.Info("  Version:    " + versionInfo.Version)
		observability.CLILogger.Info("  Commit:     " + versionInfo.Commit)
		observability.CLILogger.Info("  Built:      " + versionInfo.BuildDate)
		observability.CLILogger.Info("")

		// SSOT Info
		observability.CLILogger.Info("SSOT:")
		observability.CLILogger.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		observability.CLILogger.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		observability.CLILogger.Info("")

		// Runtime Info
		observability.CLILogger.Info("Runtime:")
		observability.CLILogger.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		observability.CLILogger.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		observability.CLILogger.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		observability.CLILogger.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		observability.CLILogger.Info("")

		cfg, err := config.Load()
		if err != nil {
			observability.CLILogger.Warn("Config load failed", zap.Error(err))
			return
		}

		// Configuration
		observability.CLILogger.Info("Configuration:")
		observability.CLILogger.Info("  Server Host:    "+cfg.Server.Host, zap.String("host", cfg.Server.Host))
		observability.CLILogger.Info(fmt.Sprintf("  Server Port:    %d", cfg.Server.Port), zap.Int("port", cfg.Server.Port))
		observability.CLILogger.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		observability.CLILogger.Info("  Log Profile:    "+cfg.Logging.Profile, zap.String("log_profile", cfg.Logging.Profile))
		observability.CLILogger.Info("  Config File:    "+config.DefaultConfigPath(), zap.String("config_file", config.DefaultConfigPath()))
		observability.CLILogger.Info("")

		// Upstream API
		observability.CLILogger.Info("Upstream API:")
		observability.CLILogger.Info("  Base URL:       "+orUnset(cfg.API.BaseURL), zap.String("base_url", cfg.API.BaseURL))
		observability.CLILogger.Info("  Timeout:        " + cfg.API.Timeout.String())
		observability.CLILogger.Info("  Token URL:      " + orUnset(cfg.Auth.TokenURL))
		if strings.TrimSpace(cfg.Auth.Password) != "" {
			observability.CLILogger.Info("  Credentials:    (set)")
		} else {
			observability.CLILogger.Info("  Credentials:    (not set)")
		}
		observability.CLILogger.Info("")

		// Quota
		observability.CLILogger.Info("Quota:")
		observability.CLILogger.Info(fmt.Sprintf("  Minute Limit:   %d", cfg.Quota.MinuteLimit), zap.Int("minute_limit", cfg.Quota.MinuteLimit))
		observability.CLILogger.Info(fmt.Sprintf("  Day Limit:      %d", cfg.Quota.DayLimit), zap.Int("day_limit", cfg.Quota.DayLimit))
		observability.CLILogger.Info(fmt.Sprintf("  Max Concurrent: %d", cfg.Quota.MaxConcurrent), zap.Int("max_concurrent", cfg.Quota.MaxConcurrent))
		observability.CLILogger.Info("  Reset Zone:     " + orUnset(cfg.Quota.ResetZone))
		observability.CLILogger.Info("")

		observability.CLILogger.Info("=== End Environment Information ===")
	},
}

func orUnset(value string) string {
	if strings.TrimSpace(value) == "" {
		return "(unset)"
	}
	return value
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
