package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apilens/apilens/internal/config"
	errwrap "github.com/apilens/apilens/internal/errors"
	"github.com/apilens/apilens/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Run a self-health check to verify the application can start successfully.",
	Run: func(cmd *cobra.Command, args []string) {
		observability.CLILogger.Info("Running health check...")

		// Check 1: Version info available
		if versionInfo.Version == "" {
			observability.CLILogger.Error("❌ FAIL: Version information missing")
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewInternalError("Version information missing"))
			return
		}
		observability.CLILogger.Debug("Version check passed", zap.String("version", versionInfo.Version))
		observability.CLILogger.Info("✅ Version information available")

		// Check 2: Configuration decodes
		cfg, err := config.Load()
		if err != nil {
			observability.CLILogger.Error("❌ FAIL: Configuration could not be loaded")
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Configuration load failed", err)
			return
		}
		observability.CLILogger.Info("✅ Configuration system ready")

		// Check 3: Upstream settings, when present, are coherent
		if err := cfg.Validate(); err != nil {
			observability.CLILogger.Warn("⚠️  Upstream configuration incomplete (serve and call will fail)",
				zap.Error(err))
		} else {
			observability.CLILogger.Info("✅ Upstream configuration valid")
		}

		observability.CLILogger.Info("")
		observability.CLILogger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
