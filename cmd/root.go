// -- cmd/root.go --
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rdSoftInc/deadbolt/internal/config"
	"github.com/rdSoftInc/deadbolt/internal/observability"
)

var (
	cfgFile string

	// appConfig is populated by the persistent pre-run hook and consumed
	// by subcommands. Each NewRootCommand call gets a fresh instance.
	appConfig *config.Config
)

// NewRootCommand builds the base command with a clean flag and config
// state, so repeated executions never leak settings into each other.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "deadbolt",
		Short:   "Deadbolt orchestrates sandboxed security tooling across scan phases.",
		Long: `Deadbolt runs containerized reconnaissance and analysis tools in
dependency-ordered phases, enforcing target scope up front and recording
every invocation for audit. Results accumulate under a per-run output
directory and interrupted runs can be resumed without repeating work.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetViper(), cfgFile)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "deadbolt"})
				return err
			}
			appConfig = cfg

			observability.InitializeLogger(cfg.LoggerC)
			observability.GetLogger().Info("Starting deadbolt", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./deadbolt.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newWebCmd())
	rootCmd.AddCommand(newAndroidCmd())
	rootCmd.AddCommand(newIOSCmd())

	return rootCmd
}

// Execute runs the root command with the given signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}
