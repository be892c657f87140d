package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironvpn/internal/config"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath string
	region     string
	dataDirArg string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ironvpn",
	Short: "IronVPN manages the certificate authority of an AWS Client VPN",
	Long: `Certificate management for AWS Client VPN: a private CA, client and server
certificates, revocation, CRL distribution and gateway enforcement.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		optional := !cmd.Flags().Changed("config")
		loaded, err := config.LoadWithEnv(configPath, optional)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("region") {
			loaded.Region = region
		}
		if cmd.Flags().Changed("data-dir") {
			loaded.DataDir = dataDirArg
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid configuration after flag overrides: %w", err)
		}
		cfg = loaded
		slog.SetDefault(newLogger(cfg.Logging))
		return nil
	},
}

// Execute runs the root command and exits with the code of the error kind.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "ironvpn.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&region, "region", "", "AWS region (overrides configuration)")
	rootCmd.PersistentFlags().StringVar(&dataDirArg, "data-dir", "", "Directory for key material and the ledger (overrides configuration)")
	rootCmd.Version = Version
}

func newLogger(c config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
