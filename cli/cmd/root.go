package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vidcat/vidcat-stack/common/config"
)

// Set at build time with -ldflags "-X github.com/vidcat/vidcat-stack/cli/cmd.version=...".
var version = "0.1.0"

var (
	cfgFile string
	cfg     *config.CLIConfig
)

var rootCmd = &cobra.Command{
	Use:   "vcat",
	Short: "vidcat operator CLI",
	Long: `vcat is the command-line interface for the vidcat backend.

Log in against the auth service, inspect and mint signed tokens,
check service configuration and run the authenticate service.`,
	Version:      version,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "CLI config file (default: $HOME/.vcat/config.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "profile to use (default: current profile)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format: table, json, yaml")
	rootCmd.PersistentFlags().String("service-config", "", "authenticate service config file (default: $VIDCAT_CONFIG_DIR/config.yaml)")
}

func initConfig() {
	var err error
	cfg, err = config.LoadCLI(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultCLI()
	}
}

// profileName resolves --profile, falling back to the current profile.
func profileName(cmd *cobra.Command) string {
	name, _ := cmd.Flags().GetString("profile")
	if name != "" {
		return name
	}
	if cfg.CurrentProfile != "" {
		return cfg.CurrentProfile
	}
	return "default"
}

func outputFormat(cmd *cobra.Command) string {
	format, _ := cmd.Flags().GetString("output")
	return format
}
