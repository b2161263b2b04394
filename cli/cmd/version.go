package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/vidcat/vidcat-stack/cli/pkg/output"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(output.Stdout, "vcat %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
