// Command reportctl inspects the crash reporting pipeline of an installed
// component and drives its log upload and manual reports.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev" // Overwritten at build time

	componentDir string
	configPath   string
	settingsPath string
	hostVersion  string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reportctl",
		Short: "Inspect and exercise component crash reporting",
		Long: `reportctl works against an installed component directory (the directory
holding .version and manifest.json). It reads the component configuration and
the crashreport settings the same way the embedded library does.`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&componentDir, "dir", "d", ".", "Component installation directory")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Component config file (default <dir>/config.json)")
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "crashreport settings file (default <dir>/crashreport.toml)")
	rootCmd.PersistentFlags().StringVar(&hostVersion, "host-version", "", "Host application version reported with events")

	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newUploadLogsCmd())
	rootCmd.AddCommand(newReportCmd())

	return rootCmd
}
