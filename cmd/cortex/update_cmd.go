package main

import (
	"fmt"
	"os"
	"runtime"

	cortexserver "github.com/HendryAvila/cortex/internal/server"
	"github.com/HendryAvila/cortex/internal/updater"
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update cortex to the latest version",
	Long:  `Check for and install the latest release of cortex from GitHub.`,
	Run:   runUpdate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the cortex version",
	Run:   runVersion,
}

func init() {
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(versionCmd)
}

func runUpdate(cmd *cobra.Command, args []string) {
	fmt.Fprintf(os.Stderr, "🔍 Checking for updates...\n")

	result := updater.CheckVersion(cortexserver.Version)
	if !result.UpdateAvailable {
		fmt.Fprintf(os.Stderr, "✅ Already at the latest version (v%s)\n", result.CurrentVersion)
		return
	}

	fmt.Fprintf(os.Stderr, "📦 New version available: v%s → v%s\n", result.CurrentVersion, result.LatestVersion)
	fmt.Fprintf(os.Stderr, "⬇️  Downloading...\n")

	if err := updater.SelfUpdate(cortexserver.Version); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Update failed: %v\n", err)
		fmt.Fprintf(os.Stderr, "\n   You can download manually from:\n   %s\n", result.ReleaseURL)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "✅ Updated to v%s!\n", result.LatestVersion)
	fmt.Fprintf(os.Stderr, "   Restart cortex to use the new version.\n")
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("cortex v%s\n", cortexserver.Version)
	fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go version: %s\n", runtime.Version())
}
