package main

import (
	"context"

	"github.com/charmbracelet/fang"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

// buildVersion is set with -ldflags "-X main.buildVersion=...".
var buildVersion = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "deskbridge",
		Short: "Bridge website form submissions to a Redmine tracker",
		Long: `deskbridge files tracker issues and sends notification mail for website
form submissions, and serves cached issue tables for embedding in site pages.`,
		Version:      buildVersion,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML config file (defaults to $DESKBRIDGE_CONFIG)")

	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newRefreshCmd(),
		newPurgeCmd(),
		newCacheCmd(),
		newSetAPIKeyCmd(),
		newTokenCmd(),
		newUninstallCmd(),
	)

	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		logrus.WithError(err).Fatal("command failed")
	}
}
