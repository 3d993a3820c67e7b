package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

type globalFlags struct {
	server string
	token  string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "echoesctl",
		Short: "Manage an Echoes site: install step, plugins and themes",
		Long: `echoesctl talks to the management API of a running Echoes site.
Write commands need the admin token the site was started with.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.server, "server", envOr("ECHOES_SERVER", "http://localhost:22100"), "Site URL")
	rootCmd.PersistentFlags().StringVar(&flags.token, "token", os.Getenv("ECHOES_ADMIN_TOKEN"), "Admin token for write commands")

	rootCmd.AddCommand(
		newStatusCmd(flags),
		newStepCmd(flags),
		newPluginsCmd(flags),
		newCapabilityCmd(flags),
		newThemeCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
