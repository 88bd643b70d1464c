package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sessionkeeper",
	Short: "Session keeper - OIDC session BFF",
	Long: `sessionkeeper holds OpenID Connect sessions on the server side and keeps
them alive while the user is active.

Configuration is read from config.yaml. Environment variables override it:
the key provider.client_secret is read from PROVIDER_CLIENT_SECRET.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context(), cfgFile)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sessionkeeper %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file")
	rootCmd.AddCommand(serveCmd, versionCmd)
}
