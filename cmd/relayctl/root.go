package main

import (
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:           "relayctl",
	Short:         "Submit requests to a relay server and follow their responses",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	defaultServer := "http://localhost:8080"
	if v := os.Getenv("RELAY_SERVER"); v != "" {
		defaultServer = v
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "relay server base URL")

	rootCmd.AddCommand(inferCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(modelsCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
