// Package main implements the fleetctl CLI for manual operations against a fleetd server.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/fleetd/internal/client"
)

var (
	// serverURL is the base URL for the fleetd HTTP server
	serverURL string
	// timeout bounds each request
	timeout time.Duration
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "CLI for fleetd HTTP server operations",
	Long: `fleetctl is a command-line interface for interacting with the fleetd HTTP server.
It sends chat messages, inspects threads and alerts, and triggers fleet checks.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8000", "fleetd server URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", client.DefaultTimeout, "request timeout")
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(threadCmd)
	rootCmd.AddCommand(alertsCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(healthCmd)
}

func newClient() (*client.Client, error) {
	c, err := client.New(serverURL, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return c, nil
}
