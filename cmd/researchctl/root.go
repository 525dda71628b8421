package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"research-gateway/internal/client"
)

const defaultGatewayURL = "http://localhost:8000"

var rootCmd = &cobra.Command{
	Use:          "researchctl",
	Short:        "researchctl talks to a research gateway",
	Long:         `researchctl starts research streams, reviews plans, and inspects the state of a running research gateway.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	url := os.Getenv("RESEARCH_GATEWAY_URL")
	if url == "" {
		url = defaultGatewayURL
	}
	rootCmd.PersistentFlags().String("url", url, "Base URL of the research gateway (env RESEARCH_GATEWAY_URL)")
}

func newClient(cmd *cobra.Command) *client.Client {
	url, _ := cmd.Flags().GetString("url")
	return client.New(url, nil)
}
