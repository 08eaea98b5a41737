package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshp123/gohome-melcloud/internal/config"
)

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "gohome",
	Short: "MELCloud Home bridge daemon",
	Long: `gohome bridges MELCloud Home air conditioners to local accessory hosts.

The daemon polls the cloud account, publishes every unit as a heater/cooler
accessory (MQTT, websocket events), and serves gRPC, health, metrics and
Grafana dashboards.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to config.yaml")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
