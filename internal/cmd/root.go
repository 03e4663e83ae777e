// Package cmd wires the albscaler CLI: the evaluation loop (serve), the
// one-shot evaluation (run), configuration and policy management, and the
// operator status view.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "albscaler",
	Short: "QPS-based autoscaler for BytePlus ALB-fronted scaling groups",
	Long: `albscaler watches per-ALB request rates and resizes the scaling groups
behind them. Each policy pairs one load source (a CloudMonitor ALB metric
or a PromQL query) with one scaling group and carries its own target QPS,
cooldowns, and circuit breaker settings.

Policies live in a local SQLite database and are managed with
"albscaler policies apply". The loop runs with "albscaler serve", or a
single evaluation cycle with "albscaler run".`,
	SilenceUsage: true,
}

var configFile string

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./albscaler.yaml if present)")
}
