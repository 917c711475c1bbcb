// Command proxy is the process entry point: it wires the Persistent Store,
// Config Snapshot Publisher, Certificate Catalog, ACME Worker, HTTP(S) Proxy
// Engine, Stream Forwarder, Statistics Collector, and Admin JSON API into one
// running binary and serves until a shutdown signal arrives.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfigPath string
	flagDataDir    string
	flagLogLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "proxy",
		Short: "ppm is a reverse proxy and L4 forwarder with a JSON admin API",
	}
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to an optional YAML config file")
	root.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "override the data directory (sqlite db, cert material)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override the log level (debug|info|warn|error)")

	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
