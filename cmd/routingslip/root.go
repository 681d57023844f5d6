package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "routingslip",
	Short: "Routingslip executes itineraries of compensable activities",
	Long: `Routingslip carries a routing slip through an itinerary of activities.
When an activity faults, every completed activity is compensated in reverse order.
Slips are persisted between steps so that an interrupted slip can be resumed.

The file store fences writers within one process only: never point two
routingslip processes at the same --state-dir. Use --store redis to share
slips between processes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("store", "", "Slip store: memory, file (one process per --state-dir) or redis")
	rootCmd.PersistentFlags().String("state-dir", "", "Directory of the file store")
	rootCmd.PersistentFlags().String("redis-addr", "", "Address of the Redis server")
	rootCmd.PersistentFlags().String("publisher", "", "Event publisher: log, redis or none")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Serve Prometheus metrics on this address while running")
}
