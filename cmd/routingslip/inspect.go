package main

import (
	"encoding/json"
	"fmt"

	"github.com/fortressi/routingslip"
	"github.com/fortressi/routingslip/slipgraph"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <tracking-number>",
	Short: "Inspect a persisted routing slip",
	Long: `Prints the state of a persisted slip. The default format is the execution
log; "json" prints the saved state and "dot" a Graphviz graph of the path the
slip took, including compensation.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		trackingNumber, err := routingslip.ParseTrackingNumber(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		state, err := a.store.Load(cmd.Context(), trackingNumber)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "log":
			fmt.Fprintf(out, "status: %s\nexecution: %s\n", state.Status, state.ExecutionID)
			if state.Fault != nil {
				fmt.Fprintf(out, "fault: %s (%s): %s\n", state.Fault.Activity.Name, state.Fault.Kind, state.Fault.Reason)
			}
			fmt.Fprint(out, routingslip.FormatLog(state.TrackingNumber, state.Log))
		case "json":
			data, err := json.MarshalIndent(state, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
		case "dot":
			data, err := slipgraph.Marshal(*state)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
		default:
			return fmt.Errorf("unknown format %q (want log, json or dot)", format)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringP("format", "f", "log", "Output format: log, json or dot")
}
