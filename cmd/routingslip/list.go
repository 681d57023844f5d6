package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted routing slips",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		slips, err := a.store.List(ctx)
		if err != nil {
			return err
		}
		if len(slips) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No routing slips found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TRACKING NUMBER\tSTATUS\tCREATED\tDONE\tREMAINING")
		for _, trackingNumber := range slips {
			state, err := a.store.Load(ctx, trackingNumber)
			if err != nil {
				fmt.Fprintf(w, "%s\terror: %v\t\t\t\n", trackingNumber, err)
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
				trackingNumber,
				state.Status,
				state.CreatedAt.Format(time.RFC822),
				len(state.Log),
				len(state.Itinerary))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
