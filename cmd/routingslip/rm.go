package main

import (
	"fmt"

	"github.com/fortressi/routingslip"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm <tracking-number>...",
	Short: "Remove one or more persisted routing slips",
	Long:  `Removes saved slips. Slips that are still running or compensating are kept unless --force is given.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		force, _ := cmd.Flags().GetBool("force")
		ctx := cmd.Context()
		var errs *multierror.Error
		for _, arg := range args {
			trackingNumber, err := routingslip.ParseTrackingNumber(arg)
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			state, err := a.store.Load(ctx, trackingNumber)
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			if !state.Status.Terminal() && !force {
				errs = multierror.Append(errs, fmt.Errorf("routing slip %s is %s, use --force to remove it", trackingNumber, state.Status))
				continue
			}
			if err := a.store.Delete(ctx, trackingNumber); err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed routing slip %s\n", trackingNumber)
		}
		return errs.ErrorOrNil()
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
	rmCmd.Flags().Bool("force", false, "Remove slips that have not finished")
}
