package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fortressi/routingslip"
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <tracking-number>",
	Short: "Resume a persisted routing slip",
	Long: `Continues a slip from its last persisted step: forward if it was running,
or the remaining compensation if it was compensating. A terminal slip is
reported as it was recorded.

With --retry-compensation, a slip whose compensation failed retries the failed
compensating action and continues unwinding from there.`,
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

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var outcome routingslip.Outcome
		if retry, _ := cmd.Flags().GetBool("retry-compensation"); retry {
			slip, lerr := a.engine.Load(ctx, trackingNumber)
			if lerr != nil {
				return lerr
			}
			outcome, err = a.engine.RetryCompensation(ctx, slip)
		} else {
			outcome, err = a.engine.Resume(ctx, trackingNumber)
		}
		if perr := printOutcome(cmd, outcome); perr != nil {
			return perr
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().Bool("retry-compensation", false, "Retry the failed compensation of the slip")
}
