package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fortressi/routingslip"
	"github.com/fortressi/routingslip/internal/config"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <itinerary.yaml>",
	Short: "Execute a routing slip",
	Long: `Builds a routing slip from an itinerary file and executes it. The terminal
event is printed as JSON. Interrupting the command stops the slip at the next
activity boundary and compensates what already ran.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := config.LoadItinerary(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		builder := file.Builder(a.registry)
		if tn, _ := cmd.Flags().GetString("tracking-number"); tn != "" {
			trackingNumber, err := routingslip.ParseTrackingNumber(tn)
			if err != nil {
				return err
			}
			builder.WithTrackingNumber(trackingNumber)
		}
		slip, err := builder.Build()
		if err != nil {
			return err
		}
		a.logger.Info("executing routing slip",
			"tracking_number", slip.TrackingNumber().String(),
			"activities", len(slip.Itinerary()))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		outcome, err := a.engine.Execute(ctx, slip)
		if errors.Is(err, routingslip.ErrSlipExists) {
			return fmt.Errorf("%w; use resume to continue it", err)
		}
		if perr := printOutcome(cmd, outcome); perr != nil {
			return perr
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("tracking-number", "", "Tracking number of the new slip (generated if empty)")
}
