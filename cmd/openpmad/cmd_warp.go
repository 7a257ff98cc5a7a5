package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"openpmad/engine"
)

var (
	warpDevice string
	warpDate   string
)

var warpCmd = &cobra.Command{
	Use:   "warp [table]",
	Short: "Fit an affine map to a warp lookup table",
	Long: `Loads a warp lookup table, either the file given or the one under the
configured table directory whose name contains the device and the date,
and reports the least-squares affine fit and its residual.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			table *engine.WarpTable
			path  string
			err   error
		)
		if len(args) == 1 {
			path = args[0]
			table, err = engine.LoadWarpTable(path)
		} else {
			device, date := cfg.Warp.Device, cfg.Warp.Date
			if cmd.Flags().Changed("device") {
				device = warpDevice
			}
			if cmd.Flags().Changed("date") {
				date = warpDate
			}
			table, path, err = engine.FindWarpTable(cfg.Warp.Dir, device, date)
		}
		if err != nil {
			return err
		}
		fit, err := table.FitAffine()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (%s, %s): %d control points\n", path, table.Device, table.Date, len(table.Src))
		for _, row := range fit.Coef {
			fmt.Fprintf(out, "  %10.4f %10.4f %10.4f\n", row[0], row[1], row[2])
		}
		fmt.Fprintf(out, "RMS residual: %.3f px\n", table.Residual(fit))
		return nil
	},
}

func init() {
	warpCmd.Flags().StringVar(&warpDevice, "device", "", "Projector name in the table file name")
	warpCmd.Flags().StringVar(&warpDate, "date", "", "Calibration date in the table file name")
	rootCmd.AddCommand(warpCmd)
}
