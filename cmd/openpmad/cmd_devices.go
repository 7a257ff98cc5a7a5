package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"openpmad/engine"
)

var (
	discover   bool
	pulseLine  string
	pulseWidth time.Duration
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List serial ports and find the microcontroller",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := engine.ListSerialPorts()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(ports) == 0 {
			fmt.Fprintln(out, "No serial ports found")
		}
		for _, p := range ports {
			fmt.Fprintln(out, p)
		}
		if !discover && pulseLine == "" {
			return nil
		}
		m, err := engine.Discover(cfg.Device, nil, logger)
		if err != nil {
			return err
		}
		defer m.Close()
		fmt.Fprintf(out, "Microcontroller on %s\n", m.Name())
		if pulseLine == "" {
			return nil
		}
		if err := m.Pulse(pulseLine, pulseWidth); err != nil {
			return err
		}
		fmt.Fprintf(out, "Pulsed line %s for %s\n", pulseLine, pulseWidth)
		return nil
	},
}

func init() {
	f := devicesCmd.Flags()
	f.BoolVar(&discover, "discover", false, "Run the handshake on each candidate port")
	f.StringVar(&pulseLine, "pulse", "", "After discovery, pulse this TTL line (1-8)")
	f.DurationVar(&pulseWidth, "width", 20*time.Millisecond, "Width of the --pulse")
	rootCmd.AddCommand(devicesCmd)
}
