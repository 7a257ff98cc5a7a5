package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Zyko0/go-sdl3/bin/binsdl"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"openpmad/engine"
	"openpmad/stimuli"
)

var (
	headless     bool
	protocolName string
	outputDir    string
	outputFormat string
	seed         int64
	simulate     bool
	flagFile     string
	useDevice    bool
	capturePath  string
	maskMargin   int
	maskSigma    float64
	maxFrames    int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Present a protocol and save its metadata",
	Long: `Opens the stimulus window (or an offscreen renderer with --headless),
presents the configured protocol and writes the event metadata.

Escape or closing the window aborts; metadata collected so far is kept.
With --headless, --frames stops the run after that many frames the same way.`,
	Args: cobra.NoArgs,
	RunE: runSession,
}

func init() {
	f := runCmd.Flags()
	f.BoolVar(&headless, "headless", false, "Render offscreen with ideal frame timing")
	f.StringVarP(&protocolName, "protocol", "p", "", fmt.Sprintf("Protocol to present %v", stimuli.Names()))
	f.StringVarP(&outputDir, "output", "o", "", "Output directory")
	f.StringVar(&outputFormat, "format", "", "Metadata format (text, sqlite)")
	f.Int64Var(&seed, "seed", 0, "Random seed")
	f.BoolVar(&simulate, "simulate", false, "Drive the probe flag from a simulated tracker")
	f.StringVar(&flagFile, "flag-file", "", "File written by the tracking process")
	f.BoolVar(&useDevice, "device", false, "Discover the microcontroller and mirror the patch on line 1")
	f.StringVar(&capturePath, "capture", "", "With --headless, save the last frame as PNG")
	f.IntVar(&maskMargin, "mask-margin", 0, "Border of the alpha mask applied to --capture (pixels)")
	f.Float64Var(&maskSigma, "mask-sigma", 8, "Feathering of the alpha mask (pixels)")
	f.IntVar(&maxFrames, "frames", 0, "With --headless, stop after this many frames")
	rootCmd.AddCommand(runCmd)
}

// applyRunFlags overrides config values with the flags given on the
// command line.
func applyRunFlags(cmd *cobra.Command, c *engine.Config) {
	f := cmd.Flags()
	if f.Changed("protocol") {
		c.Protocol.Name = protocolName
		c.Protocol.Params = nil
	}
	if f.Changed("output") {
		c.Output.Dir = outputDir
	}
	if f.Changed("format") {
		c.Output.Format = outputFormat
	}
	if f.Changed("seed") {
		c.Seed = seed
	}
	if f.Changed("simulate") {
		c.Probe.Simulate = simulate
	}
	if f.Changed("flag-file") {
		c.Probe.FlagFile = flagFile
	}
	if f.Changed("device") {
		c.Device.Enabled = useDevice
	}
}

func runSession(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	var (
		renderer  engine.Renderer
		offscreen *engine.Headless
	)
	if headless {
		var opts []engine.HeadlessOption
		if capturePath != "" {
			opts = append(opts, engine.WithCapture(cfg.Display.Width, cfg.Display.Height))
		}
		if maxFrames > 0 {
			opts = append(opts, engine.WithAbortAt(maxFrames))
		}
		offscreen = engine.NewHeadless(cfg.Display.FPS, opts...)
		renderer = offscreen
	} else {
		defer binsdl.Load().Unload()
		r, err := engine.OpenSDL(cfg.Display, logger)
		if err != nil {
			return err
		}
		renderer = r
	}

	session, err := engine.NewSession(cfg, renderer, logger)
	if err != nil {
		renderer.Close()
		return err
	}
	defer session.Close()

	if cfg.Device.Enabled {
		if err := session.AttachDevice(nil); err != nil {
			return err
		}
	}

	proto, err := stimuli.New(cfg.Protocol.Name, cfg.Protocol.Params, stimuli.Env{
		Flag: session.Flag(),
		Rand: engine.NewRand(cfg.Seed),
		Log:  logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	res, runErr := session.Run(ctx, proto)
	if offscreen != nil && maxFrames > 0 && errors.Is(runErr, engine.ErrAborted) {
		logger.Info("Stopped at frame limit", zap.Int("frames", maxFrames))
		runErr = nil
	}

	if offscreen != nil && capturePath != "" {
		if err := saveCapture(offscreen); err != nil {
			logger.Warn("Failed to save captured frame", zap.String("path", capturePath), zap.Error(err))
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d frames (%d dropped), %d events", res.Frames, res.Dropped, res.Events)
	if res.Path != "" {
		fmt.Fprintf(cmd.OutOrStdout(), " saved to %s", res.Path)
	}
	if res.SessionID != "" {
		fmt.Fprintf(cmd.OutOrStdout(), " (session %s)", res.SessionID)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return runErr
}

func saveCapture(h *engine.Headless) error {
	var mask [][]float64
	if maskMargin > 0 {
		var err error
		mask, err = engine.AlphaMask(cfg.Display.Width, cfg.Display.Height, maskMargin, maskSigma, -1, 1)
		if err != nil {
			return err
		}
	}
	return h.SaveFrame(capturePath, mask)
}
