// Package cmd wires the command line to the spectrogram pipeline.
package cmd

import (
	"context"
	"fmt"
	"time"

	"spectro/internal/audio"
	"spectro/internal/config"
	"spectro/internal/tui"
	"spectro/pkg/build"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// runFlags are command-line only settings that have no config file key.
type runFlags struct {
	configPath string
	verbose    bool
	headless   bool
	duration   time.Duration
	export     bool
	pick       bool
}

// NewRootCommand builds the CLI. The root command runs the pipeline.
func NewRootCommand() *cobra.Command {
	buildInfo := build.Get()
	flags := &runFlags{}
	overrides := config.Default()

	rootCmd := &cobra.Command{
		Use:           buildInfo.AppName(),
		Short:         build.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags(), flags, overrides)
			if err != nil {
				return err
			}
			if flags.pick {
				sel, err := tui.PickDevice()
				if err != nil {
					return err
				}
				if sel == nil {
					return nil
				}
				cfg.Audio.Source = fmt.Sprintf("device:%d", sel.DeviceID)
				cfg.Audio.SampleRate = sel.SampleRate
			}
			return run(cmd.Context(), cmd, cfg, flags)
		},
	}

	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := audio.Initialize(); err != nil {
				return err
			}
			defer audio.Terminate()
			return audio.ListDevices(cmd.OutOrStdout())
		},
	}
	rootCmd.AddCommand(listCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildInfo.String())
		},
	}
	rootCmd.AddCommand(versionCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Path to a YAML config file (default ./config.yaml if present)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Show verbose output")

	f := rootCmd.Flags()

	// Audio source
	f.StringVarP(&overrides.Audio.Source, "input", "i", "",
		"Audio source: WAV file path, 'tone:<hz>' or 'device:<id>' (default: input device)")
	f.IntVarP(&overrides.Audio.InputDevice, "device", "d", config.DefaultDeviceID,
		"Specify input device ID. Use 'list' command to see available devices.")
	f.IntVarP(&overrides.Audio.InputChannels, "channels", "c", config.DefaultChannels,
		"Number of channels to capture from the device")
	f.Float64VarP(&overrides.Audio.SampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz); files keep their own")
	f.IntVarP(&overrides.Audio.FramesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of frames per buffer (affects latency)")
	f.BoolVarP(&overrides.Audio.LowLatency, "low-latency", "l", false,
		"Use low latency mode for real-time processing")
	f.BoolVar(&flags.pick, "pick", false, "Choose the input device and sample rate interactively")

	// Pipeline
	f.Float64VarP(&overrides.Pipeline.RepetitionRate, "rate", "r", config.DefaultRepetitionRate,
		"Spectrum columns per second")
	f.IntVarP(&overrides.Pipeline.WindowLength, "window", "w", config.DefaultWindowLength,
		"Frame length in samples")
	f.Float64VarP(&overrides.Pipeline.Alpha, "alpha", "a", config.DefaultAlpha,
		"Tukey taper ratio (0 = rectangular, 1 = Hann)")
	f.DurationVar(&overrides.Pipeline.Retention, "retention", config.DefaultRetention,
		"History kept for raw audio and spectrum columns")
	f.IntVar(&overrides.Pipeline.MaxColumns, "max-columns", 0,
		"Optional cap on retained columns (0 = age only)")
	f.StringVar(&overrides.Pipeline.Scale, "scale", config.DefaultScale, "Magnitude scale: db or linear")
	f.IntVar(&overrides.Pipeline.Channel, "channel", config.DefaultChannel,
		"Channel to analyse, 1-based (0 averages all channels)")

	// Output
	f.StringVarP(&overrides.Recording.OutputDir, "output", "o", config.DefaultOutputDir,
		"Directory for exported WAV and CSV files")
	f.StringVar(&overrides.Transport.WebSocketAddress, "ws", "",
		"Serve columns over a websocket on this address, e.g. :8080")
	f.StringVar(&overrides.Transport.UDPTargetAddress, "udp", "",
		"Send columns as UDP packets to this address, e.g. 127.0.0.1:9090")
	f.BoolVar(&overrides.Metrics.Enabled, "metrics", false,
		"Expose Prometheus metrics on the websocket server")

	// Run mode
	f.BoolVar(&flags.headless, "headless", false, "Run without the terminal monitor")
	f.DurationVar(&flags.duration, "duration", 0, "Stop after this long (0 = until interrupted or the source ends)")
	f.BoolVar(&flags.export, "export", false, "Export the retained history when the run ends")

	return rootCmd
}

// loadConfig layers defaults, the config file, ENV_* variables and finally
// the flags the user actually set.
func loadConfig(fs *pflag.FlagSet, flags *runFlags, overrides *config.Config) (*config.Config, error) {
	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return nil, err
	}

	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("input", func() { cfg.Audio.Source = overrides.Audio.Source })
	set("device", func() {
		cfg.Audio.InputDevice = overrides.Audio.InputDevice
		if !fs.Changed("input") {
			cfg.Audio.Source = ""
		}
	})
	set("channels", func() { cfg.Audio.InputChannels = overrides.Audio.InputChannels })
	set("sample-rate", func() { cfg.Audio.SampleRate = overrides.Audio.SampleRate })
	set("frames-per-buffer", func() { cfg.Audio.FramesPerBuffer = overrides.Audio.FramesPerBuffer })
	set("low-latency", func() { cfg.Audio.LowLatency = overrides.Audio.LowLatency })

	set("rate", func() { cfg.Pipeline.RepetitionRate = overrides.Pipeline.RepetitionRate })
	set("window", func() { cfg.Pipeline.WindowLength = overrides.Pipeline.WindowLength })
	set("alpha", func() { cfg.Pipeline.Alpha = overrides.Pipeline.Alpha })
	set("retention", func() { cfg.Pipeline.Retention = overrides.Pipeline.Retention })
	set("max-columns", func() { cfg.Pipeline.MaxColumns = overrides.Pipeline.MaxColumns })
	set("scale", func() { cfg.Pipeline.Scale = overrides.Pipeline.Scale })
	set("channel", func() { cfg.Pipeline.Channel = overrides.Pipeline.Channel })

	set("output", func() { cfg.Recording.OutputDir = overrides.Recording.OutputDir })
	set("ws", func() {
		cfg.Transport.WebSocketEnabled = true
		cfg.Transport.WebSocketAddress = overrides.Transport.WebSocketAddress
	})
	set("udp", func() {
		cfg.Transport.UDPEnabled = true
		cfg.Transport.UDPTargetAddress = overrides.Transport.UDPTargetAddress
	})
	set("metrics", func() { cfg.Metrics.Enabled = overrides.Metrics.Enabled })

	if flags.verbose {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Execute runs the CLI with ctx, which is cancelled on interrupt by main.
func Execute(ctx context.Context, args []string) error {
	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}
