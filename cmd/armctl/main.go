// armctl drives a three-joint arm from a keyboard, a remote operator, a
// camera tracker or a recorded run, over a serial line or a simulator.
//
// Every run writes logs/run_YYYYMMDD_HHMMSS.csv; replay it with
// -mode replay -latest.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-armctl/internal/app"
	"github.com/teslashibe/go-armctl/internal/config"
	"github.com/teslashibe/go-armctl/internal/log"
	"github.com/teslashibe/go-armctl/pkg/input"
	"github.com/teslashibe/go-armctl/pkg/input/vision"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fatal(err)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fatal(err)
	}
	parseFlags(&cfg)

	log.Init(cfg.LogLevel)

	a, err := app.New(cfg, app.Options{Vision: openVision})
	if err != nil {
		fatal(err)
	}

	fmt.Fprintf(os.Stderr, "Logging to %s\n", a.LogPath())
	if t := a.Telemetry(); t != nil {
		fmt.Fprintf(os.Stderr, "Telemetry on http://%s/api/status\n", t.Addr())
	}
	if cfg.Mode == "manual" && cfg.ManualSource == config.ManualKeyboard {
		fmt.Fprintln(os.Stderr, "Keys: q/a J1  w/s J2  e/d J3  ESC quit")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Run(ctx); err != nil {
		fatal(err)
	}
}

// parseFlags overrides cfg with command line flags.
func parseFlags(cfg *config.RunConfig) {
	flag.StringVar(&cfg.Mode, "mode", cfg.Mode, "Input mode: manual, vision, replay")
	flag.StringVar(&cfg.Transport, "transport", cfg.Transport, "Transport: sim, serial")
	flag.StringVar(&cfg.SerialDevice, "port", cfg.SerialDevice, "Serial device for -transport serial")
	flag.IntVar(&cfg.SerialBaud, "baud", cfg.SerialBaud, "Serial baud rate")
	flag.DurationVar(&cfg.SerialSettle, "settle", cfg.SerialSettle, "Wait after opening the serial device")
	flag.StringVar(&cfg.ReplayFile, "file", cfg.ReplayFile, "Run log to replay")
	flag.BoolVar(&cfg.ReplayLatest, "latest", cfg.ReplayLatest, "Replay the newest run log in -log-dir")
	flag.Float64Var(&cfg.ReplaySpeed, "speed", cfg.ReplaySpeed, "Replay speed multiplier")
	flag.DurationVar(&cfg.ReplayFallbackDT, "replay-dt", cfg.ReplayFallbackDT, "Row spacing for logs without t_sec")
	flag.Float64Var(&cfg.ControlHz, "hz", cfg.ControlHz, "Control loop frequency")
	flag.Float64Var(&cfg.AngleMin, "min", cfg.AngleMin, "Lower joint limit (degrees)")
	flag.Float64Var(&cfg.AngleMax, "max", cfg.AngleMax, "Upper joint limit (degrees)")
	flag.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for run logs")
	flag.StringVar(&cfg.ManualSource, "manual", cfg.ManualSource, "Manual input: keyboard, remote")
	flag.StringVar(&cfg.RemoteAddr, "remote-addr", cfg.RemoteAddr, "Listen address for -manual remote")
	flag.IntVar(&cfg.VisionCamera, "camera", cfg.VisionCamera, "Camera index for vision mode")
	flag.IntVar(&cfg.VisionWidth, "width", cfg.VisionWidth, "Camera frame width")
	flag.IntVar(&cfg.VisionHeight, "height", cfg.VisionHeight, "Camera frame height")
	flag.BoolVar(&cfg.VisionPreview, "preview", cfg.VisionPreview, "Show the vision preview window")
	flag.StringVar(&cfg.TelemetryAddr, "telemetry", cfg.TelemetryAddr, "Telemetry listen address, e.g. :8090 (empty disables)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	flag.Parse()
}

func openVision(cfg config.RunConfig) (input.Source, error) {
	vc := vision.DefaultConfig()
	vc.Camera = cfg.VisionCamera
	vc.Width = cfg.VisionWidth
	vc.Height = cfg.VisionHeight
	vc.Preview = cfg.VisionPreview
	src, err := vision.New(vc)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
