// Package config holds the run configuration for armctl: defaults,
// environment overrides and validation.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/teslashibe/go-armctl/pkg/angles"
	"github.com/teslashibe/go-armctl/pkg/pipeline"
	"github.com/teslashibe/go-armctl/pkg/transport"
)

// Default run configuration.
const (
	DefaultMode           = "manual"
	DefaultTransport      = "sim"
	DefaultSerialDevice   = "/dev/ttyUSB0"
	DefaultSerialBaud     = 115200
	DefaultSerialSettle   = time.Second
	DefaultReplaySpeed    = 1.0
	DefaultReplayFallback = 20 * time.Millisecond
	DefaultLogDir         = "logs"
	DefaultManualSource   = "keyboard"
	DefaultRemoteAddr     = ":8091"
	DefaultLogLevel       = "info"
)

// Manual input sources.
const (
	ManualKeyboard = "keyboard"
	ManualRemote   = "remote"
)

// RunConfig is fixed for the lifetime of one run.
type RunConfig struct {
	Mode      string // manual, vision or replay
	Transport string // sim or serial

	SerialDevice string
	SerialBaud   int
	SerialSettle time.Duration

	ReplayFile       string
	ReplayLatest     bool // Replay the newest run log in LogDir
	ReplaySpeed      float64
	ReplayFallbackDT time.Duration

	ControlHz float64
	AngleMin  float64
	AngleMax  float64
	LogDir    string

	ManualSource string // keyboard or remote
	RemoteAddr   string

	VisionCamera  int
	VisionWidth   int
	VisionHeight  int
	VisionPreview bool

	TelemetryAddr string // Empty disables the telemetry server
	LogLevel      string
}

// Default returns the stock configuration: manual keyboard control of a
// simulated arm at 50Hz.
func Default() RunConfig {
	return RunConfig{
		Mode:             DefaultMode,
		Transport:        DefaultTransport,
		SerialDevice:     DefaultSerialDevice,
		SerialBaud:       DefaultSerialBaud,
		SerialSettle:     DefaultSerialSettle,
		ReplaySpeed:      DefaultReplaySpeed,
		ReplayFallbackDT: DefaultReplayFallback,
		ControlHz:        pipeline.DefaultHz,
		AngleMin:         angles.DefaultMin,
		AngleMax:         angles.DefaultMax,
		LogDir:           DefaultLogDir,
		ManualSource:     DefaultManualSource,
		RemoteAddr:       DefaultRemoteAddr,
		VisionCamera:     0,
		VisionWidth:      640,
		VisionHeight:     480,
		VisionPreview:    true,
		LogLevel:         DefaultLogLevel,
	}
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// FromEnv returns Default with ARMCTL_* environment overrides applied.
func FromEnv() (RunConfig, error) {
	c := Default()
	err := c.ApplyEnv()
	return c, err
}

// ApplyEnv overrides fields from ARMCTL_* environment variables. Unset or
// empty variables leave the field alone; malformed numbers are errors.
func (c *RunConfig) ApplyEnv() error {
	c.Mode = envString("ARMCTL_MODE", c.Mode)
	c.Transport = envString("ARMCTL_TRANSPORT", c.Transport)
	c.SerialDevice = envString("ARMCTL_SERIAL_DEVICE", c.SerialDevice)
	c.ReplayFile = envString("ARMCTL_REPLAY_FILE", c.ReplayFile)
	c.LogDir = envString("ARMCTL_LOG_DIR", c.LogDir)
	c.ManualSource = envString("ARMCTL_MANUAL_SOURCE", c.ManualSource)
	c.RemoteAddr = envString("ARMCTL_REMOTE_ADDR", c.RemoteAddr)
	c.TelemetryAddr = envString("ARMCTL_TELEMETRY_ADDR", c.TelemetryAddr)
	c.LogLevel = envString("ARMCTL_LOG_LEVEL", c.LogLevel)

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	collect(envInt("ARMCTL_SERIAL_BAUD", &c.SerialBaud))
	collect(envDuration("ARMCTL_SERIAL_SETTLE", &c.SerialSettle))
	collect(envFloat("ARMCTL_REPLAY_SPEED", &c.ReplaySpeed))
	collect(envFloat("ARMCTL_CONTROL_HZ", &c.ControlHz))
	collect(envFloat("ARMCTL_ANGLE_MIN", &c.AngleMin))
	collect(envFloat("ARMCTL_ANGLE_MAX", &c.AngleMax))
	collect(envInt("ARMCTL_VISION_CAMERA", &c.VisionCamera))
	collect(envBool("ARMCTL_VISION_PREVIEW", &c.VisionPreview))
	return errors.Join(errs...)
}

// Validate rejects configurations that cannot start a run.
func (c RunConfig) Validate() error {
	mode, err := c.RunMode()
	if err != nil {
		return err
	}
	kind, err := c.TransportKind()
	if err != nil {
		return err
	}

	if math.IsNaN(c.ControlHz) || c.ControlHz <= 0 {
		return fmt.Errorf("control rate must be positive, got %v Hz", c.ControlHz)
	}
	if err := c.Limits().Validate(); err != nil {
		return err
	}
	if c.LogDir == "" {
		return errors.New("log directory is required")
	}

	if kind == transport.KindSerial {
		if c.SerialDevice == "" {
			return errors.New("serial transport needs a device")
		}
		if c.SerialBaud <= 0 {
			return fmt.Errorf("serial baud must be positive, got %d", c.SerialBaud)
		}
	}

	switch mode {
	case pipeline.ModeManual:
		if c.ManualSource != ManualKeyboard && c.ManualSource != ManualRemote {
			return fmt.Errorf("unknown manual source %q (want keyboard or remote)", c.ManualSource)
		}
		if c.ManualSource == ManualRemote && c.RemoteAddr == "" {
			return errors.New("remote manual source needs a listen address")
		}
	case pipeline.ModeReplay:
		if c.ReplayFile == "" && !c.ReplayLatest {
			return errors.New("replay needs a file or the latest selector")
		}
		if math.IsNaN(c.ReplaySpeed) || c.ReplaySpeed <= 0 {
			return fmt.Errorf("replay speed must be positive, got %v", c.ReplaySpeed)
		}
	case pipeline.ModeVision:
		if c.VisionWidth <= 0 || c.VisionHeight <= 0 {
			return fmt.Errorf("vision frame size must be positive, got %dx%d", c.VisionWidth, c.VisionHeight)
		}
	}
	return nil
}

// RunMode parses Mode.
func (c RunConfig) RunMode() (pipeline.Mode, error) {
	return pipeline.ParseMode(c.Mode)
}

// TransportKind parses Transport.
func (c RunConfig) TransportKind() (transport.Kind, error) {
	return transport.ParseKind(c.Transport)
}

// Limits returns the admissible joint range.
func (c RunConfig) Limits() angles.Limits {
	return angles.Limits{Min: c.AngleMin, Max: c.AngleMax}
}

// Period returns the control tick period.
func (c RunConfig) Period() time.Duration {
	return pipeline.PeriodFromHz(c.ControlHz)
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
