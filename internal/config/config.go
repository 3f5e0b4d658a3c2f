package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fanchip/internal/fanchip"
)

const (
	ModeSim  = "sim"
	ModeGPIO = "gpio"
)

type Config struct {
	Chip        ChipConfig        `yaml:"chip"`
	Framebuffer FramebufferConfig `yaml:"framebuffer"`
	Mode        string            `yaml:"mode"`
	Sim         SimConfig         `yaml:"sim"`
	GPIO        GPIOConfig        `yaml:"gpio"`
	Report      ReportConfig      `yaml:"report"`
	Web         WebConfig         `yaml:"web"`
}

type ChipConfig struct {
	ReportInterval time.Duration `yaml:"report_interval"`
	SignalTimeout  time.Duration `yaml:"signal_timeout"`
	FullScaleRPM   float64       `yaml:"full_scale_rpm"`
	// BarScale is "width" (default) or "height".
	BarScale string `yaml:"bar_scale"`
	// Brake is the initial value of the "break" attribute.
	Brake float64 `yaml:"brake"`
}

type FramebufferConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type SimConfig struct {
	// Scenario is an optional stimulus script. Without one the PWM input is a
	// constant wave at PWMHz / Duty.
	Scenario string  `yaml:"scenario"`
	PWMHz    float64 `yaml:"pwm_hz"`
	Duty     float64 `yaml:"duty"`
	// Duration of simulated time to run; zero runs until interrupted.
	Duration time.Duration `yaml:"duration"`
	// Speed paces simulated time against the wall clock. Zero runs as fast
	// as possible.
	Speed float64       `yaml:"speed"`
	Step  time.Duration `yaml:"step"`
	Loop  bool          `yaml:"loop"`
	// Replay feeds a recorded edge trace instead of generating a wave.
	Replay string `yaml:"replay"`
}

type GPIOConfig struct {
	Chip      string `yaml:"chip"`
	PWMLine   string `yaml:"pwm_line"`
	TachoLine string `yaml:"tacho_line"`
}

type ReportConfig struct {
	// Log defaults to true; set false to keep reports off the log.
	Log          *bool  `yaml:"log"`
	UDPDest      string `yaml:"udp_dest"`
	SerialDevice string `yaml:"serial_device"`
	SerialBaud   int    `yaml:"serial_baud"`
	// TracePath records PWM and tacho edges (sim mode only).
	TracePath string `yaml:"trace_path"`
}

type WebConfig struct {
	// Listen is the HTTP listen address; empty disables the web server.
	Listen string `yaml:"listen"`
}

// LogEnabled reports whether reports should be written to the log.
func (r ReportConfig) LogEnabled() bool {
	return r.Log == nil || *r.Log
}

// ChipParams converts the chip section into the core's configuration.
func (c Config) ChipParams() fanchip.Config {
	scale, _ := fanchip.ParseBarScale(c.Chip.BarScale)
	return fanchip.Config{
		SignalTimeout: c.Chip.SignalTimeout,
		FullScaleRPM:  c.Chip.FullScaleRPM,
		BarScale:      scale,
	}
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes and validates a YAML document. Unknown keys are rejected.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		if strings.Contains(err.Error(), "not found in type") {
			return Config{}, fmt.Errorf("config contains unknown fields: %w", err)
		}
		return Config{}, err
	}
	if err := cfg.DefaultAndValidate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills zero values with defaults and checks ranges.
func (cfg *Config) DefaultAndValidate() error {
	if cfg.Chip.ReportInterval == 0 {
		cfg.Chip.ReportInterval = fanchip.DefaultReportInterval
	}
	if cfg.Chip.ReportInterval < 0 {
		return fmt.Errorf("chip.report_interval must be > 0")
	}
	if cfg.Chip.SignalTimeout == 0 {
		cfg.Chip.SignalTimeout = fanchip.DefaultSignalTimeout
	}
	if cfg.Chip.SignalTimeout < 0 {
		return fmt.Errorf("chip.signal_timeout must be > 0")
	}
	if cfg.Chip.FullScaleRPM == 0 {
		cfg.Chip.FullScaleRPM = fanchip.FullScaleRPM
	}
	if !(cfg.Chip.FullScaleRPM > 0) || math.IsInf(cfg.Chip.FullScaleRPM, 0) {
		return fmt.Errorf("chip.full_scale_rpm must be > 0")
	}
	if cfg.Chip.BarScale == "" {
		cfg.Chip.BarScale = fanchip.ScaleWidth.String()
	}
	if _, err := fanchip.ParseBarScale(cfg.Chip.BarScale); err != nil {
		return fmt.Errorf("chip.bar_scale must be 'width' or 'height'")
	}
	if math.IsNaN(cfg.Chip.Brake) || cfg.Chip.Brake < 0 || cfg.Chip.Brake > 1 {
		return fmt.Errorf("chip.brake must be in [0, 1]")
	}

	if cfg.Framebuffer.Width == 0 {
		cfg.Framebuffer.Width = 32
	}
	if cfg.Framebuffer.Height == 0 {
		cfg.Framebuffer.Height = 32
	}
	if cfg.Framebuffer.Width < 0 || cfg.Framebuffer.Height < 0 {
		return fmt.Errorf("framebuffer.width and framebuffer.height must be > 0")
	}
	if cfg.Framebuffer.Width > 4096 || cfg.Framebuffer.Height > 4096 {
		return fmt.Errorf("framebuffer.width and framebuffer.height must be <= 4096")
	}

	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = ModeSim
	}
	switch cfg.Mode {
	case ModeSim:
		if err := cfg.Sim.defaultAndValidate(); err != nil {
			return err
		}
	case ModeGPIO:
		if cfg.GPIO.PWMLine == "" {
			cfg.GPIO.PWMLine = "GPIO17"
		}
		if cfg.GPIO.TachoLine == "" {
			cfg.GPIO.TachoLine = "GPIO27"
		}
		if cfg.GPIO.PWMLine == cfg.GPIO.TachoLine {
			return fmt.Errorf("gpio.pwm_line and gpio.tacho_line must differ")
		}
		if cfg.Report.TracePath != "" {
			return fmt.Errorf("report.trace_path is only supported when mode is 'sim'")
		}
	default:
		return fmt.Errorf("mode must be 'sim' or 'gpio'")
	}

	if cfg.Report.SerialDevice != "" {
		if cfg.Report.SerialBaud == 0 {
			cfg.Report.SerialBaud = 115200
		}
		if cfg.Report.SerialBaud < 0 {
			return fmt.Errorf("report.serial_baud must be > 0")
		}
	}
	return nil
}

func (s *SimConfig) defaultAndValidate() error {
	if s.PWMHz == 0 {
		s.PWMHz = 25000
	}
	if !(s.PWMHz > 0) || math.IsInf(s.PWMHz, 0) {
		return fmt.Errorf("sim.pwm_hz must be > 0")
	}
	if s.PWMHz > 1e8 {
		return fmt.Errorf("sim.pwm_hz must be <= 100000000")
	}
	if math.IsNaN(s.Duty) || s.Duty < 0 || s.Duty > 1 {
		return fmt.Errorf("sim.duty must be in [0, 1]")
	}
	if s.Duration < 0 {
		return fmt.Errorf("sim.duration must be >= 0")
	}
	if math.IsNaN(s.Speed) || s.Speed < 0 {
		return fmt.Errorf("sim.speed must be >= 0")
	}
	if s.Step == 0 {
		s.Step = 10 * time.Millisecond
	}
	if s.Step < 0 {
		return fmt.Errorf("sim.step must be > 0")
	}
	if s.Scenario != "" && s.Replay != "" {
		return fmt.Errorf("sim.scenario and sim.replay cannot both be set")
	}
	if s.Loop && s.Scenario == "" {
		return fmt.Errorf("sim.loop requires sim.scenario")
	}
	return nil
}
