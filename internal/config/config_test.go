package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fanchip/internal/fanchip"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, "# all defaults\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Chip.ReportInterval != 50*time.Millisecond {
		t.Fatalf("report_interval=%s want 50ms", cfg.Chip.ReportInterval)
	}
	if cfg.Chip.SignalTimeout != time.Millisecond {
		t.Fatalf("signal_timeout=%s want 1ms", cfg.Chip.SignalTimeout)
	}
	if cfg.Chip.FullScaleRPM != 6500 || cfg.Chip.BarScale != "width" {
		t.Fatalf("chip=%+v", cfg.Chip)
	}
	if cfg.Framebuffer.Width != 32 || cfg.Framebuffer.Height != 32 {
		t.Fatalf("framebuffer=%+v", cfg.Framebuffer)
	}
	if cfg.Mode != ModeSim || cfg.Sim.PWMHz != 25000 || cfg.Sim.Step != 10*time.Millisecond {
		t.Fatalf("mode=%q sim=%+v", cfg.Mode, cfg.Sim)
	}
	if !cfg.Report.LogEnabled() {
		t.Fatalf("expected report logging on by default")
	}
	if cfg.Web.Listen != "" {
		t.Fatalf("web.listen=%q want empty", cfg.Web.Listen)
	}
}

func TestLoad_FullDocument(t *testing.T) {
	path := writeTempConfig(t, `
chip:
  report_interval: 100ms
  signal_timeout: 2ms
  full_scale_rpm: 7000
  bar_scale: height
  brake: 0.25
framebuffer:
  width: 64
  height: 16
mode: GPIO
gpio:
  chip: /dev/gpiochip0
  pwm_line: GPIO18
  tacho_line: GPIO23
report:
  log: false
  udp_dest: 127.0.0.1:4100
  serial_device: /dev/ttyUSB0
web:
  listen: ":8080"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Mode != ModeGPIO || cfg.GPIO.PWMLine != "GPIO18" || cfg.GPIO.TachoLine != "GPIO23" {
		t.Fatalf("mode=%q gpio=%+v", cfg.Mode, cfg.GPIO)
	}
	if cfg.Report.LogEnabled() {
		t.Fatalf("expected report logging disabled")
	}
	if cfg.Report.SerialBaud != 115200 {
		t.Fatalf("serial_baud=%d want 115200", cfg.Report.SerialBaud)
	}
	p := cfg.ChipParams()
	want := fanchip.Config{SignalTimeout: 2 * time.Millisecond, FullScaleRPM: 7000, BarScale: fanchip.ScaleHeight}
	if p != want {
		t.Fatalf("chip params=%+v want %+v", p, want)
	}
	if cfg.Chip.Brake != 0.25 || cfg.Framebuffer.Width != 64 {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"ReportInterval", "chip:\n  report_interval: -1s\n", "chip.report_interval must be > 0"},
		{"SignalTimeout", "chip:\n  signal_timeout: -1ms\n", "chip.signal_timeout must be > 0"},
		{"FullScale", "chip:\n  full_scale_rpm: -5\n", "chip.full_scale_rpm must be > 0"},
		{"BarScale", "chip:\n  bar_scale: diagonal\n", "chip.bar_scale must be 'width' or 'height'"},
		{"Brake", "chip:\n  brake: 1.5\n", "chip.brake must be in [0, 1]"},
		{"NegativeSize", "framebuffer:\n  width: -1\n", "framebuffer.width and framebuffer.height must be > 0"},
		{"HugeSize", "framebuffer:\n  height: 5000\n", "framebuffer.width and framebuffer.height must be <= 4096"},
		{"Mode", "mode: bluetooth\n", "mode must be 'sim' or 'gpio'"},
		{"PWMHz", "sim:\n  pwm_hz: -1\n", "sim.pwm_hz must be > 0"},
		{"Duty", "sim:\n  duty: 2\n", "sim.duty must be in [0, 1]"},
		{"Speed", "sim:\n  speed: -1\n", "sim.speed must be >= 0"},
		{"Duration", "sim:\n  duration: -1s\n", "sim.duration must be >= 0"},
		{"ScenarioAndReplay", "sim:\n  scenario: a.yaml\n  replay: b.trace\n", "sim.scenario and sim.replay cannot both be set"},
		{"LoopWithoutScenario", "sim:\n  loop: true\n", "sim.loop requires sim.scenario"},
		{"SameLines", "mode: gpio\ngpio:\n  pwm_line: GPIO5\n  tacho_line: GPIO5\n", "gpio.pwm_line and gpio.tacho_line must differ"},
		{"TraceInGPIO", "mode: gpio\nreport:\n  trace_path: x.trace\n", "report.trace_path is only supported when mode is 'sim'"},
		{"SerialBaud", "report:\n  serial_device: /dev/ttyS0\n  serial_baud: -9600\n", "report.serial_baud must be > 0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.body))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_RejectsUnknownField(t *testing.T) {
	path := writeTempConfig(t, "chip:\n  rpm_max: 9000\n")
	_, err := Load(path)
	if err == nil || !strings.HasPrefix(err.Error(), "config contains unknown fields:") || !strings.Contains(err.Error(), "field rpm_max not found") {
		t.Fatalf("err=%v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}
