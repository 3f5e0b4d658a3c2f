package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fanchip/internal/fanchip"
	"fanchip/internal/replay"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
}

func TestSummarizeTrace(t *testing.T) {
	us := time.Microsecond
	recs := []replay.Record{
		{Start: true},
		{At: 0, Signal: replay.SignalPWM, Level: fanchip.High},
		{At: 250 * us, Signal: replay.SignalPWM, Level: fanchip.Low},
		{At: 1000 * us, Signal: replay.SignalPWM, Level: fanchip.High},
		{At: 1250 * us, Signal: replay.SignalPWM, Level: fanchip.Low},
		{At: 2000 * us, Signal: replay.SignalPWM, Level: fanchip.High},
		{At: 2100 * us, Signal: replay.SignalTacho, Level: fanchip.Low},
		{At: 2200 * us, Signal: "FAN2", Level: fanchip.Low},
		{Start: true},
		{At: 5 * time.Millisecond, Signal: replay.SignalPWM, Level: fanchip.High},
	}

	s := summarizeTrace(recs)
	if s.Segments != 2 {
		t.Fatalf("segments=%d want 2", s.Segments)
	}
	if s.PWMEdges != 6 || s.TachoEdges != 1 || s.Other != 1 {
		t.Fatalf("summary=%+v", s)
	}
	if s.Cycles != 2 || s.MeanPeriod != time.Millisecond || s.MeanDuty != 0.25 {
		t.Fatalf("cycles=%d period=%s duty=%v", s.Cycles, s.MeanPeriod, s.MeanDuty)
	}
	if s.MaxDuration != 5*time.Millisecond {
		t.Fatalf("maxDuration=%s want 5ms", s.MaxDuration)
	}
}

func TestSummarizeTrace_NoStartIsOneSegment(t *testing.T) {
	s := summarizeTrace([]replay.Record{{At: 10, Signal: replay.SignalTacho, Level: fanchip.High}})
	if s.Segments != 1 || s.Cycles != 0 {
		t.Fatalf("summary=%+v", s)
	}
}

func TestPrintTraceSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.trace")
	writeFile(t, path, "START\n0,PWM,1\n500000,PWM,0\n1000000,PWM,1\n")

	var out bytes.Buffer
	if err := printTraceSummary(&out, path); err != nil {
		t.Fatalf("printTraceSummary() error: %v", err)
	}
	for _, want := range []string{"segments: 1\n", "pwm_edges: 3\n", "pwm_mean_period: 1ms\n", "pwm_mean_duty: 0.5000\n"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}

	if err := printTraceSummary(&out, "  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
