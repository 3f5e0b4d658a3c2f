package serial

import (
	"errors"
	"strings"
	"testing"

	"fanchip/internal/fanchip"
)

type fakePort struct {
	buf      strings.Builder
	writeErr error
	closed   bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.buf.Write(b)
}

func (p *fakePort) Close() error { p.closed = true; return nil }

func TestOpen_RequiresDevice(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOpen_DefaultsBaud(t *testing.T) {
	var got Config
	old := openPortFn
	openPortFn = func(cfg Config) (Port, error) {
		got = cfg
		return &fakePort{}, nil
	}
	t.Cleanup(func() { openPortFn = old })

	s, err := Open(Config{Device: "/dev/ttyUSB0"})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()
	if got.Baud != 115200 || s.Device() != "/dev/ttyUSB0" {
		t.Fatalf("cfg=%+v device=%q", got, s.Device())
	}
}

func TestOpen_WrapsPortError(t *testing.T) {
	want := errors.New("permission denied")
	old := openPortFn
	openPortFn = func(cfg Config) (Port, error) { return nil, want }
	t.Cleanup(func() { openPortFn = old })

	_, err := Open(Config{Device: "/dev/ttyS9"})
	if !errors.Is(err, want) {
		t.Fatalf("err=%v want %v", err, want)
	}
}

func TestSink_WriteReport(t *testing.T) {
	p := &fakePort{}
	s := newSink(p, "fake")
	r := fanchip.Report{Seq: 0, Period: 40000, DutyCycle: 0.5, RPM: 4500}
	if err := s.WriteReport(r); err != nil {
		t.Fatalf("WriteReport() error: %v", err)
	}
	want := "0: Period: 40000, Duty Cycle: 0.500000 RPM: 4500.000000\r\n"
	if got := p.buf.String(); got != want {
		t.Fatalf("wrote %q want %q", got, want)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !p.closed {
		t.Fatalf("port not closed")
	}
	if err := s.WriteReport(r); err == nil {
		t.Fatalf("expected error after close")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
}

func TestSink_WriteReportPropagatesError(t *testing.T) {
	want := errors.New("unplugged")
	s := newSink(&fakePort{writeErr: want}, "fake")
	if err := s.WriteReport(fanchip.Report{}); !errors.Is(err, want) {
		t.Fatalf("err=%v want %v", err, want)
	}
}
