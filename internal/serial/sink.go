// Package serial writes chip reports to a serial console, one text line per
// report.
package serial

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"

	"fanchip/internal/fanchip"
)

// Port is the subset of a serial port the sink needs.
type Port interface {
	io.Writer
	io.Closer
}

type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string
	Baud   int

	ReadTimeout time.Duration
}

var openPortFn = func(cfg Config) (Port, error) {
	return serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
}

// Sink formats reports onto a serial port.
type Sink struct {
	mu   sync.Mutex
	port Port
	w    *bufio.Writer
	dev  string
}

func Open(cfg Config) (*Sink, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("serial: device is required")
	}
	if cfg.Baud <= 0 {
		cfg.Baud = 115200
	}
	p, err := openPortFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}
	return newSink(p, cfg.Device), nil
}

func newSink(p Port, dev string) *Sink {
	return &Sink{port: p, w: bufio.NewWriter(p), dev: dev}
}

func (s *Sink) Device() string { return s.dev }

// WriteReport writes r using the chip's report line format, CRLF-terminated
// for terminal emulators.
func (s *Sink) WriteReport(r fanchip.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return fmt.Errorf("serial: sink is closed")
	}
	if _, err := s.w.WriteString(r.String() + "\r\n"); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.w.Flush()
	if cerr := s.port.Close(); err == nil {
		err = cerr
	}
	s.port = nil
	return err
}
