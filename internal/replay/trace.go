package replay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"fanchip/internal/fanchip"
	"fanchip/internal/host"
)

// Trace format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START" resets the origin (next record time is relative to 0 again).
// - Data lines are: <t_ns>,<signal>,<level>
//   where t_ns is nanoseconds since START, signal is a pin name (PWM, TACHO)
//   and level is 0 or 1.
//
// Captures from a logic analyzer convert to this with a one-line awk script,
// and recordings made by the simulator replay unchanged.

const (
	SignalPWM   = "PWM"
	SignalTacho = "TACHO"
)

type Record struct {
	At     time.Duration
	Signal string
	Level  fanchip.Level
	// Start marks a START line; the other fields are zero.
	Start bool
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{Start: true})
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid trace line (want t_ns,signal,level): %q", line)
		}
		tsStr := strings.TrimSpace(parts[0])
		sig := strings.ToUpper(strings.TrimSpace(parts[1]))
		lvStr := strings.TrimSpace(parts[2])
		if tsStr == "" || sig == "" || lvStr == "" {
			return nil, fmt.Errorf("invalid trace line (empty field): %q", line)
		}

		tsNs, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid trace timestamp %q: %w", tsStr, err)
		}
		if tsNs < 0 {
			return nil, fmt.Errorf("invalid trace timestamp (negative): %d", tsNs)
		}

		var lv fanchip.Level
		switch lvStr {
		case "0":
			lv = fanchip.Low
		case "1":
			lv = fanchip.High
		default:
			return nil, fmt.Errorf("invalid trace level %q", lvStr)
		}

		recs = append(recs, Record{At: time.Duration(tsNs), Signal: sig, Level: lv})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}

	return recs, nil
}

// ReadFile reads a whole trace file.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewReader(f).ReadAll()
}

// Writer records edges against the simulated clock. Times are written
// relative to the origin passed to CreateWriter.
type Writer struct {
	f      io.WriteCloser
	w      *bufio.Writer
	origin uint64
	closed bool
}

func CreateWriter(path string, origin uint64) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return newWriter(f, origin)
}

func newWriter(f io.WriteCloser, origin uint64) (*Writer, error) {
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, origin: origin}, nil
}

func (ww *Writer) WriteEdge(at uint64, signal string, level fanchip.Level) error {
	if ww.closed {
		return errors.New("trace writer is closed")
	}
	if !level.Valid() {
		return fmt.Errorf("invalid level %d", uint8(level))
	}
	var d uint64
	if at > ww.origin {
		d = at - ww.origin
	}
	_, err := fmt.Fprintf(ww.w, "%d,%s,%d\n", d, signal, uint8(level))
	return err
}

func (ww *Writer) Flush() error {
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

// Feed replays the PWM records into dev on its simulated clock, starting at
// the device's current time. START markers move the origin to the time the
// marker is reached. Records for other signals are skipped. Timestamps must
// not decrease within a START section.
func Feed(dev *host.Device, records []Record) error {
	if dev == nil {
		return errors.New("device is nil")
	}
	origin := dev.Now()
	var last time.Duration
	for i, r := range records {
		if r.Start {
			origin = dev.Now()
			last = 0
			continue
		}
		if r.Signal != SignalPWM {
			continue
		}
		if r.At < last {
			return fmt.Errorf("trace record %d at %s precedes %s", i, r.At, last)
		}
		last = r.At
		dev.RunUntil(origin + uint64(r.At))
		dev.SetPWM(r.Level)
	}
	return nil
}
