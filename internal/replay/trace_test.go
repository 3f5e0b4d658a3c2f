package replay

import (
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"fanchip/internal/fanchip"
	"fanchip/internal/host"
)

func TestReader_ParsesTrace(t *testing.T) {
	in := `
# captured with a logic analyzer
START
0,PWM,1
500000, pwm ,0
1000000,PWM,1
1200000,TACHO,1
`
	recs, err := NewReader(strings.NewReader(in)).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	want := []Record{
		{Start: true},
		{At: 0, Signal: SignalPWM, Level: fanchip.High},
		{At: 500 * time.Microsecond, Signal: SignalPWM, Level: fanchip.Low},
		{At: time.Millisecond, Signal: SignalPWM, Level: fanchip.High},
		{At: 1200 * time.Microsecond, Signal: SignalTacho, Level: fanchip.High},
	}
	if !reflect.DeepEqual(recs, want) {
		t.Fatalf("records=%+v\nwant %+v", recs, want)
	}
}

func TestReader_RejectsMalformedLines(t *testing.T) {
	cases := []struct {
		name string
		line string
		want string
	}{
		{"MissingField", "100,PWM", "invalid trace line"},
		{"EmptyField", "100,,1", "empty field"},
		{"BadTimestamp", "abc,PWM,1", "invalid trace timestamp"},
		{"Negative", "-5,PWM,1", "negative"},
		{"BadLevel", "5,PWM,2", "invalid trace level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewReader(strings.NewReader(tc.line + "\n")).ReadAll()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v want containing %q", err, tc.want)
			}
		})
	}
}

func TestWriter_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edges.trace")
	w, err := CreateWriter(path, 1000)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	if err := w.WriteEdge(1500, SignalPWM, fanchip.High); err != nil {
		t.Fatalf("WriteEdge() error: %v", err)
	}
	if err := w.WriteEdge(2000, SignalTacho, fanchip.Low); err != nil {
		t.Fatalf("WriteEdge() error: %v", err)
	}
	if err := w.WriteEdge(10, SignalPWM, fanchip.Low); err != nil {
		t.Fatalf("WriteEdge() error: %v", err)
	}
	if err := w.WriteEdge(3000, SignalPWM, fanchip.Level(7)); err == nil {
		t.Fatalf("expected error for invalid level")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.WriteEdge(4000, SignalPWM, fanchip.High); err == nil {
		t.Fatalf("expected error after close")
	}

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	want := []Record{
		{Start: true},
		{At: 500, Signal: SignalPWM, Level: fanchip.High},
		{At: 1000, Signal: SignalTacho, Level: fanchip.Low},
		{At: 0, Signal: SignalPWM, Level: fanchip.Low},
	}
	if !reflect.DeepEqual(recs, want) {
		t.Fatalf("records=%+v\nwant %+v", recs, want)
	}
}

type failingFile struct{}

func (failingFile) Write(p []byte) (int, error) { return 0, errors.New("disk full") }
func (failingFile) Close() error                { return nil }

func TestWriter_CloseReportsFlushError(t *testing.T) {
	w, err := newWriter(failingFile{}, 0)
	if err != nil {
		t.Fatalf("newWriter() error: %v", err)
	}
	if err := w.Close(); err == nil {
		t.Fatalf("expected flush error")
	}
}

func squareWave(period, high time.Duration, cycles int) []Record {
	recs := []Record{{Start: true}}
	for i := 0; i < cycles; i++ {
		at := time.Duration(i+1) * period
		recs = append(recs,
			Record{At: at, Signal: SignalPWM, Level: fanchip.High},
			Record{At: at + high, Signal: SignalPWM, Level: fanchip.Low},
			Record{At: at + high, Signal: SignalTacho, Level: fanchip.High},
		)
	}
	return recs
}

func TestFeed_DrivesDevice(t *testing.T) {
	dev := host.NewDevice(host.DeviceConfig{Width: 4, Height: 4, TachoHistory: 8}, nil)
	if err := Feed(dev, squareWave(time.Millisecond, 750*time.Microsecond, 8)); err != nil {
		t.Fatalf("Feed() error: %v", err)
	}
	st := dev.State()
	if st.Period != uint64(time.Millisecond) || st.DutyCycle != 0.75 {
		t.Fatalf("state=%+v", st)
	}
	if st.RPM != fanchip.DutyToRPM(0.75) {
		t.Fatalf("rpm=%v want %v", st.RPM, fanchip.DutyToRPM(0.75))
	}
	if dev.Now() != uint64(8*time.Millisecond+750*time.Microsecond) {
		t.Fatalf("now=%d", dev.Now())
	}
}

func TestFeed_RejectsUnorderedRecords(t *testing.T) {
	dev := host.NewDevice(host.DeviceConfig{Width: 1, Height: 1}, nil)
	recs := []Record{
		{At: 2 * time.Millisecond, Signal: SignalPWM, Level: fanchip.High},
		{At: time.Millisecond, Signal: SignalPWM, Level: fanchip.Low},
	}
	if err := Feed(dev, recs); err == nil {
		t.Fatalf("expected error")
	}
	if err := Feed(nil, nil); err == nil {
		t.Fatalf("expected error for nil device")
	}
}
