package web

import (
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"fanchip/internal/fanchip"
)

// Status tracks daemon-level facts the chip itself does not know: uptime,
// where reports go and how many have been published.
type Status struct {
	startUnixNano  int64
	reportsTotal   uint64
	lastReportNano int64
	mode           atomic.Value // string
	sinks          atomic.Value // []string
	lastReport     atomic.Value // fanchip.Report
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.mode.Store("")
	s.sinks.Store([]string{})
	s.lastReport.Store(fanchip.Report{})
	return s
}

func (s *Status) SetStatic(mode string, sinks []string) {
	if mode != "" {
		s.mode.Store(mode)
	}
	if sinks != nil {
		s.sinks.Store(append([]string(nil), sinks...))
	}
}

// MarkReport records a published report at wall-clock time nowUTC.
func (s *Status) MarkReport(nowUTC time.Time, r fanchip.Report) {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	atomic.StoreInt64(&s.lastReportNano, nowUTC.UnixNano())
	atomic.AddUint64(&s.reportsTotal, 1)
	s.lastReport.Store(r)
}

type StatusSnapshot struct {
	Service       string          `json:"service"`
	Version       string          `json:"version,omitempty"`
	GoVersion     string          `json:"go_version"`
	NowUTC        string          `json:"now_utc"`
	UptimeSec     int64           `json:"uptime_sec"`
	Mode          string          `json:"mode"`
	Sinks         []string        `json:"sinks"`
	ReportsTotal  uint64          `json:"reports_total"`
	LastReportUTC string          `json:"last_report_utc,omitempty"`
	LastReport    *fanchip.Report `json:"last_report,omitempty"`
	Chip          any             `json:"chip,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	lastReport := atomic.LoadInt64(&s.lastReportNano)

	snap := StatusSnapshot{
		Service:      "fanchip",
		GoVersion:    runtime.Version(),
		NowUTC:       nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:    int64(nowUTC.Sub(start).Seconds()),
		Mode:         s.mode.Load().(string),
		Sinks:        s.sinks.Load().([]string),
		ReportsTotal: atomic.LoadUint64(&s.reportsTotal),
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		snap.Version = bi.Main.Version
	}
	if lastReport != 0 {
		snap.LastReportUTC = time.Unix(0, lastReport).UTC().Format(time.RFC3339Nano)
		r := s.lastReport.Load().(fanchip.Report)
		snap.LastReport = &r
	}
	return snap
}
