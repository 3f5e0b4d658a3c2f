package fancontrol

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.uber.org/multierr"

	"fanchip/internal/fanchip"
	"fanchip/internal/host"
)

// edge is a PWM input transition stamped by the kernel on CLOCK_MONOTONIC.
type edge struct {
	level fanchip.Level
	at    uint64
}

// tachoLine is the output half of the GPIO pair.
type tachoLine interface {
	SetValue(v int) error
	Close() error
}

// lineSet holds the requested GPIO lines. Closing pwm stops edge delivery.
type lineSet struct {
	pwm   interface{ Close() error }
	tacho tachoLine
	chip  string
}

func (ls *lineSet) Close() error {
	if ls == nil {
		return nil
	}
	var err error
	if ls.pwm != nil {
		err = multierr.Append(err, ls.pwm.Close())
	}
	if ls.tacho != nil {
		err = multierr.Append(err, ls.tacho.SetValue(0))
		err = multierr.Append(err, ls.tacho.Close())
	}
	return err
}

var openLinesFn = openLines
var nowFn = monotonicNow

type Config struct {
	Enable bool

	// Chip is the gpiochip device path; empty tries the usual candidates.
	Chip string
	// PWMLine and TachoLine are GPIO line names, e.g. "GPIO17".
	PWMLine   string
	TachoLine string

	Fan            fanchip.Config
	ReportInterval time.Duration
	Width          int
	Height         int
	Brake          float64

	// EdgeBuffer bounds the edges queued between the kernel event handler and
	// the control loop. Edges beyond it are dropped and counted.
	EdgeBuffer int
}

type Snapshot struct {
	Enabled bool   `json:"enabled"`
	Chip    string `json:"chip,omitempty"`

	State        fanchip.State   `json:"state"`
	Brake        float64         `json:"brake"`
	PWMLevel     string          `json:"pwm_level"`
	PWMEdges     uint64          `json:"pwm_edges"`
	DroppedEdges uint64          `json:"dropped_edges"`
	TachoLevel   string          `json:"tacho_level"`
	TachoWrites  uint64          `json:"tacho_writes"`
	TachoArmed   bool            `json:"tacho_armed"`
	LastReport   *fanchip.Report `json:"last_report,omitempty"`

	LastUpdateAt time.Time `json:"last_update_utc,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// Service runs the fan chip against real GPIO lines. A single goroutine owns
// the chip; edges, report ticks and tacho deadlines are serialized through it.
type Service struct {
	cfg Config

	fb    *host.Framebuffer
	brake *host.Attr

	onReport func(fanchip.Report)

	mu   sync.RWMutex
	snap Snapshot

	edges   chan edge
	lines   *lineSet
	linesMu sync.Mutex

	wg sync.WaitGroup

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New returns a stopped service. onReport may be nil; it runs on the control
// goroutine.
func New(cfg Config, onReport func(fanchip.Report)) *Service {
	if cfg.PWMLine == "" {
		cfg.PWMLine = "GPIO17"
	}
	if cfg.TachoLine == "" {
		cfg.TachoLine = "GPIO27"
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = fanchip.DefaultReportInterval
	}
	if cfg.Width <= 0 {
		cfg.Width = 32
	}
	if cfg.Height <= 0 {
		cfg.Height = 32
	}
	if cfg.EdgeBuffer <= 0 {
		cfg.EdgeBuffer = 1024
	}
	return &Service{
		cfg:      cfg,
		fb:       host.NewFramebuffer(cfg.Width, cfg.Height),
		brake:    host.NewBrakeAttr(cfg.Brake),
		onReport: onReport,
		edges:    make(chan edge, cfg.EdgeBuffer),
		stopCh:   make(chan struct{}),
	}
}

func (s *Service) Framebuffer() *host.Framebuffer { return s.fb }
func (s *Service) Brake() *host.Attr              { return s.brake }

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sn := s.snap
	sn.Brake = s.brake.Get()
	return sn
}

// Close stops the control loop and releases the lines, leaving the tacho
// output low.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()

	s.linesMu.Lock()
	ls := s.lines
	s.lines = nil
	s.linesMu.Unlock()
	return ls.Close()
}

func (s *Service) setErr(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastError = msg
	s.snap.LastUpdateAt = time.Now().UTC()
}

func (s *Service) setState(update func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	update(&s.snap)
	s.snap.LastUpdateAt = time.Now().UTC()
}

// deliver is called from the line event handler goroutine.
func (s *Service) deliver(e edge) {
	select {
	case s.edges <- e:
	default:
		s.setState(func(sn *Snapshot) { sn.DroppedEdges++ })
	}
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("fancontrol: service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}

	s.setState(func(sn *Snapshot) {
		sn.Enabled = true
	})

	ls, err := openLinesFn(s.cfg, s.deliver)
	if err != nil {
		s.setErr(err.Error())
		return err
	}
	if err := ls.tacho.SetValue(0); err != nil {
		s.setErr(fmt.Sprintf("fancontrol: set tacho failed: %v", err))
		return multierr.Combine(err, ls.Close())
	}
	s.linesMu.Lock()
	s.lines = ls
	s.linesMu.Unlock()
	s.setState(func(sn *Snapshot) {
		sn.Chip = ls.chip
		sn.PWMLevel = fanchip.Low.String()
		sn.TachoLevel = fanchip.Low.String()
	})
	log.Printf("fancontrol started chip=%s pwm=%s tacho=%s", ls.chip, s.cfg.PWMLine, s.cfg.TachoLine)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, ls.tacho)
	}()

	go func() {
		select {
		case <-ctx.Done():
			if err := s.Close(); err != nil {
				log.Printf("fancontrol close: %v", err)
			}
		case <-s.stopCh:
		}
	}()
	return nil
}

// loop is the control goroutine's private state.
type loop struct {
	s     *Service
	chip  *fanchip.Chip
	tacho tachoLine
	timer *time.Timer
	armed bool
	last  uint64
	pwm   fanchip.Level
}

func (s *Service) run(ctx context.Context, tacho tachoLine) {
	l := &loop{
		s:     s,
		chip:  fanchip.New(s.cfg.Fan, s.brake, s.fb),
		tacho: tacho,
		timer: time.NewTimer(time.Hour),
		last:  nowFn(),
	}
	l.timer.Stop()
	defer l.timer.Stop()

	report := time.NewTicker(s.cfg.ReportInterval)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case e := <-s.edges:
			if e.level == l.pwm {
				continue
			}
			l.pwm = e.level
			at := l.clamp(e.at)
			l.apply(l.chip.Handle(fanchip.EdgeEvent(e.level, at)), at)
			st, armed := l.chip.State(), l.armed
			s.setState(func(sn *Snapshot) {
				sn.State = st
				sn.TachoArmed = armed
				sn.PWMLevel = e.level.String()
				sn.PWMEdges++
			})
			continue
		case <-report.C:
			at := l.clamp(nowFn())
			l.apply(l.chip.Handle(fanchip.Event{Kind: fanchip.ReportTick, At: at}), at)
		case <-l.timer.C:
			l.armed = false
			at := l.clamp(nowFn())
			l.apply(l.chip.Handle(fanchip.Event{Kind: fanchip.TachoTick, At: at}), at)
		}
		st, armed := l.chip.State(), l.armed
		s.setState(func(sn *Snapshot) {
			sn.State = st
			sn.TachoArmed = armed
		})
	}
}

// clamp keeps chip time monotonic. Kernel edge timestamps are taken before
// the loop sees them and can trail a report tick already handled.
func (l *loop) clamp(at uint64) uint64 {
	if at < l.last {
		at = l.last
	}
	l.last = at
	return at
}

func (l *loop) apply(act fanchip.Action, now uint64) {
	s := l.s
	if act.WriteTacho {
		v := 0
		if act.TachoLevel == fanchip.High {
			v = 1
		}
		if err := l.tacho.SetValue(v); err != nil {
			s.setErr(fmt.Sprintf("fancontrol: set tacho failed: %v", err))
		} else {
			s.setState(func(sn *Snapshot) {
				sn.TachoLevel = act.TachoLevel.String()
				sn.TachoWrites++
			})
		}
	}
	if act.ArmTacho {
		if l.armed && !l.timer.Stop() {
			select {
			case <-l.timer.C:
			default:
			}
		}
		l.timer.Reset(act.TachoDelay)
		l.armed = true
	}
	if act.Report != nil {
		r := *act.Report
		s.setState(func(sn *Snapshot) { sn.LastReport = &r })
		if s.onReport != nil {
			s.onReport(r)
		}
	}
}
