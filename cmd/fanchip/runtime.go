package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.uber.org/multierr"

	"fanchip/internal/config"
	"fanchip/internal/fanchip"
	"fanchip/internal/fancontrol"
	"fanchip/internal/host"
	"fanchip/internal/replay"
	"fanchip/internal/serial"
	"fanchip/internal/sim"
	"fanchip/internal/udp"
	"fanchip/internal/web"
)

// reportSender is one destination for periodic reports.
type reportSender interface {
	SendReport(r fanchip.Report) error
	Close() error
}

type serialSender struct{ *serial.Sink }

func (s serialSender) SendReport(r fanchip.Report) error { return s.WriteReport(r) }

// fanout publishes each report to the log, the web status and every sink.
// Sink errors are logged once per sink until the sink recovers.
type fanout struct {
	logReports bool
	status     *web.Status

	mu      sync.Mutex
	names   []string
	senders []reportSender
	failing []bool
}

func newFanout(cfg config.ReportConfig, status *web.Status) (*fanout, error) {
	f := &fanout{logReports: cfg.LogEnabled(), status: status}
	if f.logReports {
		f.names = append(f.names, "log")
	}
	if cfg.UDPDest != "" {
		b, err := udp.NewBroadcaster(cfg.UDPDest)
		if err != nil {
			return nil, fmt.Errorf("udp report sink: %w", err)
		}
		f.add("udp:"+b.Dest(), b)
	}
	if cfg.SerialDevice != "" {
		s, err := serial.Open(serial.Config{Device: cfg.SerialDevice, Baud: cfg.SerialBaud})
		if err != nil {
			return nil, multierr.Combine(err, f.Close())
		}
		f.add("serial:"+cfg.SerialDevice, serialSender{s})
	}
	return f, nil
}

func (f *fanout) add(name string, s reportSender) {
	f.names = append(f.names, name)
	f.senders = append(f.senders, s)
	f.failing = append(f.failing, false)
}

// Names lists the active destinations, log included.
func (f *fanout) Names() []string {
	return append([]string(nil), f.names...)
}

func (f *fanout) Publish(r fanchip.Report) {
	if f.logReports {
		log.Printf("report %s", r)
	}
	if f.status != nil {
		f.status.MarkReport(time.Now().UTC(), r)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.senders {
		err := s.SendReport(r)
		switch {
		case err != nil && !f.failing[i]:
			log.Printf("report sink failed sink=%s err=%v", f.sinkName(i), err)
			f.failing[i] = true
		case err == nil && f.failing[i]:
			log.Printf("report sink recovered sink=%s", f.sinkName(i))
			f.failing[i] = false
		}
	}
}

func (f *fanout) sinkName(i int) string {
	off := len(f.names) - len(f.senders)
	return f.names[off+i]
}

func (f *fanout) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	for _, s := range f.senders {
		err = multierr.Append(err, s.Close())
	}
	f.senders = nil
	f.failing = nil
	return err
}

type simChip struct{ *host.Device }

func (c simChip) ChipStatus() any { return c.Snapshot() }

type gpioChip struct{ *fancontrol.Service }

func (c gpioChip) ChipStatus() any { return c.Snapshot() }

func run(ctx context.Context, cfg config.Config, logs *web.LogBuffer) (err error) {
	status := web.NewStatus()
	fan, err := newFanout(cfg.Report, status)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, fan.Close()) }()
	status.SetStatic(cfg.Mode, fan.Names())

	switch cfg.Mode {
	case config.ModeGPIO:
		return runGPIO(ctx, cfg, fan, status, logs)
	default:
		return runSim(ctx, cfg, fan, status, logs)
	}
}

func startWeb(ctx context.Context, cfg config.Config, status *web.Status, chip web.Chip, logs *web.LogBuffer) {
	if cfg.Web.Listen == "" {
		return
	}
	log.Printf("web listening addr=%s", cfg.Web.Listen)
	go func() {
		if err := web.Serve(ctx, cfg.Web.Listen, status, chip, logs); err != nil && ctx.Err() == nil {
			log.Printf("web server stopped: %v", err)
		}
	}()
}

func runGPIO(ctx context.Context, cfg config.Config, fan *fanout, status *web.Status, logs *web.LogBuffer) error {
	svc := fancontrol.New(fancontrol.Config{
		Enable:         true,
		Chip:           cfg.GPIO.Chip,
		PWMLine:        cfg.GPIO.PWMLine,
		TachoLine:      cfg.GPIO.TachoLine,
		Fan:            cfg.ChipParams(),
		ReportInterval: cfg.Chip.ReportInterval,
		Width:          cfg.Framebuffer.Width,
		Height:         cfg.Framebuffer.Height,
		Brake:          cfg.Chip.Brake,
	}, fan.Publish)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	startWeb(ctx, cfg, status, gpioChip{svc}, logs)

	<-ctx.Done()
	return svc.Close()
}

// simRun bundles a simulated device with whatever drives its PWM input.
type simRun struct {
	dev    *host.Device
	runner *sim.Runner
	gen    *host.PWMGenerator
	trace  *replay.Writer
	step   time.Duration
	total  time.Duration
}

func newSimRun(cfg config.Config, onReport func(fanchip.Report)) (*simRun, error) {
	dev := host.NewDevice(host.DeviceConfig{
		Chip:           cfg.ChipParams(),
		Width:          cfg.Framebuffer.Width,
		Height:         cfg.Framebuffer.Height,
		ReportInterval: cfg.Chip.ReportInterval,
		Brake:          cfg.Chip.Brake,
	}, onReport)
	sr := &simRun{dev: dev, step: cfg.Sim.Step, total: cfg.Sim.Duration}

	switch {
	case cfg.Sim.Scenario != "":
		script, err := sim.LoadScenarioScript(cfg.Sim.Scenario)
		if err != nil {
			return nil, fmt.Errorf("load scenario: %w", err)
		}
		scn, err := sim.NewScenario(script)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", cfg.Sim.Scenario, err)
		}
		r, err := sim.NewRunner(dev, scn, cfg.Sim.Step, cfg.Sim.Loop)
		if err != nil {
			return nil, err
		}
		sr.runner = r
		if sr.total == 0 && !cfg.Sim.Loop {
			sr.total = scn.Duration()
		}
	case cfg.Sim.Replay != "":
	default:
		g, err := dev.NewPWMGenerator(cfg.Sim.PWMHz, cfg.Sim.Duty)
		if err != nil {
			return nil, err
		}
		sr.gen = g
	}

	if cfg.Report.TracePath != "" {
		w, err := replay.CreateWriter(cfg.Report.TracePath, dev.Now())
		if err != nil {
			return nil, fmt.Errorf("trace: %w", err)
		}
		sr.trace = w
		var once sync.Once
		record := func(signal string) func(host.Transition) {
			return func(tr host.Transition) {
				if err := w.WriteEdge(tr.At, signal, tr.Level); err != nil {
					once.Do(func() { log.Printf("trace write failed path=%s err=%v", cfg.Report.TracePath, err) })
				}
			}
		}
		dev.OnPWMEdge(record(replay.SignalPWM))
		dev.Tacho().OnWrite(record(replay.SignalTacho))
	}
	return sr, nil
}

func (sr *simRun) Close() error {
	if sr.trace == nil {
		return nil
	}
	return sr.trace.Close()
}

// advance moves the device forward by one step and reports whether the run
// should continue.
func (sr *simRun) advance() (bool, error) {
	if sr.runner != nil {
		ok, err := sr.runner.Step()
		if err != nil || !ok {
			return false, err
		}
	} else {
		sr.dev.RunFor(sr.step)
	}
	return sr.total == 0 || time.Duration(sr.dev.Now()) < sr.total, nil
}

func runSim(ctx context.Context, cfg config.Config, fan *fanout, status *web.Status, logs *web.LogBuffer) (err error) {
	sr, err := newSimRun(cfg, fan.Publish)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, sr.Close()) }()
	startWeb(ctx, cfg, status, simChip{sr.dev}, logs)

	if cfg.Sim.Replay != "" {
		recs, err := replay.ReadFile(cfg.Sim.Replay)
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		if err := replay.Feed(sr.dev, recs); err != nil {
			return fmt.Errorf("replay %s: %w", cfg.Sim.Replay, err)
		}
		// One more interval so the last stretch of the trace is reported.
		sr.dev.RunFor(cfg.Chip.ReportInterval)
		log.Printf("replay done path=%s records=%d sim_time=%s", cfg.Sim.Replay, len(recs), time.Duration(sr.dev.Now()))
		return waitWeb(ctx, cfg)
	}

	if sr.gen != nil {
		sr.gen.Start()
		log.Printf("sim pwm started hz=%g duty=%g", cfg.Sim.PWMHz, cfg.Sim.Duty)
	}

	speed := cfg.Sim.Speed
	if speed == 0 && sr.total == 0 {
		// An endless run is paced in real time rather than spinning.
		speed = 1
	}
	p := newPacer(speed)
	for {
		more, err := sr.advance()
		if err != nil {
			return err
		}
		if !more {
			break
		}
		if err := p.wait(ctx, time.Duration(sr.dev.Now())); err != nil {
			return nil
		}
	}
	log.Printf("sim done sim_time=%s", time.Duration(sr.dev.Now()))
	return waitWeb(ctx, cfg)
}

// waitWeb keeps the process alive for the web UI after a finite run.
func waitWeb(ctx context.Context, cfg config.Config) error {
	if cfg.Web.Listen == "" {
		return nil
	}
	<-ctx.Done()
	return nil
}

// pacer holds simulated time to speed x wall-clock time.
type pacer struct {
	speed float64
	start time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newPacer(speed float64) *pacer {
	return &pacer{speed: speed, start: time.Now(), sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *pacer) wait(ctx context.Context, simElapsed time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.speed <= 0 {
		return nil
	}
	target := p.start.Add(time.Duration(float64(simElapsed) / p.speed))
	if d := time.Until(target); d > 0 {
		return p.sleep(ctx, d)
	}
	return nil
}
