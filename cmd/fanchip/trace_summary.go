package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"fanchip/internal/fanchip"
	"fanchip/internal/replay"
)

type traceSummary struct {
	Segments    int
	PWMEdges    int
	TachoEdges  int
	Other       int
	MaxDuration time.Duration

	// Mean PWM period and duty over complete cycles (rising to rising).
	Cycles     int
	MeanPeriod time.Duration
	MeanDuty   float64
}

func summarizeTrace(records []replay.Record) traceSummary {
	var s traceSummary
	hasEdges := false

	var lastRise, lastFall time.Duration
	haveRise, haveFall := false, false
	var periodSum time.Duration
	var dutySum float64

	for _, r := range records {
		if r.Start {
			s.Segments++
			haveRise, haveFall = false, false
			continue
		}
		hasEdges = true
		if r.At > s.MaxDuration {
			s.MaxDuration = r.At
		}

		switch r.Signal {
		case replay.SignalTacho:
			s.TachoEdges++
		case replay.SignalPWM:
			s.PWMEdges++
			if r.Level == fanchip.Low {
				lastFall, haveFall = r.At, true
				continue
			}
			if haveRise && haveFall && lastFall > lastRise && r.At > lastRise {
				period := r.At - lastRise
				s.Cycles++
				periodSum += period
				dutySum += float64(lastFall-lastRise) / float64(period)
			}
			lastRise, haveRise = r.At, true
		default:
			s.Other++
		}
	}
	if s.Segments == 0 && hasEdges {
		s.Segments = 1
	}
	if s.Cycles > 0 {
		s.MeanPeriod = periodSum / time.Duration(s.Cycles)
		s.MeanDuty = dutySum / float64(s.Cycles)
	}
	return s
}

func printTraceSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	recs, err := replay.ReadFile(path)
	if err != nil {
		return err
	}
	s := summarizeTrace(recs)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "pwm_edges: %d\n", s.PWMEdges)
	fmt.Fprintf(w, "tacho_edges: %d\n", s.TachoEdges)
	if s.Other > 0 {
		fmt.Fprintf(w, "other_edges: %d\n", s.Other)
	}
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)
	if s.Cycles > 0 {
		fmt.Fprintf(w, "pwm_cycles: %d\n", s.Cycles)
		fmt.Fprintf(w, "pwm_mean_period: %s\n", s.MeanPeriod)
		fmt.Fprintf(w, "pwm_mean_duty: %.4f\n", s.MeanDuty)
		fmt.Fprintf(w, "expected_rpm: %.1f\n", fanchip.DutyToRPM(s.MeanDuty))
	}
	return nil
}
