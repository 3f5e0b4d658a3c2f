//go:build linux

package fancontrol

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"

	"fanchip/internal/fanchip"
)

const consumer = "fanchip"

// chipCandidates lists gpiochip devices to try, most likely first.
func chipCandidates(configured string) []string {
	if configured != "" {
		return []string{configured}
	}
	// Early Pi 5 kernels expose the header on gpiochip4 (RP1); newer ones
	// renumber it to gpiochip0.
	cands := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	if isRaspberryPi5() {
		cands = []string{"/dev/gpiochip4", "/dev/gpiochip0"}
	}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "gpiochip") {
			p := filepath.Join("/dev", name)
			if p != cands[0] && p != cands[1] {
				cands = append(cands, p)
			}
		}
	}
	return cands
}

// openLines requests the PWM input with both-edge events and the tacho output
// on the first chip that carries both named lines.
func openLines(cfg Config, onEdge func(edge)) (*lineSet, error) {
	if cfg.PWMLine == cfg.TachoLine {
		return nil, fmt.Errorf("fancontrol: pwm and tacho lines must differ (both %q)", cfg.PWMLine)
	}

	handler := func(evt gpiocdev.LineEvent) {
		level := fanchip.Low
		if evt.Type == gpiocdev.LineEventRisingEdge {
			level = fanchip.High
		}
		onEdge(edge{level: level, at: uint64(evt.Timestamp)})
	}

	var lastErr error
	for _, chipPath := range chipCandidates(cfg.Chip) {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			lastErr = err
			continue
		}
		pwmOff, err := chip.FindLine(cfg.PWMLine)
		if err != nil {
			_ = chip.Close()
			continue
		}
		tachoOff, err := chip.FindLine(cfg.TachoLine)
		if err != nil {
			_ = chip.Close()
			continue
		}

		pwm, err := chip.RequestLine(pwmOff,
			gpiocdev.AsInput,
			gpiocdev.WithBothEdges,
			gpiocdev.WithEventHandler(handler),
			gpiocdev.WithConsumer(consumer))
		if err != nil {
			lastErr = multierr.Combine(err, chip.Close())
			continue
		}
		tacho, err := chip.RequestLine(tachoOff, gpiocdev.AsOutput(0), gpiocdev.WithConsumer(consumer))
		if err != nil {
			lastErr = multierr.Combine(err, pwm.Close(), chip.Close())
			continue
		}
		// Requested lines stay valid after the chip handle is closed.
		_ = chip.Close()
		return &lineSet{pwm: pwm, tacho: tacho, chip: chipPath}, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("fancontrol: gpio lines %q/%q not available: %w", cfg.PWMLine, cfg.TachoLine, lastErr)
	}
	return nil, fmt.Errorf("fancontrol: gpio lines %q/%q not found", cfg.PWMLine, cfg.TachoLine)
}
