//go:build !linux

package fancontrol

import "fmt"

// Stub implementation for non-Linux platforms.
func openLines(cfg Config, onEdge func(edge)) (*lineSet, error) {
	return nil, fmt.Errorf("fancontrol: gpio unsupported on this platform")
}
