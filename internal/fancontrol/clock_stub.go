//go:build !linux

package fancontrol

import "time"

var clockBase = time.Now()

func monotonicNow() uint64 {
	return uint64(time.Since(clockBase))
}
