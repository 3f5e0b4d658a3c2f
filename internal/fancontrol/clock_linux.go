//go:build linux

package fancontrol

import "golang.org/x/sys/unix"

// monotonicNow reads CLOCK_MONOTONIC, the clock gpiocdev stamps edge events
// with by default.
func monotonicNow() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return uint64(ts.Nano())
}
