package reactor

import "time"

// timeoutMillis converts a wait duration to the millisecond argument of
// epoll_wait/WSAPoll, rounding up so a wait never ends before the deadline.
// Negative means forever (-1).
func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	const maxInt32 = 1<<31 - 1
	if ms > maxInt32 {
		return maxInt32
	}
	return int(ms)
}
