package types

import "fmt"

// Ticks counts clock ticks (USER_HZ jiffies) as reported by /proc/<pid>/stat.
type Ticks uint64

// Seconds converts accumulated ticks to whole CPU seconds, rounding down.
// A non-positive rate yields zero rather than dividing by it.
func (t Ticks) Seconds(perSecond int) Seconds {
	if perSecond <= 0 {
		return 0
	}
	return Seconds(uint64(t) / uint64(perSecond))
}

// Seconds is a whole number of CPU seconds.
type Seconds uint64

// Clock formats s the way the monitor reports execution time:
// hh:mm:ss once an hour has passed, mm:ss once a minute has, otherwise
// the empty string (plain seconds say enough).
func (s Seconds) Clock() string {
	h := uint64(s) / 3600
	m := (uint64(s) % 3600) / 60
	sec := uint64(s) % 60

	switch {
	case h > 0:
		return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
	case m > 0:
		return fmt.Sprintf("%02d:%02d", m, sec)
	default:
		return ""
	}
}

func (s Seconds) String() string {
	if c := s.Clock(); c != "" {
		return fmt.Sprintf("%d sec (%s)", uint64(s), c)
	}
	return fmt.Sprintf("%d sec", uint64(s))
}
