package watch

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// FormatInterval renders d with at most two units, e.g. "45s", "1h30m", "2d6h".
func FormatInterval(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < day:
		return twoUnits(int(d/time.Hour), "h", int(d%time.Hour/time.Minute), "m")
	default:
		return twoUnits(int(d/day), "d", int(d%day/time.Hour), "h")
	}
}

func twoUnits(major int, majorUnit string, minor int, minorUnit string) string {
	if minor == 0 {
		return strconv.Itoa(major) + majorUnit
	}
	return fmt.Sprintf("%d%s%d%s", major, majorUnit, minor, minorUnit)
}

// FormatNextCheck describes when a watch is checked next, relative to now.
func FormatNextCheck(st WatchStatus, now time.Time) string {
	switch {
	case st.Watch.Stopped():
		return "stopped (" + st.Watch.StopReason.String() + ")"
	case st.Running:
		return "checking"
	case st.Watch.NextCheck.IsZero():
		return "not scheduled"
	case !st.Watch.NextCheck.After(now):
		return "due"
	default:
		return "in " + FormatInterval(st.Watch.NextCheck.Sub(now))
	}
}

// ParseInterval parses a Go duration with an optional leading day count,
// e.g. "90m", "7d" or "1d12h".
func ParseInterval(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	days, rest, found := strings.Cut(s, "d")
	n, err := strconv.Atoi(days)
	if !found || err != nil || n < 0 {
		return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
	}
	d := time.Duration(n) * day
	if rest != "" {
		extra, err := time.ParseDuration(rest)
		if err != nil {
			return 0, fmt.Errorf("invalid interval format: %s", s)
		}
		d += extra
	}
	return d, nil
}
