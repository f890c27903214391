package schedule

import (
	"strconv"
	"strings"
	"time"
)

// DefaultIntervalMinutes is used when an interval schedule has a
// non-positive interval configured.
const DefaultIntervalMinutes = 60

// fallbackDelay is the next-run distance for schedules with an
// unrecognized type, so a misconfigured row retries hourly instead of
// firing on every sweep.
const fallbackDelay = time.Hour

// ComputeNextRun returns the next time a schedule should fire, strictly
// after now. It is a pure function of the spec and the supplied clock
// value; callers pass time.Now() in production and fixed instants in tests.
//
// Daily, weekly and monthly schedules fire at the spec's RunAtTime. A
// candidate at or before now rolls forward one day, week or month
// respectively. Monthly schedules with RunOnDay past the end of a month
// clamp to that month's last day, so a day-31 schedule fires on April 30
// rather than skipping April.
func ComputeNextRun(spec Spec, now time.Time) time.Time {
	switch spec.Type {
	case TypeInterval:
		minutes := spec.IntervalMinutes
		if minutes <= 0 {
			minutes = DefaultIntervalMinutes
		}
		return now.Add(time.Duration(minutes) * time.Minute)

	case TypeDaily:
		h, m, s := parseRunAtTime(spec.RunAtTime)
		candidate := time.Date(now.Year(), now.Month(), now.Day(), h, m, s, 0, now.Location())
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate

	case TypeWeekly:
		h, m, s := parseRunAtTime(spec.RunAtTime)
		target := spec.RunOnDay % 7
		if target < 0 {
			target += 7
		}
		ahead := (target - int(now.Weekday()) + 7) % 7
		candidate := time.Date(now.Year(), now.Month(), now.Day()+ahead, h, m, s, 0, now.Location())
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 7)
		}
		return candidate

	case TypeMonthly:
		h, m, s := parseRunAtTime(spec.RunAtTime)
		candidate := monthlyCandidate(now.Year(), now.Month(), spec.RunOnDay, h, m, s, now.Location())
		if !candidate.After(now) {
			year, month := now.Year(), now.Month()+1
			candidate = monthlyCandidate(year, month, spec.RunOnDay, h, m, s, now.Location())
		}
		return candidate

	default:
		return now.Add(fallbackDelay)
	}
}

// monthlyCandidate builds the firing instant for a given month, clamping
// the day of month to the month's length. time.Date normalizes month
// values outside 1-12, so a January+1 overflow lands in February correctly.
func monthlyCandidate(year int, month time.Month, day, h, m, s int, loc *time.Location) time.Time {
	if day < 1 {
		day = 1
	}
	last := daysIn(year, month)
	if day > last {
		day = last
	}
	return time.Date(year, month, day, h, m, s, 0, loc)
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// parseRunAtTime parses "HH:MM" or "HH:MM:SS", tolerating missing or
// malformed components as zero.
func parseRunAtTime(value string) (h, m, s int) {
	parts := strings.Split(value, ":")
	if len(parts) > 0 {
		h = clampComponent(parts[0], 23)
	}
	if len(parts) > 1 {
		m = clampComponent(parts[1], 59)
	}
	if len(parts) > 2 {
		s = clampComponent(parts[2], 59)
	}
	return h, m, s
}

func clampComponent(raw string, max int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 || n > max {
		return 0
	}
	return n
}
