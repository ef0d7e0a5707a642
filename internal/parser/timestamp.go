package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const isoLayout = "2006-01-02T15:04:05"

var months = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March,
	"Apr": time.April, "May": time.May, "Jun": time.June,
	"Jul": time.July, "Aug": time.August, "Sep": time.September,
	"Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// header carries the syslog header time parts used as a fallback
type header struct {
	month time.Month
	day   int
	clock string
}

// NormalizeTZ turns a "+HHMM"/"-HHMM" offset into "+HH:MM". ok is false for
// anything else.
func NormalizeTZ(tz string) (string, bool) {
	tz = strings.Trim(strings.TrimSpace(tz), `"`)
	if len(tz) != 5 || (tz[0] != '+' && tz[0] != '-') {
		return "", false
	}
	for i := 1; i < 5; i++ {
		if tz[i] < '0' || tz[i] > '9' {
			return "", false
		}
	}
	return tz[:3] + ":" + tz[3:], true
}

// zoneFor converts a normalized offset into a fixed zone. Offsets of a day
// or more are rejected.
func zoneFor(norm string) (*time.Location, bool) {
	hh, _ := strconv.Atoi(norm[1:3])
	mm, _ := strconv.Atoi(norm[4:6])
	secs := hh*3600 + mm*60
	if secs >= 24*3600 {
		return nil, false
	}
	if norm[0] == '-' {
		secs = -secs
	}
	return time.FixedZone(norm, secs), true
}

// eventTimestamp reconstructs the event time as an ISO-8601 string. The
// date/time pair from the body wins; the syslog header combined with the
// reference year is the fallback. nil means neither parsed.
func eventTimestamp(kv map[string]string, year int, h header) *string {
	var zone *time.Location
	zoneSet, zoneValid := false, true
	if tz, ok := kv["tz"]; ok && tz != "" {
		if norm, ok := NormalizeTZ(tz); ok {
			zoneSet = true
			zone, zoneValid = zoneFor(norm)
		}
	}

	render := func(wall time.Time) *string {
		if !zoneSet {
			s := formatWall(wall, false)
			return &s
		}
		if !zoneValid {
			return nil
		}
		t := time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), wall.Second(), wall.Nanosecond(), zone)
		s := formatWall(t, true)
		return &s
	}

	date, clock := kv["date"], kv["time"]
	if date != "" && clock != "" {
		if wall, ok := parseWall(date + "T" + clock); ok {
			if s := render(wall); s != nil {
				return s
			}
		}
	}

	wall, ok := headerWall(year, h)
	if !ok {
		return nil
	}
	return render(wall)
}

// parseWall parses a zone-less ISO date-time, optionally with fractions
func parseWall(s string) (time.Time, bool) {
	for _, layout := range []string{isoLayout, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func headerWall(year int, h header) (time.Time, bool) {
	parts := strings.Split(h.clock, ":")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	var hms [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, false
		}
		hms[i] = v
	}
	if hms[0] > 23 || hms[1] > 59 || hms[2] > 59 {
		return time.Time{}, false
	}

	t := time.Date(year, h.month, h.day, hms[0], hms[1], hms[2], 0, time.UTC)
	// time.Date normalizes out-of-range days; reject instead
	if t.Day() != h.day || t.Month() != h.month {
		return time.Time{}, false
	}
	return t, true
}

// formatWall renders t, appending microseconds only when present
func formatWall(t time.Time, zoned bool) string {
	s := t.Format(isoLayout)
	if us := t.Nanosecond() / 1000; us != 0 {
		s += fmt.Sprintf(".%06d", us)
	}
	if zoned {
		s += t.Format("-07:00")
	}
	return s
}
