package retention

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 2_630_016 * time.Second  // 30.44 days
	year  = 31_557_600 * time.Second // 365.25 days
)

var units = map[string]time.Duration{
	"nsec": time.Nanosecond, "ns": time.Nanosecond,
	"usec": time.Microsecond, "us": time.Microsecond,
	"msec": time.Millisecond, "ms": time.Millisecond,
	"seconds": time.Second, "second": time.Second, "sec": time.Second, "s": time.Second,
	"minutes": time.Minute, "minute": time.Minute, "min": time.Minute, "m": time.Minute,
	"hours": time.Hour, "hour": time.Hour, "hr": time.Hour, "h": time.Hour,
	"days": day, "day": day, "d": day,
	"weeks": week, "week": week, "w": week,
	"months": month, "month": month, "M": month,
	"years": year, "year": year, "y": year,
}

// ParseDuration parses durations written like "5d", "6h 30m", "1y" or
// "5M 1w". Each component is an integer followed by a unit; whitespace is
// allowed between and inside components. "m" is minutes and "M" is months.
func ParseDuration(s string) (time.Duration, error) {
	rest := strings.TrimSpace(s)
	if rest == "" {
		return 0, fmt.Errorf("empty duration")
	}

	var total time.Duration
	for rest != "" {
		digits := strings.IndexFunc(rest, func(r rune) bool { return !unicode.IsDigit(r) })
		if digits == 0 {
			return 0, fmt.Errorf("invalid duration %q: expected a number at %q", s, rest)
		}
		if digits < 0 {
			return 0, fmt.Errorf("invalid duration %q: missing unit after %q", s, rest)
		}
		n, err := strconv.ParseInt(rest[:digits], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		rest = strings.TrimLeftFunc(rest[digits:], unicode.IsSpace)

		end := strings.IndexFunc(rest, func(r rune) bool { return !unicode.IsLetter(r) })
		if end < 0 {
			end = len(rest)
		}
		unit, ok := units[rest[:end]]
		if !ok {
			return 0, fmt.Errorf("invalid duration %q: unknown unit %q", s, rest[:end])
		}
		rest = strings.TrimLeftFunc(rest[end:], unicode.IsSpace)

		if n > int64((1<<63-1)/unit) {
			return 0, fmt.Errorf("invalid duration %q: overflow", s)
		}
		part := time.Duration(n) * unit
		if total > (1<<63-1)-part {
			return 0, fmt.Errorf("invalid duration %q: overflow", s)
		}
		total += part
	}

	return total, nil
}

// Duration is a time.Duration that parses with ParseDuration, for use as a flag value.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// String renders d with day, hour, minute and second components, e.g. "5d 6h".
func (d Duration) String() string {
	v := time.Duration(d)
	if v == 0 {
		return "0s"
	}
	if v < 0 {
		return "-" + Duration(-v).String()
	}
	var parts []string
	for _, u := range []struct {
		name string
		size time.Duration
	}{
		{"d", day},
		{"h", time.Hour},
		{"m", time.Minute},
		{"s", time.Second},
	} {
		if n := v / u.size; n > 0 {
			parts = append(parts, fmt.Sprintf("%d%s", n, u.name))
			v -= n * u.size
		}
	}
	if v > 0 {
		parts = append(parts, v.String())
	}
	return strings.Join(parts, " ")
}
