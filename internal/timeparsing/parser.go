// Package timeparsing turns the time expressions accepted on the command line
// and in query strings into absolute times.
//
// Expressions are tried in layers, first match wins:
//  1. Compact duration (+6h, -1d, 2w)
//  2. Absolute timestamp (RFC3339, date-only, epoch milliseconds)
//  3. Natural language (yesterday, last monday, 3 hours ago)
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// compactDurationRe matches [+-]?(\d+)([smhdwy]|mo). "m" is minutes and
// "mo" is months.
var compactDurationRe = regexp.MustCompile(`^([+-]?)(\d+)(s|m|h|d|w|mo|y)$`)

// epochMillisRe matches the millisecond timestamps used in the operation
// and event records.
var epochMillisRe = regexp.MustCompile(`^\d{12,14}$`)

var (
	nlpOnce   sync.Once
	nlpParser *when.Parser
)

func naturalLanguage() *when.Parser {
	nlpOnce.Do(func() {
		nlpParser = when.New(nil)
		nlpParser.Add(en.All...)
		nlpParser.Add(common.All...)
	})
	return nlpParser
}

// ParseCompactDuration applies a compact duration to now. An unsigned
// duration moves forward in time.
//
//   - "+6h" -> now + 6 hours
//   - "-1d" -> now - 1 day
//   - "30m" -> now + 30 minutes
//   - "-2mo" -> now - 2 months
func ParseCompactDuration(s string, now time.Time) (time.Time, error) {
	sign, amount, unit, err := splitCompact(s)
	if err != nil {
		return time.Time{}, err
	}
	if sign == "-" {
		amount = -amount
	}
	return applyDuration(now, amount, unit), nil
}

func splitCompact(s string) (sign string, amount int, unit string, err error) {
	m := compactDurationRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", 0, "", fmt.Errorf("not a compact duration: %q", s)
	}
	amount, err = strconv.Atoi(m[2])
	if err != nil {
		return "", 0, "", fmt.Errorf("invalid duration amount: %q", m[2])
	}
	return m[1], amount, m[3], nil
}

func applyDuration(base time.Time, amount int, unit string) time.Time {
	switch unit {
	case "s":
		return base.Add(time.Duration(amount) * time.Second)
	case "m":
		return base.Add(time.Duration(amount) * time.Minute)
	case "h":
		return base.Add(time.Duration(amount) * time.Hour)
	case "d":
		return base.AddDate(0, 0, amount)
	case "w":
		return base.AddDate(0, 0, amount*7)
	case "mo":
		return base.AddDate(0, amount, 0)
	case "y":
		return base.AddDate(amount, 0, 0)
	}
	return base
}

// IsCompactDuration reports whether s uses compact duration syntax.
func IsCompactDuration(s string) bool {
	return compactDurationRe.MatchString(strings.TrimSpace(s))
}

// ParseRelativeTime resolves s against now using every layer.
func ParseRelativeTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}
	if IsCompactDuration(s) {
		return ParseCompactDuration(s, now)
	}
	if t, ok := parseAbsolute(s, now.Location()); ok {
		return t, nil
	}
	return ParseNaturalLanguage(s, now)
}

// ParseSince resolves a lower time bound. It differs from ParseRelativeTime
// only in that an unsigned compact duration looks back, so "6h" means six
// hours ago.
func ParseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if sign, amount, unit, err := splitCompact(s); err == nil {
		if sign != "+" {
			amount = -amount
		}
		return applyDuration(now, amount, unit), nil
	}
	return ParseRelativeTime(s, now)
}

func parseAbsolute(s string, loc *time.Location) (time.Time, bool) {
	if epochMillisRe.MatchString(s) {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).In(loc), true
		}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseNaturalLanguage parses English expressions such as "yesterday",
// "next monday" or "3 hours ago" relative to now.
func ParseNaturalLanguage(s string, now time.Time) (time.Time, error) {
	r, err := naturalLanguage().Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized time expression: %q", s)
	}
	return r.Time, nil
}
