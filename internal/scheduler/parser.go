package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	minInterval = time.Second
	maxInterval = 365 * 24 * time.Hour
)

var (
	// cronParser accepts 5 fields, an optional leading seconds field, and
	// descriptors such as @hourly or @every 10m.
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	// intervalRegex matches the human form used in config: "every 5m".
	intervalRegex = regexp.MustCompile(`^every\s+(\d+)\s*([a-z]+)$`)

	intervalUnits = map[string]time.Duration{
		"s": time.Second, "sec": time.Second, "second": time.Second, "seconds": time.Second,
		"m": time.Minute, "min": time.Minute, "minute": time.Minute, "minutes": time.Minute,
		"h": time.Hour, "hour": time.Hour, "hours": time.Hour,
		"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
	}
)

// ParseSchedule parses a sync schedule: a cron expression, a descriptor, or
// "every <n><unit>".
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("schedule expression cannot be empty")
	}

	if strings.HasPrefix(strings.ToLower(expr), "every ") {
		d, err := parseInterval(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid interval expression %q: %w", expr, err)
		}
		return cron.Every(d), nil
	}

	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

func parseInterval(expr string) (time.Duration, error) {
	m := intervalRegex.FindStringSubmatch(strings.ToLower(expr))
	if m == nil {
		return 0, fmt.Errorf("expected 'every <number><unit>', e.g. 'every 5m'")
	}

	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("interval must be a positive integer")
	}
	unit, ok := intervalUnits[m[2]]
	if !ok {
		return 0, fmt.Errorf("unsupported time unit %q", m[2])
	}

	d := time.Duration(n) * unit
	if d < minInterval || d > maxInterval {
		return 0, fmt.Errorf("interval must be between %v and %v", minInterval, maxInterval)
	}
	return d, nil
}

// ValidateSchedule reports whether expr would be accepted by AddJob.
func ValidateSchedule(expr string) error {
	_, err := ParseSchedule(expr)
	return err
}

// NextRun calculates the next fire time of expr after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from), nil
}
