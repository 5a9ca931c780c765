package cmd

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chatwoot/supportsync/internal/chat"
)

// "90s", "30m", "2h", "1d", "2w", optionally followed by "ago".
var sinceAgoRegex = regexp.MustCompile(`^(\d+)\s*(s|m|h|d|w)(?:\s*ago)?$`)

// parseSince resolves a transcript lower bound. It accepts relative ages
// ("30m", "2h ago"), "today", "yesterday", a YYYY-MM-DD date in local time,
// and any timestamp format the server uses.
func parseSince(raw string, now time.Time) (time.Time, error) {
	input := strings.ToLower(strings.TrimSpace(raw))
	if input == "" {
		return time.Time{}, fmt.Errorf("empty --since value")
	}

	switch input {
	case "today":
		return startOfDay(now), nil
	case "yesterday":
		return startOfDay(now).AddDate(0, 0, -1), nil
	}

	if m := sinceAgoRegex.FindStringSubmatch(input); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return time.Time{}, fmt.Errorf("invalid --since value %q", raw)
		}
		unit := map[string]time.Duration{
			"s": time.Second,
			"m": time.Minute,
			"h": time.Hour,
			"d": 24 * time.Hour,
			"w": 7 * 24 * time.Hour,
		}[m[2]]
		return now.Add(-time.Duration(n) * unit), nil
	}

	if t, err := time.ParseInLocation(time.DateOnly, input, now.Location()); err == nil {
		return t, nil
	}
	if t, err := chat.ParseTimestamp(strings.TrimSpace(raw)); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --since value %q (try 30m, 2h ago, yesterday or 2026-01-02)", raw)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
