package providers

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// unixMillisCutoff separates unix-second from unix-millisecond reset
// timestamps: anything above it cannot plausibly be seconds.
const unixMillisCutoff = 1_000_000_000_000

// ParseResetValue interprets a provider-reported reset timestamp. The
// raw value may be a JSON number in unix seconds or unix milliseconds,
// or a string timestamp. Small numeric values are taken as a
// seconds-from-now delta.
func ParseResetValue(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 {
		return time.Time{}, false
	}

	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return parseResetNumber(int64(num))
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return ParseResetString(str)
	}

	return time.Time{}, false
}

// ParseResetString parses a string reset timestamp: RFC3339, a numeric
// unix seconds/milliseconds value, or a seconds delta.
func ParseResetString(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, true
	}
	if num, err := strconv.ParseInt(value, 10, 64); err == nil {
		return parseResetNumber(num)
	}
	return time.Time{}, false
}

func parseResetNumber(num int64) (time.Time, bool) {
	if num <= 0 {
		return time.Time{}, false
	}
	now := time.Now().Unix()
	switch {
	case num > unixMillisCutoff:
		return time.UnixMilli(num), true
	case num > now+3600:
		return time.Unix(num, 0), true
	default:
		return time.Now().Add(time.Duration(num) * time.Second), true
	}
}

// FormatReset renders a reset instant in the canonical ISO 8601 form.
func FormatReset(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// TitlePlan normalizes a raw subscription tier identifier into a human
// label: the last underscore-separated token, title-cased. Examples:
// "LEVEL_PREMIUM" becomes "Premium", "claude_max" becomes "Max",
// "plus" becomes "Plus".
func TitlePlan(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	parts := strings.Split(raw, "_")
	token := ""
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			token = parts[i]
			break
		}
	}
	if token == "" {
		return ""
	}

	token = strings.ToLower(token)
	return strings.ToUpper(token[:1]) + token[1:]
}
