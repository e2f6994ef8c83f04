package postcache

import (
	"strings"
	"time"
)

// anyToStringSlice converts a frontmatter value (a single string or a list) to a []string.
func anyToStringSlice(value any) []string {
	if val, ok := value.(string); ok {
		if strings.TrimSpace(val) == "" {
			return []string{}
		}
		return []string{strings.TrimSpace(val)}
	} else if val, ok := value.([]any); ok {
		result := make([]string, 0, len(val))
		for _, v := range val {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				result = append(result, strings.TrimSpace(s))
			}
		}
		return result
	} else if val, ok := value.([]string); ok {
		return val
	}

	return []string{}
}

// anyToTime converts a frontmatter date, either already decoded or as a string, to a time.Time.
func anyToTime(value any) time.Time {
	switch val := value.(type) {
	case time.Time:
		return val
	case string:
		if t, err := parseTime(val); err == nil {
			return t
		}
	}

	return time.Time{}
}
