package server

import (
	"strconv"
	"strings"
)

// parseLimit falls back to def for a missing or malformed value; services
// clamp the result to their own bounds.
func parseLimit(value string, def int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return def
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return def
	}
	return parsed
}
