package utils

import (
	"strings"
)

// SplitNameList splits a delimiter-separated list. Line breaks are stripped
// first, so lists pasted over several lines behave like single-line ones.
// Entries are trimmed and empty entries dropped.
func SplitNameList(list, delimiter string) []string {
	if delimiter == "" {
		delimiter = ","
	}
	cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(list)
	if strings.TrimSpace(cleaned) == "" {
		return nil
	}
	if !strings.HasSuffix(cleaned, delimiter) {
		cleaned += delimiter
	}

	var out []string
	for _, part := range strings.Split(cleaned, delimiter) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ContainsFold is a case-insensitive strings.Contains.
func ContainsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
