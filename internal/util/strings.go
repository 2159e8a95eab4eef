package util

import "strings"

// SafeTruncate returns at most maxLen leading characters of s. Log lines use
// it to show a token prefix instead of the full value; a negative maxLen
// yields "".
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL strips trailing slashes so resource identifiers and audience
// values compare equal regardless of a trailing "/".
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}
