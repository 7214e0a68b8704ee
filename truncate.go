package outpost

import "unicode/utf8"

// MaxErrorLength bounds the error text persisted as LastError on queue
// items, schedule entries, run audits and webhook deliveries.
const MaxErrorLength = 1000

// TruncateError returns err's message cut to at most MaxErrorLength runes.
// A nil error yields the empty string.
func TruncateError(err error) string {
	if err == nil {
		return ""
	}
	return Truncate(err.Error(), MaxErrorLength)
}

// Truncate cuts s to at most n runes without splitting a multi-byte
// character.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
