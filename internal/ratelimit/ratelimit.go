// Package ratelimit detects agent rate-limit responses in session output and
// computes exponential backoff delays between retries.
package ratelimit

import "regexp"

var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)"error"\s*:\s*"rate_limit`),
	regexp.MustCompile(`(?i)usage limit`),
	regexp.MustCompile(`(?i)hit your limit`),
	regexp.MustCompile(`(?i)resets?\s+.*\bUTC\b`),
}

// Detected reports whether text contains a recognizable rate-limit signal.
func Detected(text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Delay computes the exponential backoff delay in seconds for the n-th
// consecutive rate-limited attempt: initial * 2^n, saturating at max instead
// of overflowing.
func Delay(initialSecs, consecutiveCount, maxSecs uint64) uint64 {
	if consecutiveCount >= 64 {
		return maxSecs
	}
	shifted, overflowed := shiftLeftChecked(initialSecs, consecutiveCount)
	if overflowed || shifted > maxSecs {
		return maxSecs
	}
	return shifted
}

// shiftLeftChecked computes v << shift, reporting overflow instead of
// wrapping, the way checked_shl behaves.
func shiftLeftChecked(v uint64, shift uint64) (result uint64, overflowed bool) {
	if shift >= 64 {
		return 0, true
	}
	result = v << shift
	if v != 0 && result>>shift != v {
		return 0, true
	}
	return result, false
}
