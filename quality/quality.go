// Package quality canonicalizes user supplied quality strings so they can be
// compared against the labels reported for each stream.
package quality

import (
	"strconv"
	"strings"
)

// Supported output formats.
const (
	FormatMP4 = "mp4"
	FormatMP3 = "mp3"
)

const (
	heightSuffix  = "p"
	bitrateSuffix = "kbps"
)

// Normalize returns the canonical form of raw for the given format:
// "720" becomes "720p" for mp4 and "128" becomes "128kbps" for mp3.
// Values that match no rule are returned trimmed but otherwise untouched,
// so they simply fail to match any stream later on.
func Normalize(raw, format string) string {
	value := strings.ToLower(strings.TrimSpace(raw))

	switch format {
	case FormatMP4:
		if strings.HasSuffix(value, heightSuffix) {
			return value
		}
		if isDigits(value) {
			return value + heightSuffix
		}
	case FormatMP3:
		if strings.HasSuffix(value, bitrateSuffix) {
			return value
		}
		if isDigits(value) {
			return value + bitrateSuffix
		}
	}
	return strings.TrimSpace(raw)
}

// ParseHeight extracts the pixel height from a label such as "1080p".
// The second return value is false for anything else, including a missing
// suffix or a non numeric prefix.
func ParseHeight(label string) (int, bool) {
	return parseSuffixed(label, heightSuffix)
}

// ParseBitrate extracts the kilobit rate from a label such as "128kbps".
func ParseBitrate(label string) (int, bool) {
	return parseSuffixed(label, bitrateSuffix)
}

// HeightLabel is the inverse of ParseHeight.
func HeightLabel(height int) string {
	return strconv.Itoa(height) + heightSuffix
}

// BitrateLabel is the inverse of ParseBitrate.
func BitrateLabel(kbps int) string {
	return strconv.Itoa(kbps) + bitrateSuffix
}

func parseSuffixed(label, suffix string) (int, bool) {
	value := strings.ToLower(strings.TrimSpace(label))
	if !strings.HasSuffix(value, suffix) {
		return 0, false
	}
	number := strings.TrimSuffix(value, suffix)
	if !isDigits(number) {
		return 0, false
	}
	n, err := strconv.Atoi(number)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
