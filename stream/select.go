// Package stream picks the stream that best satisfies a requested quality.
package stream

import (
	"errors"
	"fmt"
	"sort"

	"ytdlapi/media"
	"ytdlapi/quality"
)

var (
	// ErrInvalidQuality is returned when the requested quality has no height.
	ErrInvalidQuality = errors.New("invalid quality")
	// ErrNoStreams is returned when no candidate carries a usable label.
	ErrNoStreams = errors.New("no streams available")
	// ErrNotFound is returned when an exact match is required and missing.
	ErrNotFound = errors.New("no matching stream")
)

// PreferredAudioMime is the container favoured when pairing audio with
// adaptive mp4 video.
const PreferredAudioMime = "audio/mp4"

// Selection is a stream chosen by height.
type Selection struct {
	Height int
	Stream media.Stream
}

// SelectByHeight treats normalized as a ceiling: it returns the candidate
// with the greatest height not above it, or the lowest available height when
// every candidate is above it. Candidates of equal height keep their input
// order.
func SelectByHeight(candidates []media.Stream, normalized string) (Selection, error) {
	target, ok := quality.ParseHeight(normalized)
	if !ok {
		return Selection{}, fmt.Errorf("%w: quality must be a value like '720p' (or numeric like '720'), got %q",
			ErrInvalidQuality, normalized)
	}

	available := make([]Selection, 0, len(candidates))
	for _, c := range candidates {
		if h, ok := quality.ParseHeight(c.Label()); ok {
			available = append(available, Selection{Height: h, Stream: c})
		}
	}
	if len(available) == 0 {
		return Selection{}, ErrNoStreams
	}

	sort.SliceStable(available, func(i, j int) bool {
		return available[i].Height > available[j].Height
	})
	for _, s := range available {
		if s.Height <= target {
			return s, nil
		}
	}
	return available[len(available)-1], nil
}

// SelectAudioByBitrate returns the first candidate whose label equals
// normalized exactly. There is no fallback.
func SelectAudioByBitrate(candidates []media.Stream, normalized string) (media.Stream, error) {
	for _, c := range candidates {
		if c.Label() == normalized {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: no audio stream found for quality '%s'", ErrNotFound, normalized)
}

// SelectBestAudio returns the highest bitrate candidate with the preferred
// mime type, falling back to the highest bitrate of any type.
func SelectBestAudio(candidates []media.Stream, preferredMime string) (media.Stream, error) {
	var best, bestPreferred media.Stream
	for _, c := range candidates {
		if best == nil || c.Bitrate() > best.Bitrate() {
			best = c
		}
		if c.MimeType() == preferredMime && (bestPreferred == nil || c.Bitrate() > bestPreferred.Bitrate()) {
			bestPreferred = c
		}
	}
	if bestPreferred != nil {
		return bestPreferred, nil
	}
	if best != nil {
		return best, nil
	}
	return nil, fmt.Errorf("%w: no audio stream found for this video", ErrNoStreams)
}
