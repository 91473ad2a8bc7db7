// Package media describes the capability the service needs from a remote
// video platform: open a video by URL, read its title, list candidate streams
// and download one of them to disk. Parsing the platform itself is left to
// the implementation.
package media

import "context"

// Kind narrows the streams returned by Video.Streams.
type Kind int

const (
	// KindProgressive streams carry both audio and video.
	KindProgressive Kind = iota
	// KindVideoOnly streams carry video without audio.
	KindVideoOnly
	// KindAudioOnly streams carry audio without video.
	KindAudioOnly
)

func (k Kind) String() string {
	switch k {
	case KindProgressive:
		return "progressive"
	case KindVideoOnly:
		return "video-only"
	case KindAudioOnly:
		return "audio-only"
	default:
		return "unknown"
	}
}

// Filter selects a subset of a video's streams.
type Filter struct {
	Kind Kind
	// Ext restricts streams to one container extension. Empty matches any.
	Ext string
}

// Stream is a single downloadable rendition of a video.
type Stream interface {
	// Label is the resolution ("720p") for video streams and the nominal
	// bitrate ("128kbps") for audio-only streams.
	Label() string
	MimeType() string
	// Bitrate in kbps, used to rank audio streams.
	Bitrate() float64
	// Download writes the stream into dir under filename and returns the
	// path that was actually written.
	Download(ctx context.Context, dir, filename string) (string, error)
}

// Video is an opened remote video.
type Video interface {
	Title(ctx context.Context) (string, error)
	Streams(ctx context.Context, f Filter) ([]Stream, error)
}

// Source opens remote videos. Implementations are chosen at configuration
// time.
type Source interface {
	Name() string
	Open(ctx context.Context, url string) (Video, error)
}
