package fetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"ytdlapi/ffmpeg"
	"ytdlapi/media"
)

type fakeStream struct {
	label   string
	mime    string
	bitrate float64
	// writeAs overrides the file name actually written.
	writeAs string
	// reportAs is returned as the downloaded path without writing anything.
	reportAs string
	err      error
}

func (f *fakeStream) Label() string    { return f.label }
func (f *fakeStream) MimeType() string { return f.mime }
func (f *fakeStream) Bitrate() float64 { return f.bitrate }

func (f *fakeStream) Download(ctx context.Context, dir, filename string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.reportAs != "" {
		return filepath.Join(dir, f.reportAs), nil
	}
	name := filename
	if f.writeAs != "" {
		name = f.writeAs
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(f.label), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type fakeVideo struct {
	title     string
	titleErr  error
	streams   map[media.Kind][]media.Stream
	streamErr map[media.Kind]error
}

func (v *fakeVideo) Title(ctx context.Context) (string, error) {
	return v.title, v.titleErr
}

func (v *fakeVideo) Streams(ctx context.Context, f media.Filter) ([]media.Stream, error) {
	if err := v.streamErr[f.Kind]; err != nil {
		return nil, err
	}
	return v.streams[f.Kind], nil
}

type fakeSource struct {
	video   *fakeVideo
	openErr error
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Open(ctx context.Context, url string) (media.Video, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.video, nil
}

type fakeMuxer struct {
	mu         sync.Mutex
	resolveErr error
	mergeErr   error
	merges     []string
	inputs     []string
}

func (m *fakeMuxer) Resolve() (string, error) {
	if m.resolveErr != nil {
		return "", m.resolveErr
	}
	return "/usr/bin/ffmpeg", nil
}

func (m *fakeMuxer) CheckResources(dir string) error { return nil }

func (m *fakeMuxer) Merge(ctx context.Context, videoPath, audioPath, outputPath string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merges = append(m.merges, outputPath)
	m.inputs = append(m.inputs, videoPath, audioPath)
	for _, in := range []string{videoPath, audioPath} {
		if _, err := os.Stat(in); err != nil {
			return "", err
		}
	}
	if m.mergeErr != nil {
		return "stderr output", m.mergeErr
	}
	return "", os.WriteFile(outputPath, []byte("merged"), 0o644)
}

func (m *fakeMuxer) mergeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.merges)
}

func progressiveStreams(labels ...string) []media.Stream {
	out := make([]media.Stream, 0, len(labels))
	for _, l := range labels {
		out = append(out, &fakeStream{label: l, mime: "video/mp4"})
	}
	return out
}

func defaultVideo() *fakeVideo {
	return &fakeVideo{
		title: "Sample / Clip",
		streams: map[media.Kind][]media.Stream{
			media.KindProgressive: progressiveStreams("360p", "720p"),
			media.KindVideoOnly:   progressiveStreams("720p", "1080p", "1440p"),
			media.KindAudioOnly: {
				&fakeStream{label: "48kbps", mime: "audio/mp4", bitrate: 48},
				&fakeStream{label: "128kbps", mime: "audio/mp4", bitrate: 129},
				&fakeStream{label: "160kbps", mime: "audio/webm", bitrate: 160},
			},
		},
	}
}

var (
	errUpstream = errors.New("HTTP Error 403: Forbidden")
	exitFailure = &ffmpeg.ExitError{Err: errors.New("exit status 1"), Output: "Invalid data found when processing input"}
)

func dirEntries(dir string) []string {
	entries, _ := os.ReadDir(dir)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func hasPrefixEntry(names []string, prefix string) bool {
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}
