package fetch

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"ytdlapi/ffmpeg"
	"ytdlapi/media"
	"ytdlapi/stream"
)

// MergeMarker tags results produced by muxing separate streams.
const MergeMarker = "ffmpeg"

// Muxer combines a video-only and an audio-only file. *ffmpeg.Runner is the
// production implementation.
type Muxer interface {
	Resolve() (string, error)
	CheckResources(dir string) error
	Merge(ctx context.Context, videoPath, audioPath, outputPath string) (string, error)
}

type mergeResult struct {
	Path   string
	Height int
}

// mergeAdaptive downloads the best adaptive video not above normalized plus
// the best audio stream into a scratch directory and muxes them into
// outputPath. The scratch directory is removed on every return path.
func (s *Service) mergeAdaptive(ctx context.Context, video media.Video, normalized, outputPath string) (*mergeResult, error) {
	if _, err := s.muxer.Resolve(); err != nil {
		return nil, &Error{Kind: KindProcess, Err: err}
	}

	videoStreams, err := video.Streams(ctx, media.Filter{Kind: media.KindVideoOnly, Ext: "mp4"})
	if err != nil {
		return nil, wrapError(KindProvider, err, "Request failed while fetching available adaptive mp4 streams. Try again later or test another video")
	}
	selected, err := stream.SelectByHeight(videoStreams, normalized)
	if err != nil {
		if errors.Is(err, stream.ErrNoStreams) {
			return nil, newError(KindSelection, "No adaptive mp4 video streams are available for this video.")
		}
		return nil, &Error{Kind: KindSelection, Err: err}
	}

	audioStreams, err := video.Streams(ctx, media.Filter{Kind: media.KindAudioOnly})
	if err != nil {
		return nil, wrapError(KindProvider, err, "Request failed while fetching available audio streams. Try again later or test another video")
	}
	audio, err := stream.SelectBestAudio(audioStreams, stream.PreferredAudioMime)
	if err != nil {
		return nil, &Error{Kind: KindSelection, Err: err}
	}

	if err := s.muxer.CheckResources(s.scratchDir); err != nil {
		return nil, wrapError(KindProcess, err, "Insufficient system resources to merge high-quality mp4")
	}

	tempDir, err := os.MkdirTemp(s.scratchDir, "ytdlapi-merge-")
	if err != nil {
		return nil, wrapError(KindFilesystem, err, "Cannot create scratch directory for merging")
	}
	defer os.RemoveAll(tempDir)

	videoPath, err := selected.Stream.Download(ctx, tempDir, "video.mp4")
	if err != nil {
		return nil, downloadError(err, "high-quality mp4 video stream", tempDir)
	}
	audioPath, err := audio.Download(ctx, tempDir, "audio.m4a")
	if err != nil {
		return nil, downloadError(err, "audio stream", tempDir)
	}

	if _, err := s.muxer.Merge(ctx, videoPath, audioPath, outputPath); err != nil {
		var exitErr *ffmpeg.ExitError
		if errors.As(err, &exitErr) || errors.Is(err, ffmpeg.ErrBinaryNotFound) {
			return nil, &Error{Kind: KindProcess, Err: err}
		}
		return nil, wrapError(KindProcess, err, "ffmpeg could not be started")
	}

	if _, err := os.Stat(outputPath); err != nil {
		return nil, wrapError(KindFilesystem, err, "Cannot write mp4 file to '%s'. Check disk space, permissions, or folder path", filepath.Dir(outputPath))
	}
	return &mergeResult{Path: outputPath, Height: selected.Height}, nil
}
