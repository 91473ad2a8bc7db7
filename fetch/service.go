// Package fetch turns a validated download request into a file on disk.
package fetch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"ytdlapi/media"
	"ytdlapi/quality"
	"ytdlapi/stream"
)

// ProgressiveCeiling is the highest height requested through a progressive
// stream. Anything above it goes through the adaptive merge.
const ProgressiveCeiling = 720

// Request describes one video to fetch.
type Request struct {
	VideoLink string `json:"video_link"`
	Format    string `json:"format"`
	Quality   string `json:"quality"`
	Folder    string `json:"folder"`
	Name      string `json:"name,omitempty"`
}

// Result describes a finished download.
type Result struct {
	Name             string `json:"name"`
	Format           string `json:"format"`
	RequestedQuality string `json:"requested_quality"`
	ActualQuality    string `json:"actual_quality"`
	SavePath         string `json:"save_path"`
	Merge            string `json:"merge,omitempty"`
}

type Service struct {
	source     media.Source
	muxer      Muxer
	scratchDir string
}

func NewService(source media.Source, muxer Muxer, scratchDir string) *Service {
	return &Service{source: source, muxer: muxer, scratchDir: scratchDir}
}

// SourceName reports which media source backs the service.
func (s *Service) SourceName() string { return s.source.Name() }

// Download fetches a single video. Every failure is returned as *Error.
func (s *Service) Download(ctx context.Context, req Request) (*Result, error) {
	videoLink := strings.TrimSpace(req.VideoLink)
	format := strings.ToLower(strings.TrimSpace(req.Format))
	requestedName := strings.TrimSpace(req.Name)

	if format != quality.FormatMP4 && format != quality.FormatMP3 {
		return nil, newError(KindValidation, "format must be either 'mp4' or 'mp3'")
	}
	normalized := quality.Normalize(req.Quality, format)

	var requestedHeight int
	if format == quality.FormatMP4 {
		h, ok := quality.ParseHeight(normalized)
		if !ok {
			return nil, newError(KindValidation, "For mp4, quality must be a value like '720p' (or numeric like '720').")
		}
		requestedHeight = h
	}

	saveDir, err := s.prepareFolder(strings.TrimSpace(req.Folder))
	if err != nil {
		return nil, err
	}

	video, err := s.source.Open(ctx, videoLink)
	if err != nil {
		return nil, wrapError(KindProvider, err, "Failed to load video. The URL may be invalid or the video unavailable")
	}

	saveName := requestedName
	if saveName == "" {
		title, err := video.Title(ctx)
		if err != nil {
			return nil, wrapError(KindProvider, err, "Request failed while reading video metadata. Try again later or test a different video URL")
		}
		saveName = title
	}
	stem, err := SafeName(saveName)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Err: err}
	}

	if format == quality.FormatMP4 {
		return s.downloadMP4(ctx, video, saveDir, stem, normalized, requestedHeight)
	}
	return s.downloadMP3(ctx, video, saveDir, stem, normalized)
}

func (s *Service) prepareFolder(folder string) (string, error) {
	expanded, err := expandHome(folder)
	if err != nil {
		return "", wrapError(KindFilesystem, err, "Invalid folder path '%s'", folder)
	}
	saveDir, err := filepath.Abs(expanded)
	if err != nil {
		return "", wrapError(KindFilesystem, err, "Invalid folder path '%s'", folder)
	}
	if err := os.MkdirAll(saveDir, 0o755); err != nil {
		return "", wrapError(KindFilesystem, err, "Cannot create or access download folder '%s'. Check permissions and disk space", folder)
	}
	return saveDir, nil
}

func (s *Service) downloadMP4(ctx context.Context, video media.Video, saveDir, stem, normalized string, requestedHeight int) (*Result, error) {
	var progressive stream.Selection
	useAdaptive := requestedHeight > ProgressiveCeiling
	if !useAdaptive {
		candidates, err := video.Streams(ctx, media.Filter{Kind: media.KindProgressive, Ext: "mp4"})
		if err == nil {
			progressive, err = stream.SelectByHeight(candidates, normalized)
		}
		// Any progressive failure falls through to the adaptive path.
		useAdaptive = err != nil
	}

	outputPath, err := UniquePath(saveDir, stem, ".mp4")
	if err != nil {
		return nil, wrapError(KindFilesystem, err, "Cannot access download folder '%s'", saveDir)
	}

	if useAdaptive {
		merged, err := s.mergeAdaptive(ctx, video, normalized, outputPath)
		if err != nil {
			return nil, err
		}
		return &Result{
			Name:             stemOf(merged.Path),
			Format:           quality.FormatMP4,
			RequestedQuality: normalized,
			ActualQuality:    quality.HeightLabel(merged.Height),
			SavePath:         merged.Path,
			Merge:            MergeMarker,
		}, nil
	}

	downloaded, err := progressive.Stream.Download(ctx, saveDir, filepath.Base(outputPath))
	if err != nil {
		return nil, downloadError(err, "mp4 stream", saveDir)
	}
	return &Result{
		Name:             stemOf(downloaded),
		Format:           quality.FormatMP4,
		RequestedQuality: normalized,
		ActualQuality:    quality.HeightLabel(progressive.Height),
		SavePath:         downloaded,
	}, nil
}

func (s *Service) downloadMP3(ctx context.Context, video media.Video, saveDir, stem, normalized string) (*Result, error) {
	candidates, err := video.Streams(ctx, media.Filter{Kind: media.KindAudioOnly})
	if err != nil {
		return nil, wrapError(KindProvider, err, "Request failed while fetching available audio streams. Try again later or test another video")
	}
	audio, err := stream.SelectAudioByBitrate(candidates, normalized)
	if err != nil {
		return nil, &Error{Kind: KindSelection, Err: err}
	}

	targetPath, err := UniquePath(saveDir, stem, ".mp3")
	if err != nil {
		return nil, wrapError(KindFilesystem, err, "Cannot access download folder '%s'", saveDir)
	}
	downloaded, err := audio.Download(ctx, saveDir, filepath.Base(targetPath))
	if err != nil {
		return nil, downloadError(err, "mp3 file", saveDir)
	}

	// The unique path already avoided collisions; this only moves a file the
	// source wrote under a different name.
	if downloaded != targetPath {
		if _, err := os.Stat(downloaded); err != nil {
			return nil, wrapError(KindFilesystem, err, "Downloaded mp3 file is missing from '%s'", saveDir)
		}
		if err := os.Rename(downloaded, targetPath); err != nil {
			return nil, wrapError(KindFilesystem, err, "Cannot move mp3 file to target location. Check permissions and disk space")
		}
	}
	if _, err := os.Stat(targetPath); err != nil {
		return nil, wrapError(KindFilesystem, err, "Downloaded mp3 file is missing from '%s'", saveDir)
	}

	actual := audio.Label()
	if actual == "" {
		actual = normalized
	}
	return &Result{
		Name:             stemOf(targetPath),
		Format:           quality.FormatMP3,
		RequestedQuality: normalized,
		ActualQuality:    actual,
		SavePath:         targetPath,
	}, nil
}

// downloadError separates local write failures from provider failures.
func downloadError(err error, what, dir string) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) || errors.Is(err, media.ErrOutputWrite) {
		return wrapError(KindFilesystem, err, "Cannot write %s to '%s'. Check disk space, permissions, or folder path", what, dir)
	}
	return wrapError(KindProvider, err, "The %s download request was rejected. Try a different video or quality", what)
}
