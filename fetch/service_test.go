package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytdlapi/ffmpeg"
	"ytdlapi/media"
)

type harness struct {
	svc     *Service
	video   *fakeVideo
	source  *fakeSource
	muxer   *fakeMuxer
	folder  string
	scratch string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		video:   defaultVideo(),
		muxer:   &fakeMuxer{},
		folder:  filepath.Join(t.TempDir(), "nested", "out"),
		scratch: t.TempDir(),
	}
	h.source = &fakeSource{video: h.video}
	h.svc = NewService(h.source, h.muxer, h.scratch)
	return h
}

func (h *harness) request(format, q string) Request {
	return Request{VideoLink: "https://youtu.be/abc", Format: format, Quality: q, Folder: h.folder}
}

func TestDownload_ProgressiveNeverMerges(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Download(context.Background(), h.request("MP4", "480"))
	require.NoError(t, err)

	assert.Equal(t, "mp4", res.Format)
	assert.Equal(t, "480p", res.RequestedQuality)
	assert.Equal(t, "360p", res.ActualQuality)
	assert.Equal(t, "Sample _ Clip", res.Name)
	assert.Equal(t, filepath.Join(h.folder, "Sample _ Clip.mp4"), res.SavePath)
	assert.Empty(t, res.Merge)
	assert.FileExists(t, res.SavePath)
	assert.Equal(t, 0, h.muxer.mergeCount())
}

func TestDownload_HighQualityMerges(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Download(context.Background(), h.request("mp4", "1080p"))
	require.NoError(t, err)

	assert.Equal(t, "1080p", res.ActualQuality)
	assert.Equal(t, MergeMarker, res.Merge)
	assert.FileExists(t, res.SavePath)
	assert.Equal(t, 1, h.muxer.mergeCount())
	// the preferred audio container wins over a higher bitrate webm
	assert.Equal(t, "video.mp4", filepath.Base(h.muxer.inputs[0]))
	assert.Equal(t, "audio.m4a", filepath.Base(h.muxer.inputs[1]))
	assert.Empty(t, dirEntries(h.scratch), "scratch directory must be removed")
}

func TestDownload_CeilingBetweenAdaptiveHeights(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Download(context.Background(), h.request("mp4", "1300"))
	require.NoError(t, err)
	assert.Equal(t, "1080p", res.ActualQuality)
	assert.Equal(t, "1300p", res.RequestedQuality)
}

func TestDownload_ProgressiveFailureFallsBackToAdaptive(t *testing.T) {
	h := newHarness(t)
	h.video.streams[media.KindProgressive] = nil

	res, err := h.svc.Download(context.Background(), h.request("mp4", "720p"))
	require.NoError(t, err)
	assert.Equal(t, "720p", res.ActualQuality)
	assert.Equal(t, MergeMarker, res.Merge)

	h.video.streamErr = map[media.Kind]error{media.KindProgressive: errUpstream}
	res, err = h.svc.Download(context.Background(), h.request("mp4", "720p"))
	require.NoError(t, err)
	assert.Equal(t, MergeMarker, res.Merge)
	assert.Equal(t, 2, h.muxer.mergeCount())
}

func TestDownload_UniqueNames(t *testing.T) {
	h := newHarness(t)
	req := h.request("mp4", "720")
	req.Name = "clip"

	first, err := h.svc.Download(context.Background(), req)
	require.NoError(t, err)
	second, err := h.svc.Download(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(h.folder, "clip.mp4"), first.SavePath)
	assert.Equal(t, filepath.Join(h.folder, "clip (1).mp4"), second.SavePath)
	assert.Equal(t, "clip (1)", second.Name)
	assert.FileExists(t, first.SavePath)
}

func TestDownload_MP3(t *testing.T) {
	t.Run("exact bitrate", func(t *testing.T) {
		h := newHarness(t)
		res, err := h.svc.Download(context.Background(), h.request("mp3", "128"))
		require.NoError(t, err)
		assert.Equal(t, "128kbps", res.RequestedQuality)
		assert.Equal(t, "128kbps", res.ActualQuality)
		assert.Equal(t, filepath.Join(h.folder, "Sample _ Clip.mp3"), res.SavePath)
		assert.FileExists(t, res.SavePath)
	})

	t.Run("no fallback for missing bitrate", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.Download(context.Background(), h.request("mp3", "192kbps"))
		require.Error(t, err)
		assert.Equal(t, KindSelection, KindOf(err))
		assert.Contains(t, err.Error(), "192kbps")
	})

	t.Run("relocates a differently named download", func(t *testing.T) {
		h := newHarness(t)
		h.video.streams[media.KindAudioOnly] = []media.Stream{
			&fakeStream{label: "128kbps", mime: "audio/mp4", writeAs: "tmp-audio.m4a"},
		}
		req := h.request("mp3", "128kbps")
		req.Name = "song"

		res, err := h.svc.Download(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(h.folder, "song.mp3"), res.SavePath)
		assert.FileExists(t, res.SavePath)
		assert.NoFileExists(t, filepath.Join(h.folder, "tmp-audio.m4a"))
	})

	t.Run("reported file that does not exist", func(t *testing.T) {
		h := newHarness(t)
		h.video.streams[media.KindAudioOnly] = []media.Stream{
			&fakeStream{label: "128kbps", mime: "audio/mp4", reportAs: "elsewhere.webm"},
		}
		req := h.request("mp3", "128kbps")
		req.Name = "song"

		_, err := h.svc.Download(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, KindFilesystem, KindOf(err))
		assert.NoFileExists(t, filepath.Join(h.folder, "song.mp3"))
	})

	t.Run("existing sibling is left alone", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, os.MkdirAll(h.folder, 0o755))
		sibling := filepath.Join(h.folder, "song.mp4")
		require.NoError(t, os.WriteFile(sibling, []byte("video"), 0o644))
		h.video.streams[media.KindAudioOnly] = []media.Stream{
			&fakeStream{label: "128kbps", mime: "audio/mp4", reportAs: "song.mp3"},
		}
		req := h.request("mp3", "128kbps")
		req.Name = "song"

		_, err := h.svc.Download(context.Background(), req)
		assert.Equal(t, KindFilesystem, KindOf(err))
		data, readErr := os.ReadFile(sibling)
		require.NoError(t, readErr)
		assert.Equal(t, "video", string(data))
		assert.NoFileExists(t, filepath.Join(h.folder, "song.mp3"))
	})
}

func TestDownload_Errors(t *testing.T) {
	t.Run("unsupported format", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.Download(context.Background(), h.request("webm", "720p"))
		assert.Equal(t, KindValidation, KindOf(err))
	})

	t.Run("unparseable mp4 quality", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.Download(context.Background(), h.request("mp4", "best"))
		assert.Equal(t, KindValidation, KindOf(err))
	})

	t.Run("folder cannot be created", func(t *testing.T) {
		h := newHarness(t)
		blocker := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(blocker, nil, 0o644))
		req := h.request("mp4", "720p")
		req.Folder = filepath.Join(blocker, "sub")

		_, err := h.svc.Download(context.Background(), req)
		assert.Equal(t, KindFilesystem, KindOf(err))
		assert.Contains(t, err.Error(), "Cannot create or access download folder")
	})

	t.Run("provider failure keeps diagnostic", func(t *testing.T) {
		h := newHarness(t)
		h.source.openErr = errUpstream
		_, err := h.svc.Download(context.Background(), h.request("mp4", "720p"))
		assert.Equal(t, KindProvider, KindOf(err))
		assert.Contains(t, err.Error(), "HTTP Error 403")
	})

	t.Run("title failure", func(t *testing.T) {
		h := newHarness(t)
		h.video.titleErr = errUpstream
		_, err := h.svc.Download(context.Background(), h.request("mp4", "720p"))
		assert.Equal(t, KindProvider, KindOf(err))
	})

	t.Run("explicit name skips title", func(t *testing.T) {
		h := newHarness(t)
		h.video.titleErr = errUpstream
		req := h.request("mp4", "720p")
		req.Name = "named"
		res, err := h.svc.Download(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "named", res.Name)
	})

	t.Run("blank name after cleaning", func(t *testing.T) {
		h := newHarness(t)
		h.video.title = "   "
		_, err := h.svc.Download(context.Background(), h.request("mp4", "720p"))
		assert.Equal(t, KindValidation, KindOf(err))
	})

	t.Run("provider cannot write destination", func(t *testing.T) {
		h := newHarness(t)
		writeErr := fmt.Errorf("yt-dlp download of format 22 failed: %w: No space left on device", media.ErrOutputWrite)
		h.video.streams[media.KindProgressive] = []media.Stream{&fakeStream{label: "720p", err: writeErr}}
		_, err := h.svc.Download(context.Background(), h.request("mp4", "720p"))
		assert.Equal(t, KindFilesystem, KindOf(err))
		assert.Contains(t, err.Error(), "No space left on device")
	})

	t.Run("stream download rejected", func(t *testing.T) {
		h := newHarness(t)
		h.video.streams[media.KindProgressive] = []media.Stream{&fakeStream{label: "720p", err: errUpstream}}
		_, err := h.svc.Download(context.Background(), h.request("mp4", "720p"))
		assert.Equal(t, KindProvider, KindOf(err))
	})
}

func TestDownload_MergeFailuresCleanUp(t *testing.T) {
	t.Run("muxer missing", func(t *testing.T) {
		h := newHarness(t)
		h.muxer.resolveErr = ffmpeg.ErrBinaryNotFound
		_, err := h.svc.Download(context.Background(), h.request("mp4", "1080p"))
		assert.Equal(t, KindProcess, KindOf(err))
		assert.ErrorIs(t, err, ffmpeg.ErrBinaryNotFound)
		assert.Equal(t, 0, h.muxer.mergeCount())
	})

	t.Run("muxer exits non-zero", func(t *testing.T) {
		h := newHarness(t)
		h.muxer.mergeErr = exitFailure
		_, err := h.svc.Download(context.Background(), h.request("mp4", "1080p"))
		assert.Equal(t, KindProcess, KindOf(err))
		assert.Contains(t, err.Error(), "Invalid data found")
		assert.False(t, hasPrefixEntry(dirEntries(h.scratch), "ytdlapi-merge-"))
	})

	t.Run("adaptive download fails", func(t *testing.T) {
		h := newHarness(t)
		h.video.streams[media.KindVideoOnly] = []media.Stream{&fakeStream{label: "1080p", err: errUpstream}}
		_, err := h.svc.Download(context.Background(), h.request("mp4", "1080p"))
		assert.Equal(t, KindProvider, KindOf(err))
		assert.Empty(t, dirEntries(h.scratch))
	})

	t.Run("no audio to pair", func(t *testing.T) {
		h := newHarness(t)
		h.video.streams[media.KindAudioOnly] = nil
		_, err := h.svc.Download(context.Background(), h.request("mp4", "1080p"))
		assert.Equal(t, KindSelection, KindOf(err))
	})

	t.Run("no adaptive video", func(t *testing.T) {
		h := newHarness(t)
		h.video.streams[media.KindVideoOnly] = nil
		_, err := h.svc.Download(context.Background(), h.request("mp4", "1080p"))
		assert.Equal(t, KindSelection, KindOf(err))
		assert.Contains(t, err.Error(), "No adaptive mp4 video streams")
	})
}
