package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/lrstanley/go-ytdlp"

	"ytdlapi/quality"
)

// Nominal audio bitrates by itag. yt-dlp reports the measured average
// bitrate (e.g. 129.47), while callers ask for the advertised one.
var nominalAudioBitrate = map[string]int{
	"139": 48,
	"140": 128,
	"141": 256,
	"171": 128,
	"172": 256,
	"249": 50,
	"250": 70,
	"251": 160,
	"599": 31,
	"600": 32,
}

// YTDLP implements Source on top of the yt-dlp executable.
type YTDLP struct {
	bin string
}

// NewYTDLP returns a Source that runs bin, or "yt-dlp" from PATH when bin is
// empty.
func NewYTDLP(bin string) *YTDLP {
	return &YTDLP{bin: bin}
}

func (y *YTDLP) Name() string { return "yt-dlp" }

func (y *YTDLP) command() *ytdlp.Command {
	cmd := ytdlp.New()
	if y.bin != "" {
		cmd = cmd.SetExecutable(y.bin)
	}
	return cmd.NoWarnings().NoPlaylist()
}

// ErrOutputWrite marks a download that yt-dlp could not write to disk.
var ErrOutputWrite = errors.New("cannot write downloaded file")

// Stderr fragments yt-dlp emits when the destination, not the remote side,
// is the problem.
var localWriteFailures = []string{
	"No space left on device",
	"Permission denied",
	"Read-only file system",
	"Disk quota exceeded",
}

// Open fetches the video's metadata once; Title and Streams are served from it.
func (y *YTDLP) Open(ctx context.Context, url string) (Video, error) {
	res, err := y.command().DumpSingleJSON().SkipDownload().Run(ctx, url)
	if err != nil {
		return nil, runError("metadata lookup", res, err)
	}

	info, err := parseInfo(res.Stdout)
	if err != nil {
		return nil, err
	}
	return &ytdlpVideo{source: y, url: url, info: info}, nil
}

func parseInfo(stdout string) (*ytdlp.ExtractedInfo, error) {
	raw := json.RawMessage(strings.TrimSpace(stdout))
	info, err := ytdlp.ParseExtractedInfo(&raw)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp metadata parse error: %w", err)
	}
	return info, nil
}

type ytdlpVideo struct {
	source *YTDLP
	url    string
	info   *ytdlp.ExtractedInfo
}

func (v *ytdlpVideo) Title(ctx context.Context) (string, error) {
	title := deref(v.info.Title)
	if strings.TrimSpace(title) == "" {
		return "", fmt.Errorf("yt-dlp metadata has no title for %s", v.url)
	}
	return title, nil
}

func (v *ytdlpVideo) Streams(ctx context.Context, f Filter) ([]Stream, error) {
	var out []Stream
	for _, format := range v.info.Formats {
		if format == nil || formatKind(format) != f.Kind {
			continue
		}
		if f.Ext != "" && !strings.EqualFold(deref(format.Extension), f.Ext) {
			continue
		}
		out = append(out, &ytdlpStream{video: v, format: format})
	}
	return out, nil
}

// formatKind classifies a format by its codecs. ParseExtractedInfo already
// turns yt-dlp's "none" codec into nil.
func formatKind(f *ytdlp.ExtractedFormat) Kind {
	video, audio := deref(f.VCodec) != "", deref(f.ACodec) != ""
	switch {
	case video && audio:
		return KindProgressive
	case video:
		return KindVideoOnly
	case audio:
		return KindAudioOnly
	default:
		// storyboards and other non-media formats
		return Kind(-1)
	}
}

type ytdlpStream struct {
	video  *ytdlpVideo
	format *ytdlp.ExtractedFormat
}

func (s *ytdlpStream) Label() string {
	if formatKind(s.format) == KindAudioOnly {
		itag, _, _ := strings.Cut(deref(s.format.FormatID), "-")
		if kbps, ok := nominalAudioBitrate[itag]; ok {
			return quality.BitrateLabel(kbps)
		}
		if abr := derefFloat(s.format.ABR); abr > 0 {
			return quality.BitrateLabel(int(math.Round(abr)))
		}
		return ""
	}
	if h := derefFloat(s.format.Height); h > 0 {
		return quality.HeightLabel(int(h))
	}
	return ""
}

func (s *ytdlpStream) MimeType() string {
	ext := strings.ToLower(deref(s.format.Extension))
	if formatKind(s.format) == KindAudioOnly {
		if ext == "m4a" || ext == "mp4" {
			return "audio/mp4"
		}
		return "audio/" + ext
	}
	return "video/" + ext
}

func (s *ytdlpStream) Bitrate() float64 {
	if abr := derefFloat(s.format.ABR); abr > 0 {
		return abr
	}
	return derefFloat(s.format.TBR)
}

// Download writes the format to dir/filename and returns the path yt-dlp
// reports for it.
func (s *ytdlpStream) Download(ctx context.Context, dir, filename string) (string, error) {
	target := filepath.Join(dir, filename)
	formatID := deref(s.format.FormatID)
	// yt-dlp treats % as an output template directive.
	template := strings.ReplaceAll(target, "%", "%%")

	res, err := s.video.source.command().
		Format(formatID).
		Output(template).
		NoPart().
		ForceOverwrites().
		PrintJSON().
		Run(ctx, s.video.url)
	if err != nil {
		return "", runError("download of format "+formatID, res, err)
	}
	return downloadedPath(res, dir)
}

// downloadedPath reads the written file from the JSON yt-dlp prints after a
// download. The file must exist inside dir.
func downloadedPath(res *ytdlp.Result, dir string) (string, error) {
	info, err := res.GetExtractedInfo()
	if err != nil {
		return "", fmt.Errorf("yt-dlp download result parse error: %w", err)
	}
	if len(info) == 0 {
		return "", errors.New("yt-dlp did not report a downloaded file")
	}

	path := deref(info[0].Filename)
	if path == "" {
		path = deref(info[0].AltFilename)
	}
	if path == "" {
		return "", errors.New("yt-dlp did not report a downloaded file")
	}
	path, err = filepath.Abs(path)
	if err != nil {
		return "", err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if filepath.Dir(path) != absDir {
		return "", fmt.Errorf("yt-dlp reported %s outside of %s", path, dir)
	}
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

func runError(op string, res *ytdlp.Result, err error) error {
	if res != nil {
		if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
			for _, marker := range localWriteFailures {
				if strings.Contains(stderr, marker) {
					return fmt.Errorf("yt-dlp %s failed: %w: %s", op, ErrOutputWrite, stderr)
				}
			}
			return fmt.Errorf("yt-dlp %s failed: %w: %s", op, err, stderr)
		}
	}
	return fmt.Errorf("yt-dlp %s failed: %w", op, err)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefFloat(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
