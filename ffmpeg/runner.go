package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"ytdlapi/config"
)

// DefaultBinary is looked up on PATH when no override is configured.
const DefaultBinary = "ffmpeg"

// AudioCodec is the codec merged audio is transcoded to.
const AudioCodec = "aac"

// ErrBinaryNotFound is returned when no ffmpeg executable can be located.
var ErrBinaryNotFound = errors.New("ffmpeg executable not found")

// ExitError reports a failed ffmpeg run together with its captured output.
type ExitError struct {
	Err    error
	Output string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("ffmpeg failed while merging audio and video streams: %v", e.Err)
	}
	return fmt.Sprintf("ffmpeg failed while merging audio and video streams. Details: %s", e.Output)
}

func (e *ExitError) Unwrap() error { return e.Err }

type Runner struct {
	cfg        *config.Config
	globalArgs []string
}

// NewRunner validates the operator supplied global arguments. The binary
// itself is resolved lazily on every merge so a missing ffmpeg only fails
// the requests that need it.
func NewRunner(cfg *config.Config) (*Runner, error) {
	var globalArgs []string
	if strings.TrimSpace(cfg.FFGlobalArgs) != "" {
		args, err := SplitCommand(cfg.FFGlobalArgs)
		if err != nil {
			return nil, err
		}
		if err := ValidateGlobalArgs(args); err != nil {
			return nil, err
		}
		globalArgs = args
	}
	return &Runner{cfg: cfg, globalArgs: globalArgs}, nil
}

// Resolve returns the ffmpeg executable to run: the configured override if
// set, otherwise ffmpeg from PATH.
func (r *Runner) Resolve() (string, error) {
	if override := strings.TrimSpace(r.cfg.FFBin); override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("%w: FFMPEG_PATH was set to '%s' but the file does not exist. "+
				"Update FFMPEG_PATH or install ffmpeg", ErrBinaryNotFound, override)
		}
		return override, nil
	}

	path, err := exec.LookPath(DefaultBinary)
	if err != nil {
		return "", fmt.Errorf("%w: ffmpeg is required to merge high-quality mp4 streams. "+
			"Install ffmpeg or set FFMPEG_PATH to the ffmpeg executable", ErrBinaryNotFound)
	}
	return path, nil
}

// MergeArgs builds the argument list for muxing videoPath and audioPath
// into outputPath: video copied as is, audio transcoded, moov atom moved to
// the front of the file.
func (r *Runner) MergeArgs(videoPath, audioPath, outputPath string) []string {
	args := make([]string, 0, len(r.globalArgs)+12)
	args = append(args, r.globalArgs...)
	return append(args,
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", AudioCodec,
		"-movflags", "+faststart",
		outputPath,
	)
}

// Merge runs ffmpeg and returns its combined stdout/stderr.
func (r *Runner) Merge(ctx context.Context, videoPath, audioPath, outputPath string) (string, error) {
	bin, err := r.Resolve()
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, bin, r.MergeArgs(videoPath, audioPath, outputPath)...)
	var outputBuf bytes.Buffer
	cmd.Stdout = &outputBuf
	cmd.Stderr = &outputBuf

	log.Printf("Executing merge: %s %s", cmd.Path, strings.Join(cmd.Args[1:], " "))

	err = cmd.Run()
	outputLog := strings.TrimSpace(outputBuf.String())

	if err != nil {
		// Don't leave a truncated file behind.
		os.Remove(outputPath)
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return outputLog, fmt.Errorf("%w: ffmpeg executable could not be found. Install ffmpeg or set FFMPEG_PATH",
				ErrBinaryNotFound)
		}
		return outputLog, &ExitError{Err: err, Output: outputLog}
	}
	return outputLog, nil
}

// CheckResources verifies that the system has enough free resources to
// start a merge writing into dir.
func (r *Runner) CheckResources(dir string) error {
	// CPU
	if r.cfg.ThrottleCPU > 0 {
		p, err := cpu.Percent(200*time.Millisecond, false)
		if err != nil {
			log.Printf("Warning: could not get CPU usage: %v", err)
		} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], r.cfg.ThrottleCPU)
		}
	}

	// Memory
	if r.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			log.Printf("Warning: could not get memory usage: %v", err)
		} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, r.cfg.ThrottleFreeMem)
		}
	}

	// Disk
	if r.cfg.ThrottleFreeDisk > 0 {
		d, err := disk.Usage(dir)
		if err != nil {
			log.Printf("Warning: could not get disk usage for %s: %v", dir, err)
		} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space in %s. Available: %d, Required: %d", dir, d.Free, r.cfg.ThrottleFreeDisk)
		}
	}
	return nil
}
