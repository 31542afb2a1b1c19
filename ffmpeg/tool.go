package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"screencast-site/config"
)

// Tool is the concrete encoder backed by the ffmpeg/ffprobe binaries. The
// pipeline components only see it through their own interfaces, so tests run
// against fakes instead of real subprocesses.
type Tool struct{}

func New() Tool {
	return Tool{}
}

// Transcode re-encodes src into a faststart mp4 at dst. Flags bias toward
// low memory and fast decode rather than compression ratio. Percentage
// progress is parsed from ffmpeg's machine-readable progress stream against
// the known source duration and reported clamped to [10, 95].
func (Tool) Transcode(ctx context.Context, src, dst string, duration float64, onProgress func(int)) error {
	args := []string{"-y", "-i", src,
		"-c:v", "libx264",
		"-preset", config.GetVideoPreset(),
		"-crf", strconv.Itoa(config.GetVideoCRF()),
		"-threads", "1",
		"-c:a", "aac",
		"-movflags", "+faststart",
		"-nostats",
		"-progress", "pipe:1",
		dst}

	ffmpeg := "ffmpeg"
	log.Infoln(ffmpeg, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, ffmpeg, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "out_time_us=") {
			continue
		}
		if onProgress == nil || duration <= 0 {
			continue
		}
		us, err := strconv.ParseInt(strings.TrimPrefix(line, "out_time_us="), 10, 64)
		if err != nil {
			continue
		}
		pct := 10 + int(float64(us)/1e6/duration*85.0)
		if pct < 10 {
			pct = 10
		}
		if pct > 95 {
			pct = 95
		}
		onProgress(pct)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg: %v: %s", err, tail(stderr.String(), 500))
	}
	return nil
}

// Clip stream-copies the [from, to] window of src into dst.
func (Tool) Clip(ctx context.Context, src, dst string, from, to float64) error {
	ffmpeg := "ffmpeg"
	args := []string{"-y", "-i", src,
		"-ss", fmt.Sprintf("%f", from),
		"-to", fmt.Sprintf("%f", to),
		"-c", "copy",
		dst}
	log.Infoln(ffmpeg, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, ffmpeg, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg clip: %v: %s", err, tail(stderr.String(), 500))
	}
	return nil
}

// ExtractFrame grabs a single frame of src at `at` seconds into dst.
func (Tool) ExtractFrame(src, dst string, at float64) error {
	_, stderr, err := Ffmpeg("-y",
		"-ss", fmt.Sprintf("%f", at),
		"-i", src,
		"-vframes", "1",
		"-q:v", "2",
		dst)
	if err != nil {
		return fmt.Errorf("ffmpeg frame: %v: %s", err, tail(string(stderr), 500))
	}
	return nil
}

func (Tool) Duration(path string) (float64, error) {
	return Duration(path)
}
