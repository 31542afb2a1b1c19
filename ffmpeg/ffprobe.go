package ffmpeg

import (
	"bytes"
	"os/exec"
	"strconv"
	"strings"
)

// runs ffprobe with the provided args and returns (stdout, stderr, error)
func Ffprobe(args ...string) ([]byte, []byte, error) {
	ffprobe := "ffprobe"
	log.Infoln(ffprobe, strings.Join(args, " "))
	cmd := exec.Command(ffprobe, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	if err != nil {
		log.Errorf("ffprobe error: %v", err)
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

// return the length in seconds of a media file at `path`
func Duration(path string) (float64, error) {
	stdout, _, err := Ffprobe("-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", path)
	if err != nil {
		return -1, err
	}

	result, err := strconv.ParseFloat(strings.TrimSpace(string(stdout)), 64)
	if err != nil {
		log.Errorln("duration parse error:", err, string(stdout))
		return -1, err
	}
	return result, nil
}
