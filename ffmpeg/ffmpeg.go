package ffmpeg

import (
	"bytes"
	"os/exec"
	"strings"
)

// runs ffmpeg with the provided args and returns (stdout, stderr, error)
func Ffmpeg(args ...string) ([]byte, []byte, error) {
	ffmpeg := "ffmpeg"
	log.Infoln(ffmpeg, strings.Join(args, " "))
	cmd := exec.Command(ffmpeg, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	if err != nil {
		log.Errorf("ffmpeg error: %v", err)
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

// tail keeps the last n bytes of subprocess output, which is where the
// useful diagnostics are.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
