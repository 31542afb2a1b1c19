package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var gitSHA string
var buildDate string

func GetDataDir() string {
	value, exists := os.LookupEnv("SCREENCAST_SITE_DATA_DIR")
	if exists {
		return value
	}
	return "data"
}

// defaults to GetDataDir() / config
func GetConfigDir() string {
	value, exists := os.LookupEnv("SCREENCAST_SITE_CONFIG_DIR")
	if exists {
		return value
	}
	return filepath.Join(GetDataDir(), "config")
}

// where in-progress recording sessions keep their chunk files.
// defaults to GetDataDir() / chunks
func GetChunkDir() string {
	value, exists := os.LookupEnv("SCREENCAST_SITE_CHUNK_DIR")
	if exists {
		return value
	}
	return filepath.Join(GetDataDir(), "chunks")
}

func GetTranscribeURL() string {
	value, exists := os.LookupEnv("SCREENCAST_SITE_TRANSCRIBE_URL")
	if exists {
		return value
	}
	return "http://localhost:9000/v1/audio/transcriptions"
}

func GetTranscribeToken() string {
	return os.Getenv("SCREENCAST_SITE_TRANSCRIBE_TOKEN")
}

// any level name logrus understands; everything above it is dropped
func GetLogLevel() string {
	if value, exists := os.LookupEnv("SCREENCAST_SITE_LOG_LEVEL"); exists {
		return value
	}
	return "debug"
}

func GetWorkerCount() int {
	if value, exists := os.LookupEnv("SCREENCAST_SITE_WORKERS"); exists {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return 2
}

// how long a recording session may sit idle before the sweeper removes it
func GetSessionTTL() time.Duration {
	if value, exists := os.LookupEnv("SCREENCAST_SITE_SESSION_TTL"); exists {
		if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Hour
}

// encode-quality tunables: defaults favor low memory and fast decode over
// compression ratio

func GetVideoPreset() string {
	if value, exists := os.LookupEnv("SCREENCAST_SITE_VIDEO_PRESET"); exists {
		return value
	}
	return "ultrafast"
}

func GetVideoCRF() int {
	if value, exists := os.LookupEnv("SCREENCAST_SITE_VIDEO_CRF"); exists {
		if n, err := strconv.Atoi(value); err == nil && n >= 0 && n <= 51 {
			return n
		}
	}
	return 28
}

func GetGitSHA() string {
	if gitSHA == "" {
		return "<not provided>"
	} else {
		return gitSHA
	}
}

func GetBuildDate() string {
	if buildDate == "" {
		return "<not provided>"
	} else {
		return buildDate
	}
}
