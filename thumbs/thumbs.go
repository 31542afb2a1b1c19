package thumbs

import (
	"fmt"
	"os"
	"path/filepath"

	"screencast-site/media"

	"github.com/google/uuid"
)

type FrameExtractor interface {
	ExtractFrame(src, dst string, at float64) error
}

// Generator extracts a single representative frame per asset. A missing
// thumbnail is a degraded-but-acceptable state, so nothing here ever fails
// the caller.
type Generator struct {
	extract FrameExtractor
	dataDir string
}

func NewGenerator(extract FrameExtractor, dataDir string) *Generator {
	return &Generator{extract: extract, dataDir: dataDir}
}

// Refresh replaces the asset's thumbnail with a frame from the temporal
// midpoint, clamped to at least 1 second in to skip blank opening frames.
// Failures are logged and swallowed.
func (g *Generator) Refresh(assetID uint) {
	asset, err := media.GetAsset(assetID)
	if err != nil {
		log.Warnln("thumbnail: no such asset", assetID, ":", err)
		return
	}

	at := float64(int(asset.Duration / 2))
	if at < 1 {
		at = 1
	}

	dstName := fmt.Sprintf("%s.jpg", uuid.Must(uuid.NewV7()).String())
	src := filepath.Join(g.dataDir, asset.Filename)
	dst := filepath.Join(g.dataDir, dstName)

	if err := g.extract.ExtractFrame(src, dst, at); err != nil {
		log.Warnln("thumbnail for asset", assetID, ":", err)
		return
	}

	if err := media.SetThumb(assetID, dstName); err != nil {
		log.Warnln("thumbnail record for asset", assetID, ":", err)
		os.Remove(dst)
		return
	}

	if asset.ThumbFilename != "" {
		if err := os.Remove(filepath.Join(g.dataDir, asset.ThumbFilename)); err != nil && !os.IsNotExist(err) {
			log.Warnln("removing old thumbnail for asset", assetID, ":", err)
		}
	}
}
