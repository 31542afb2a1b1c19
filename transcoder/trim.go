package transcoder

import (
	"context"
	"os"
	"path/filepath"

	"screencast-site/media"

	"github.com/google/uuid"
)

// tolerance on the end bound: the declared duration is approximate until the
// encoder re-measures it.
const trimTolerance = 1.0 // seconds

// Trim re-cuts the asset to the [start, end] window. Atomic from the
// caller's perspective: the clip lands in a separate file and the original
// is only replaced after the cut fully succeeds.
func (t *Transcoder) Trim(ctx context.Context, assetID uint, start, end float64) error {
	if start < 0 {
		start = 0
	}

	asset, err := media.GetAsset(assetID)
	if err != nil {
		return err
	}
	if asset.ConversionStatus == media.ConversionPending ||
		asset.ConversionStatus == media.ConversionProcessing {
		return ErrBusy
	}
	if end <= start || end > asset.Duration+trimTolerance {
		return ErrBadBounds
	}

	src := filepath.Join(t.dataDir, asset.Filename)
	dstName := uuid.Must(uuid.NewV7()).String() + filepath.Ext(asset.Filename)
	dst := filepath.Join(t.dataDir, dstName)

	log.Debugf("trim asset %d [%f-%f]", assetID, start, end)
	if err := t.enc.Clip(ctx, src, dst, start, end); err != nil {
		os.Remove(dst)
		return err
	}

	duration, err := t.enc.Duration(dst)
	if err != nil {
		duration = end - start
	}
	size, _ := fileSize(dst)

	if err := media.ReplaceFile(assetID, dstName, size, duration); err != nil {
		os.Remove(dst)
		return err
	}
	if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
		log.Warnln("removing pre-trim file for asset", assetID, ":", err)
	}

	t.thumbs.Refresh(assetID)
	return nil
}
