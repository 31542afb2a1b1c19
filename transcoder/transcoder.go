package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"screencast-site/database"
	"screencast-site/media"
	"screencast-site/queue"
	"screencast-site/thumbs"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNotRetryable = errors.New("only failed conversions can be retried")
	ErrBusy         = errors.New("asset is currently being processed")
	ErrBadBounds    = errors.New("invalid trim bounds")
)

// Encoder is the external-tool boundary. ffmpeg.Tool satisfies it in
// production; tests use a fake.
type Encoder interface {
	Transcode(ctx context.Context, src, dst string, duration float64, onProgress func(int)) error
	Clip(ctx context.Context, src, dst string, from, to float64) error
	Duration(path string) (float64, error)
}

// Transcoder drives an asset from raw upload to a seek-optimized mp4 and
// hands the result to the transcriber.
type Transcoder struct {
	enc     Encoder
	queue   queue.Enqueuer
	thumbs  *thumbs.Generator
	dataDir string
}

func New(enc Encoder, q queue.Enqueuer, gen *thumbs.Generator, dataDir string) *Transcoder {
	return &Transcoder{enc: enc, queue: q, thumbs: gen, dataDir: dataDir}
}

func (t *Transcoder) Enqueue(assetID uint) {
	t.queue.Enqueue(queue.Task{Kind: queue.KindTranscode, ID: assetID})
}

// Process is the queue handler for one conversion attempt. Safe to re-enter
// on retry: a completed asset is a no-op and a fresh attempt restarts from
// the stored source file.
func (t *Transcoder) Process(ctx context.Context, task queue.Task) error {
	asset, err := media.GetAsset(task.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// deleted while queued
			return queue.NonRetryable(err)
		}
		return err
	}
	if asset.ConversionStatus == media.ConversionCompleted {
		log.Debugln("asset", asset.ID, "already converted, skipping")
		return nil
	}

	if err := media.SetConversionStatus(asset.ID, media.ConversionProcessing); err != nil {
		return err
	}
	if err := media.SetProgress(asset.ID, 10); err != nil {
		return err
	}

	src := filepath.Join(t.dataDir, asset.Filename)

	// Best-effort skip: already an mp4 with the index at the file head.
	// A wrong answer here only costs a re-encode, never correctness.
	if strings.EqualFold(filepath.Ext(asset.Filename), ".mp4") && hasFaststart(src) {
		log.Infoln("asset", asset.ID, "already seek-optimized, skipping encode")
		return t.finish(asset.ID)
	}

	dstName := fmt.Sprintf("%s.mp4", uuid.Must(uuid.NewV7()).String())
	dst := filepath.Join(t.dataDir, dstName)

	err = t.enc.Transcode(ctx, src, dst, asset.Duration, func(pct int) {
		if err := media.SetProgress(asset.ID, pct); err != nil {
			log.Errorln("progress update for asset", asset.ID, ":", err)
		}
	})
	if err != nil {
		os.Remove(dst)
		return err
	}

	// the encoder's output is authoritative over the client-declared duration
	duration, err := t.enc.Duration(dst)
	if err != nil {
		log.Warnln("could not re-measure duration for asset", asset.ID, ":", err)
		duration = asset.Duration
	}
	size, _ := fileSize(dst)

	if err := media.ReplaceFile(asset.ID, dstName, size, duration); err != nil {
		os.Remove(dst)
		return err
	}
	if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
		log.Warnln("removing pre-conversion file for asset", asset.ID, ":", err)
	}

	return t.finish(asset.ID)
}

// finish marks the conversion complete, refreshes the thumbnail from the
// now-seekable source, and chains the transcription job.
func (t *Transcoder) finish(assetID uint) error {
	if err := media.MarkConverted(assetID); err != nil {
		return err
	}

	t.thumbs.Refresh(assetID)

	tr, err := media.CreateTranscript(assetID)
	if err != nil {
		log.Errorln("creating transcript for asset", assetID, ":", err)
		return nil
	}
	t.queue.Enqueue(queue.Task{Kind: queue.KindTranscribe, ID: tr.ID})
	return nil
}

// HandleFailure persists the terminal state once the orchestrator gives up,
// so pollers never see "processing" on abandoned work.
func (t *Transcoder) HandleFailure(task queue.Task, err error) {
	if ferr := media.MarkConversionFailed(task.ID, err.Error()); ferr != nil {
		log.Errorln("recording terminal failure for asset", task.ID, ":", ferr)
	}
}

// Retry is the user-triggered restart of a terminally failed conversion.
func (t *Transcoder) Retry(assetID uint) error {
	asset, err := media.GetAsset(assetID)
	if err != nil {
		return err
	}
	if asset.ConversionStatus != media.ConversionFailed {
		return ErrNotRetryable
	}
	if err := media.ResetConversion(assetID); err != nil {
		return err
	}
	t.Enqueue(assetID)
	return nil
}

// RecoverStuck requeues work interrupted by a crash or restart: assets left
// "processing" by a dead worker go back to pending, then everything pending
// is enqueued again.
func (t *Transcoder) RecoverStuck() error {
	db := database.Get()

	err := db.Model(&media.MediaAsset{}).
		Where("conversion_status = ?", media.ConversionProcessing).
		Updates(map[string]interface{}{
			"conversion_status":   media.ConversionPending,
			"conversion_progress": 0,
		}).Error
	if err != nil {
		return err
	}

	var ids []uint
	err = db.Model(&media.MediaAsset{}).
		Where("conversion_status = ?", media.ConversionPending).
		Pluck("id", &ids).Error
	if err != nil {
		return err
	}
	for _, id := range ids {
		log.Infoln("requeueing interrupted conversion for asset", id)
		t.Enqueue(id)
	}
	return nil
}

func fileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return -1, err
	}
	return fi.Size(), nil
}
