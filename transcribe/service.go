package transcribe

import (
	"context"
	"errors"
	"path/filepath"
	"sort"

	"screencast-site/database"
	"screencast-site/media"
	"screencast-site/queue"

	"gorm.io/gorm"
)

// ErrInProgress rejects a retry while a submission is already in flight:
// two concurrent submissions of the same asset would double-bill at the
// provider and race on the result write.
var ErrInProgress = errors.New("transcription already in progress")

type Service struct {
	client  Client
	queue   queue.Enqueuer
	dataDir string
}

func NewService(client Client, q queue.Enqueuer, dataDir string) *Service {
	return &Service{client: client, queue: q, dataDir: dataDir}
}

func (s *Service) Enqueue(transcriptID uint) {
	s.queue.Enqueue(queue.Task{Kind: queue.KindTranscribe, ID: transcriptID})
}

// Process is the queue handler for one transcription attempt.
func (s *Service) Process(ctx context.Context, task queue.Task) error {
	tr, err := media.GetTranscript(task.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return queue.NonRetryable(err)
		}
		return err
	}
	if tr.Status == media.TranscriptCompleted {
		log.Debugln("transcript", tr.ID, "already completed, skipping")
		return nil
	}

	asset, err := media.GetAsset(tr.MediaAssetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return queue.NonRetryable(err)
		}
		return err
	}

	if err := media.SetTranscriptStatus(tr.ID, media.TranscriptProcessing); err != nil {
		return err
	}

	result, err := s.client.Transcribe(ctx, filepath.Join(s.dataDir, asset.Filename))
	if err != nil {
		return err
	}

	// normalize: ordered by start time, sequential ids independent of the
	// provider's own numbering
	sort.SliceStable(result.Segments, func(i, j int) bool {
		return result.Segments[i].Start < result.Segments[j].Start
	})
	segments := make([]media.TranscriptSegment, 0, len(result.Segments))
	for _, seg := range result.Segments {
		segments = append(segments, media.TranscriptSegment{
			StartSeconds: seg.Start,
			EndSeconds:   seg.End,
			Text:         seg.Text,
		})
	}

	return media.StoreTranscription(tr.ID, result.Language, result.Text, segments)
}

// HandleFailure persists the terminal state once the orchestrator gives up.
func (s *Service) HandleFailure(task queue.Task, err error) {
	if ferr := media.MarkTranscriptFailed(task.ID, err.Error()); ferr != nil {
		log.Errorln("recording terminal failure for transcript", task.ID, ":", ferr)
	}
}

// Retry re-submits a transcript that is not currently processing.
func (s *Service) Retry(transcriptID uint) error {
	tr, err := media.GetTranscript(transcriptID)
	if err != nil {
		return err
	}
	if tr.Status == media.TranscriptProcessing {
		return ErrInProgress
	}
	if err := media.ResetTranscript(transcriptID); err != nil {
		return err
	}
	s.Enqueue(transcriptID)
	return nil
}

// RecoverStuck requeues transcriptions interrupted by a restart.
func (s *Service) RecoverStuck() error {
	db := database.Get()

	err := db.Model(&media.Transcript{}).
		Where("status = ?", media.TranscriptProcessing).
		Update("status", media.TranscriptPending).Error
	if err != nil {
		return err
	}

	var ids []uint
	err = db.Model(&media.Transcript{}).
		Where("status = ?", media.TranscriptPending).
		Pluck("id", &ids).Error
	if err != nil {
		return err
	}
	for _, id := range ids {
		log.Infoln("requeueing interrupted transcription", id)
		s.Enqueue(id)
	}
	return nil
}
