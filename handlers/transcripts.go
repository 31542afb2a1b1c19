package handlers

import (
	"errors"
	"net/http"

	"screencast-site/media"
	"screencast-site/transcribe"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

type segmentView struct {
	Seq          int     `json:"seq"`
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
	Text         string  `json:"text"`
}

func (h *Handler) GetTranscript(c echo.Context) error {
	asset, err := h.ownedAsset(c)
	if err != nil {
		return assetError(c, err)
	}

	tr, err := media.GetTranscriptForAsset(asset.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "no transcript"})
		}
		log.Errorln("transcript lookup for asset", asset.ID, ":", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
	}

	segments := make([]segmentView, 0, len(tr.Segments))
	for _, seg := range tr.Segments {
		segments = append(segments, segmentView{
			Seq:          seg.Seq,
			StartSeconds: seg.StartSeconds,
			EndSeconds:   seg.EndSeconds,
			Text:         seg.Text,
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":        tr.Status,
		"language":      tr.Language,
		"full_text":     tr.FullText,
		"segments":      segments,
		"error_message": tr.ErrorMessage,
	})
}

func (h *Handler) RetryTranscript(c echo.Context) error {
	asset, err := h.ownedAsset(c)
	if err != nil {
		return assetError(c, err)
	}

	tr, err := media.GetTranscriptForAsset(asset.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "no transcript"})
		}
		log.Errorln("transcript lookup for asset", asset.ID, ":", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
	}

	if err := h.scribe.Retry(tr.ID); err != nil {
		if errors.Is(err, transcribe.ErrInProgress) {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		log.Errorln("retrying transcript", tr.ID, ":", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "retry failed"})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}
