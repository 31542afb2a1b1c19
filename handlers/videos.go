package handlers

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"screencast-site/database"
	"screencast-site/media"
	"screencast-site/transcoder"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// ownedAsset fetches the asset scoped to the calling owner.
func (h *Handler) ownedAsset(c echo.Context) (media.MediaAsset, error) {
	id, _ := strconv.ParseUint(c.Param("id"), 10, 32)
	var asset media.MediaAsset
	err := database.Get().
		Where("id = ? AND owner_id = ?", id, ownerID(c)).
		First(&asset).Error
	return asset, err
}

func (h *Handler) ListVideos(c echo.Context) error {
	var assets []media.MediaAsset
	if err := database.Get().Where("owner_id = ?", ownerID(c)).Find(&assets).Error; err != nil {
		log.Errorln("listing assets:", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not list videos"})
	}
	return c.JSON(http.StatusOK, assets)
}

func (h *Handler) GetVideo(c echo.Context) error {
	asset, err := h.ownedAsset(c)
	if err != nil {
		return assetError(c, err)
	}
	return c.JSON(http.StatusOK, asset)
}

// DeleteVideo removes the asset, its media and thumbnail files, and any
// derived transcript.
func (h *Handler) DeleteVideo(c echo.Context) error {
	asset, err := h.ownedAsset(c)
	if err != nil {
		return assetError(c, err)
	}

	db := database.Get()

	for _, name := range []string{asset.Filename, asset.ThumbFilename} {
		if name == "" {
			continue
		}
		path := filepath.Join(h.dataDir, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Errorln("removing", path, ":", err)
		}
	}

	var tr media.Transcript
	if err := db.First(&tr, "media_asset_id = ?", asset.ID).Error; err == nil {
		db.Where("transcript_id = ?", tr.ID).Delete(&media.TranscriptSegment{})
		db.Delete(&tr)
	}
	db.Delete(&asset)

	return c.NoContent(http.StatusNoContent)
}

// ConversionStatus is the polling read model: a pure projection of the
// asset's durably-committed conversion fields.
func (h *Handler) ConversionStatus(c echo.Context) error {
	asset, err := h.ownedAsset(c)
	if err != nil {
		return assetError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversion_status":   asset.ConversionStatus,
		"conversion_progress": asset.ConversionProgress,
		"conversion_error":    asset.ConversionError,
		"converted_at":        asset.ConvertedAt,
	})
}

func (h *Handler) RetryConversion(c echo.Context) error {
	asset, err := h.ownedAsset(c)
	if err != nil {
		return assetError(c, err)
	}
	if err := h.trans.Retry(asset.ID); err != nil {
		if errors.Is(err, transcoder.ErrNotRetryable) {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		log.Errorln("retrying conversion for asset", asset.ID, ":", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "retry failed"})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}

type trimRequest struct {
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
}

func (h *Handler) TrimVideo(c echo.Context) error {
	asset, err := h.ownedAsset(c)
	if err != nil {
		return assetError(c, err)
	}

	var req trimRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request"})
	}

	err = h.trans.Trim(c.Request().Context(), asset.ID, req.StartSeconds, req.EndSeconds)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]string{"status": "trimmed"})
	case errors.Is(err, transcoder.ErrBadBounds):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, transcoder.ErrBusy):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		log.Errorln("trimming asset", asset.ID, ":", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "trim failed"})
	}
}

// StreamVideo serves the media file; echo's file serving honors range
// requests so playback can seek.
func (h *Handler) StreamVideo(c echo.Context) error {
	asset, err := h.ownedAsset(c)
	if err != nil {
		return assetError(c, err)
	}
	return c.File(filepath.Join(h.dataDir, asset.Filename))
}

func (h *Handler) Thumbnail(c echo.Context) error {
	asset, err := h.ownedAsset(c)
	if err != nil {
		return assetError(c, err)
	}
	if asset.ThumbFilename == "" {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no thumbnail"})
	}
	return c.File(filepath.Join(h.dataDir, asset.ThumbFilename))
}

type visibilityRequest struct {
	IsPublic bool `json:"is_public"`
}

func (h *Handler) SetVisibility(c echo.Context) error {
	asset, err := h.ownedAsset(c)
	if err != nil {
		return assetError(c, err)
	}
	var req visibilityRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request"})
	}
	if err := database.Get().Model(&media.MediaAsset{}).
		Where("id = ?", asset.ID).
		Update("is_public", req.IsPublic).Error; err != nil {
		log.Errorln("updating visibility for asset", asset.ID, ":", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "update failed"})
	}
	return c.JSON(http.StatusOK, map[string]bool{"is_public": req.IsPublic})
}

// RotateShareToken invalidates every previously shared link immediately.
func (h *Handler) RotateShareToken(c echo.Context) error {
	asset, err := h.ownedAsset(c)
	if err != nil {
		return assetError(c, err)
	}
	token, err := media.RotateShareToken(asset.ID)
	if err != nil {
		log.Errorln("rotating share token for asset", asset.ID, ":", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "rotate failed"})
	}
	return c.JSON(http.StatusOK, map[string]string{"share_token": token})
}

// SharedStream is the unauthenticated share-link endpoint: valid token plus
// public flag, or nothing.
func (h *Handler) SharedStream(c echo.Context) error {
	var asset media.MediaAsset
	err := database.Get().
		Where("share_token = ? AND is_public = ?", c.Param("token"), true).
		First(&asset).Error
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "invalid share link"})
	}
	return c.File(filepath.Join(h.dataDir, asset.Filename))
}

func assetError(c echo.Context, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no such video"})
	}
	log.Errorln("asset lookup:", err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
}
