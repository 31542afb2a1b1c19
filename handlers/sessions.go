package handlers

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"screencast-site/database"
	"screencast-site/media"
	"screencast-site/sessions"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type startSessionRequest struct {
	Title    string `json:"title"`
	MimeType string `json:"mime_type"`
}

func (h *Handler) StartSession(c echo.Context) error {
	var req startSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request"})
	}
	if req.Title == "" {
		req.Title = "Untitled recording"
	}

	id, err := h.store.Start(ownerID(c), req.Title, req.MimeType)
	if err != nil {
		log.Errorln("starting session:", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not start session"})
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) AppendChunk(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad chunk index"})
	}

	received, total, err := h.store.Append(c.Param("id"), ownerID(c), index, c.Request().Body)
	if err != nil {
		return sessionError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"received_count": received,
		"total_bytes":    total,
	})
}

func (h *Handler) SessionStatus(c echo.Context) error {
	info, err := h.store.Status(c.Param("id"), ownerID(c))
	if err != nil {
		return sessionError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

func (h *Handler) CancelSession(c echo.Context) error {
	if err := h.store.Cancel(c.Param("id"), ownerID(c)); err != nil {
		return sessionError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type completeSessionRequest struct {
	Duration float64 `json:"duration"`
}

// CompleteSession assembles the chunks into the durable MediaAsset, takes a
// first best-effort thumbnail, and queues the conversion.
func (h *Handler) CompleteSession(c echo.Context) error {
	var req completeSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request"})
	}

	id := c.Param("id")
	owner := ownerID(c)

	info, err := h.store.Status(id, owner)
	if err != nil {
		return sessionError(c, err)
	}

	ext := extForMime(info.MimeType)
	dstName := uuid.Must(uuid.NewV7()).String() + ext
	dstPath := filepath.Join(h.dataDir, dstName)

	title, _, total, err := h.store.Complete(id, owner, dstPath)
	if err != nil {
		return sessionError(c, err)
	}

	asset := media.MediaAsset{
		OwnerID:          owner,
		Title:            title,
		Duration:         req.Duration,
		OriginalExt:      strings.TrimPrefix(ext, "."),
		Filename:         dstName,
		Size:             total,
		ConversionStatus: media.ConversionPending,
		ShareToken:       media.NewShareToken(),
	}
	if err := database.Get().Create(&asset).Error; err != nil {
		log.Errorln("creating asset from session", id, ":", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not create asset"})
	}

	// a thumbnail failure must not fail the upload
	h.thumbs.Refresh(asset.ID)

	h.trans.Enqueue(asset.ID)

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"id":                asset.ID,
		"title":             asset.Title,
		"size":              asset.Size,
		"conversion_status": asset.ConversionStatus,
		"share_token":       asset.ShareToken,
	})
}

func sessionError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no such session"})
	case errors.Is(err, sessions.ErrNotOwner):
		return c.JSON(http.StatusForbidden, map[string]string{"error": "not your session"})
	case errors.Is(err, sessions.ErrBadIndex):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, sessions.ErrPartialUpload):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		log.Errorln("session operation:", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "session operation failed"})
	}
}

// extForMime picks a container extension for the assembled file from the
// session's declared mime type. Screen recorders overwhelmingly send webm.
func extForMime(mimeType string) string {
	// drop any codecs parameter, e.g. "video/webm;codecs=vp9"
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	switch strings.TrimSpace(strings.ToLower(mimeType)) {
	case "video/mp4":
		return ".mp4"
	case "video/ogg":
		return ".ogv"
	case "video/x-matroska":
		return ".mkv"
	case "video/quicktime":
		return ".mov"
	default:
		return ".webm"
	}
}
