package media

import (
	"time"
	"unicode/utf8"

	"screencast-site/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func NewShareToken() string {
	return uuid.NewString()
}

func GetAsset(id uint) (MediaAsset, error) {
	var asset MediaAsset
	err := database.Get().First(&asset, "id = ?", id).Error
	return asset, err
}

func SetConversionStatus(id uint, status ConversionStatus) error {
	db := database.Get()
	log.Debugln("asset", id, "conversion status ->", status)
	return db.Model(&MediaAsset{}).Where("id = ?", id).Update("conversion_status", status).Error
}

// SetProgress only ever moves progress forward. A stale writer racing a
// retry can't walk the value backwards within an attempt.
func SetProgress(id uint, progress int) error {
	db := database.Get()
	return db.Model(&MediaAsset{}).
		Where("id = ? AND conversion_progress < ?", id, progress).
		Update("conversion_progress", progress).Error
}

func MarkConverted(id uint) error {
	db := database.Get()
	now := time.Now()
	log.Debugln("asset", id, "conversion completed")
	return db.Model(&MediaAsset{}).Where("id = ?", id).Updates(map[string]interface{}{
		"conversion_status":   ConversionCompleted,
		"conversion_progress": 100,
		"conversion_error":    "",
		"converted_at":        &now,
	}).Error
}

func MarkConversionFailed(id uint, msg string) error {
	db := database.Get()
	log.Errorln("asset", id, "conversion failed:", msg)
	return db.Model(&MediaAsset{}).Where("id = ?", id).Updates(map[string]interface{}{
		"conversion_status": ConversionFailed,
		"conversion_error":  Truncate(msg, MaxErrorLen),
	}).Error
}

// ResetConversion puts a failed asset back to a clean pending state ahead of
// a user-triggered retry.
func ResetConversion(id uint) error {
	db := database.Get()
	return db.Model(&MediaAsset{}).Where("id = ?", id).Updates(map[string]interface{}{
		"conversion_status":   ConversionPending,
		"conversion_progress": 0,
		"conversion_error":    "",
		"converted_at":        gorm.Expr("NULL"),
	}).Error
}

// ReplaceFile swaps in a new media file for the asset, refreshing size and
// duration in the same write.
func ReplaceFile(id uint, filename string, size int64, duration float64) error {
	db := database.Get()
	return db.Model(&MediaAsset{}).Where("id = ?", id).Updates(map[string]interface{}{
		"filename": filename,
		"size":     size,
		"duration": duration,
	}).Error
}

func SetThumb(id uint, filename string) error {
	db := database.Get()
	return db.Model(&MediaAsset{}).Where("id = ?", id).Update("thumb_filename", filename).Error
}

func RotateShareToken(id uint) (string, error) {
	db := database.Get()
	token := NewShareToken()
	err := db.Model(&MediaAsset{}).Where("id = ?", id).Update("share_token", token).Error
	return token, err
}

// Truncate bounds s to at most n bytes, keeping the tail, which for
// subprocess output is where the useful diagnostics live. A cut landing
// inside a multi-byte rune drops the partial rune.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	return s
}
