package media

import (
	"screencast-site/database"
)

func GetTranscript(id uint) (Transcript, error) {
	var tr Transcript
	err := database.Get().Preload("Segments").First(&tr, "id = ?", id).Error
	return tr, err
}

func GetTranscriptForAsset(assetID uint) (Transcript, error) {
	var tr Transcript
	err := database.Get().Preload("Segments").First(&tr, "media_asset_id = ?", assetID).Error
	return tr, err
}

// CreateTranscript makes the pending 1:1 transcript row for an asset. If one
// already exists (transcode retry) the existing row is returned untouched.
func CreateTranscript(assetID uint) (Transcript, error) {
	db := database.Get()
	var tr Transcript
	err := db.First(&tr, "media_asset_id = ?", assetID).Error
	if err == nil {
		return tr, nil
	}
	tr = Transcript{MediaAssetID: assetID, Status: TranscriptPending}
	err = db.Create(&tr).Error
	return tr, err
}

func SetTranscriptStatus(id uint, status TranscriptStatus) error {
	db := database.Get()
	log.Debugln("transcript", id, "status ->", status)
	return db.Model(&Transcript{}).Where("id = ?", id).Update("status", status).Error
}

func MarkTranscriptFailed(id uint, msg string) error {
	db := database.Get()
	log.Errorln("transcript", id, "failed:", msg)
	return db.Model(&Transcript{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        TranscriptFailed,
		"error_message": Truncate(msg, MaxErrorLen),
	}).Error
}

func ResetTranscript(id uint) error {
	db := database.Get()
	return db.Model(&Transcript{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        TranscriptPending,
		"error_message": "",
	}).Error
}

// StoreTranscription replaces any previous result for the transcript with the
// provider's latest answer and marks it completed.
func StoreTranscription(id uint, language, fullText string, segments []TranscriptSegment) error {
	db := database.Get()

	if err := db.Where("transcript_id = ?", id).Delete(&TranscriptSegment{}).Error; err != nil {
		return err
	}
	for i := range segments {
		segments[i].TranscriptID = id
		segments[i].Seq = i
	}
	if len(segments) > 0 {
		if err := db.Create(&segments).Error; err != nil {
			return err
		}
	}
	return db.Model(&Transcript{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        TranscriptCompleted,
		"language":      language,
		"full_text":     fullText,
		"error_message": "",
	}).Error
}
