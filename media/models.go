package media

import (
	"time"

	"gorm.io/gorm"
)

type ConversionStatus string

const (
	ConversionPending    ConversionStatus = "pending"
	ConversionProcessing ConversionStatus = "processing"
	ConversionCompleted  ConversionStatus = "completed"
	ConversionFailed     ConversionStatus = "failed"
)

type TranscriptStatus string

const (
	TranscriptPending    TranscriptStatus = "pending"
	TranscriptProcessing TranscriptStatus = "processing"
	TranscriptCompleted  TranscriptStatus = "completed"
	TranscriptFailed     TranscriptStatus = "failed"
)

// MaxErrorLen bounds diagnostic text stored in the database.
const MaxErrorLen = 500

type MediaAsset struct {
	gorm.Model
	OwnerID     uint `gorm:"index"`
	Title       string
	Description string

	// seconds; client-declared until re-measured after transcoding
	Duration float64

	OriginalExt   string
	Filename      string // current media file in the data dir
	ThumbFilename string
	Size          int64

	ConversionStatus   ConversionStatus
	ConversionProgress int
	ConversionError    string
	ConvertedAt        *time.Time

	ShareToken string `gorm:"uniqueIndex"`
	IsPublic   bool
}

type Transcript struct {
	gorm.Model
	MediaAssetID uint `gorm:"uniqueIndex"`
	Status       TranscriptStatus
	Language     string
	FullText     string
	ErrorMessage string
	Segments     []TranscriptSegment
}

type TranscriptSegment struct {
	gorm.Model
	TranscriptID uint `gorm:"index"`
	Seq          int
	StartSeconds float64
	EndSeconds   float64
	Text         string
}
