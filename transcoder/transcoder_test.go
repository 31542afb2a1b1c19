package transcoder_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"screencast-site/database"
	"screencast-site/media"
	"screencast-site/queue"
	"screencast-site/thumbs"
	"screencast-site/transcoder"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	l := logrus.New()
	media.Init(l)
	thumbs.Init(l)
	transcoder.Init(l)
	os.Exit(m.Run())
}

type fakeEncoder struct {
	transcodeErr  error
	clipErr       error
	duration      float64
	progress      []int
	afterProgress func()
	transcodes    int
	clips         int
}

func (f *fakeEncoder) Transcode(ctx context.Context, src, dst string, duration float64, onProgress func(int)) error {
	f.transcodes++
	if f.transcodeErr != nil {
		return f.transcodeErr
	}
	for _, p := range f.progress {
		onProgress(p)
		if f.afterProgress != nil {
			f.afterProgress()
		}
	}
	return os.WriteFile(dst, []byte("converted"), 0600)
}

func (f *fakeEncoder) Clip(ctx context.Context, src, dst string, from, to float64) error {
	f.clips++
	if f.clipErr != nil {
		return f.clipErr
	}
	return os.WriteFile(dst, []byte("clipped"), 0600)
}

func (f *fakeEncoder) Duration(path string) (float64, error) {
	return f.duration, nil
}

type fakeExtractor struct {
	fail  bool
	calls int
}

func (f *fakeExtractor) ExtractFrame(src, dst string, at float64) error {
	f.calls++
	if f.fail {
		return errors.New("no frame")
	}
	return os.WriteFile(dst, []byte("jpg"), 0600)
}

type fakeQueue struct {
	tasks []queue.Task
}

func (f *fakeQueue) Enqueue(task queue.Task) {
	f.tasks = append(f.tasks, task)
}

type fixture struct {
	dataDir string
	enc     *fakeEncoder
	ext     *fakeExtractor
	q       *fakeQueue
	trans   *transcoder.Transcoder
}

func setup(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&media.MediaAsset{}, &media.Transcript{}, &media.TranscriptSegment{}))
	database.Init(db, logrus.New())

	enc := &fakeEncoder{duration: 8}
	ext := &fakeExtractor{}
	q := &fakeQueue{}
	return &fixture{
		dataDir: dir,
		enc:     enc,
		ext:     ext,
		q:       q,
		trans:   transcoder.New(enc, q, thumbs.NewGenerator(ext, dir), dir),
	}
}

func (fx *fixture) createAsset(t *testing.T, filename, content string, duration float64,
	status media.ConversionStatus) media.MediaAsset {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(fx.dataDir, filename), []byte(content), 0600))
	asset := media.MediaAsset{
		OwnerID:          1,
		Title:            "Demo",
		Duration:         duration,
		Filename:         filename,
		OriginalExt:      "webm",
		ConversionStatus: status,
		ShareToken:       media.NewShareToken(),
	}
	require.NoError(t, database.Get().Create(&asset).Error)
	return asset
}

func TestProcessSuccess(t *testing.T) {
	fx := setup(t)
	fx.enc.progress = []int{30, 60, 95}
	asset := fx.createAsset(t, "raw.webm", "raw bytes", 10, media.ConversionPending)

	err := fx.trans.Process(context.Background(), queue.Task{Kind: queue.KindTranscode, ID: asset.ID})
	require.NoError(t, err)

	got, err := media.GetAsset(asset.ID)
	require.NoError(t, err)
	assert.Equal(t, media.ConversionCompleted, got.ConversionStatus)
	assert.Equal(t, 100, got.ConversionProgress)
	require.NotNil(t, got.ConvertedAt)
	assert.Empty(t, got.ConversionError)

	// media replaced, old file discarded, duration re-measured
	assert.NotEqual(t, "raw.webm", got.Filename)
	assert.FileExists(t, filepath.Join(fx.dataDir, got.Filename))
	assert.NoFileExists(t, filepath.Join(fx.dataDir, "raw.webm"))
	assert.Equal(t, 8.0, got.Duration)

	// thumbnail refreshed from the converted file
	assert.NotEmpty(t, got.ThumbFilename)
	assert.FileExists(t, filepath.Join(fx.dataDir, got.ThumbFilename))

	// transcription chained
	tr, err := media.GetTranscriptForAsset(asset.ID)
	require.NoError(t, err)
	assert.Equal(t, media.TranscriptPending, tr.Status)
	require.Len(t, fx.q.tasks, 1)
	assert.Equal(t, queue.KindTranscribe, fx.q.tasks[0].Kind)
	assert.Equal(t, tr.ID, fx.q.tasks[0].ID)
}

func TestProgressMonotonic(t *testing.T) {
	fx := setup(t)
	// a stale or out-of-order report must never move progress backwards
	fx.enc.progress = []int{30, 20, 60, 50}
	asset := fx.createAsset(t, "raw.webm", "raw bytes", 10, media.ConversionPending)

	var observed []int
	fx.enc.afterProgress = func() {
		got, err := media.GetAsset(asset.ID)
		require.NoError(t, err)
		observed = append(observed, got.ConversionProgress)
	}

	err := fx.trans.Process(context.Background(), queue.Task{Kind: queue.KindTranscode, ID: asset.ID})
	require.NoError(t, err)

	assert.Equal(t, []int{30, 30, 60, 60}, observed)
}

func TestProcessFailureIsRetryable(t *testing.T) {
	fx := setup(t)
	fx.enc.transcodeErr = errors.New("encoder exploded")
	asset := fx.createAsset(t, "raw.webm", "raw bytes", 10, media.ConversionPending)

	err := fx.trans.Process(context.Background(), queue.Task{Kind: queue.KindTranscode, ID: asset.ID})
	require.Error(t, err)

	// mid-retry the status stays processing; only the orchestrator's
	// terminal handler flips it to failed
	got, err := media.GetAsset(asset.ID)
	require.NoError(t, err)
	assert.Equal(t, media.ConversionProcessing, got.ConversionStatus)
	assert.Equal(t, "raw.webm", got.Filename)
	assert.FileExists(t, filepath.Join(fx.dataDir, "raw.webm"))
}

func TestHandleFailureTruncatesError(t *testing.T) {
	fx := setup(t)
	asset := fx.createAsset(t, "raw.webm", "raw bytes", 10, media.ConversionProcessing)

	long := ""
	for i := 0; i < 100; i++ {
		long += fmt.Sprintf("line %d of encoder stderr ", i)
	}
	fx.trans.HandleFailure(queue.Task{Kind: queue.KindTranscode, ID: asset.ID}, errors.New(long))

	got, err := media.GetAsset(asset.ID)
	require.NoError(t, err)
	assert.Equal(t, media.ConversionFailed, got.ConversionStatus)
	assert.LessOrEqual(t, len(got.ConversionError), media.MaxErrorLen)
	assert.NotEmpty(t, got.ConversionError)
}

func TestRetryResetsCleanly(t *testing.T) {
	fx := setup(t)
	asset := fx.createAsset(t, "raw.webm", "raw bytes", 10, media.ConversionFailed)
	require.NoError(t, database.Get().Model(&media.MediaAsset{}).Where("id = ?", asset.ID).
		Updates(map[string]interface{}{
			"conversion_progress": 80,
			"conversion_error":    "previous failure",
		}).Error)

	require.NoError(t, fx.trans.Retry(asset.ID))

	got, err := media.GetAsset(asset.ID)
	require.NoError(t, err)
	assert.Equal(t, media.ConversionPending, got.ConversionStatus)
	assert.Equal(t, 0, got.ConversionProgress)
	assert.Empty(t, got.ConversionError)
	assert.Nil(t, got.ConvertedAt)

	require.Len(t, fx.q.tasks, 1)
	assert.Equal(t, queue.KindTranscode, fx.q.tasks[0].Kind)
	assert.Equal(t, asset.ID, fx.q.tasks[0].ID)
}

func TestRetryRejectsNonFailed(t *testing.T) {
	fx := setup(t)
	asset := fx.createAsset(t, "raw.webm", "raw bytes", 10, media.ConversionCompleted)

	err := fx.trans.Retry(asset.ID)
	assert.ErrorIs(t, err, transcoder.ErrNotRetryable)
	assert.Empty(t, fx.q.tasks)
}

func TestFaststartSkipsEncode(t *testing.T) {
	fx := setup(t)
	// mp4 header with the moov box ahead of mdat
	content := "\x00\x00\x00\x18ftypmp42moov....mdat...."
	asset := fx.createAsset(t, "ready.mp4", content, 10, media.ConversionPending)

	err := fx.trans.Process(context.Background(), queue.Task{Kind: queue.KindTranscode, ID: asset.ID})
	require.NoError(t, err)

	assert.Equal(t, 0, fx.enc.transcodes, "seek-optimized input must not be re-encoded")

	got, err := media.GetAsset(asset.ID)
	require.NoError(t, err)
	assert.Equal(t, media.ConversionCompleted, got.ConversionStatus)
	assert.Equal(t, "ready.mp4", got.Filename)
	require.Len(t, fx.q.tasks, 1)
	assert.Equal(t, queue.KindTranscribe, fx.q.tasks[0].Kind)
}

func TestProcessDeletedAssetIsTerminal(t *testing.T) {
	fx := setup(t)

	err := fx.trans.Process(context.Background(), queue.Task{Kind: queue.KindTranscode, ID: 999})
	require.Error(t, err)
	// deleted-while-queued must not burn retry attempts
	assert.True(t, queue.IsNonRetryable(err))
}

func TestRecoverStuck(t *testing.T) {
	fx := setup(t)
	stuck := fx.createAsset(t, "stuck.webm", "bytes", 10, media.ConversionProcessing)
	pending := fx.createAsset(t, "pending.webm", "bytes", 10, media.ConversionPending)
	done := fx.createAsset(t, "done.mp4", "bytes", 10, media.ConversionCompleted)

	require.NoError(t, fx.trans.RecoverStuck())

	got, err := media.GetAsset(stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, media.ConversionPending, got.ConversionStatus)
	assert.Equal(t, 0, got.ConversionProgress)

	ids := make(map[uint]bool)
	for _, task := range fx.q.tasks {
		assert.Equal(t, queue.KindTranscode, task.Kind)
		ids[task.ID] = true
	}
	assert.True(t, ids[stuck.ID])
	assert.True(t, ids[pending.ID])
	assert.False(t, ids[done.ID])
}
