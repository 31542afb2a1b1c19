package main

import (
	golog "log"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"screencast-site/config"
	"screencast-site/database"
	"screencast-site/ffmpeg"
	"screencast-site/handlers"
	"screencast-site/media"
	"screencast-site/queue"
	"screencast-site/sessions"
	"screencast-site/thumbs"
	"screencast-site/transcoder"
	"screencast-site/transcribe"
)

var db *gorm.DB

func main() {

	initLogger()

	log.Infof("GitSHA: %s", config.GetGitSHA())
	log.Infof("BuildDate: %s", config.GetBuildDate())

	ffmpeg.Init(log)
	media.Init(log)
	sessions.Init(log)
	queue.Init(log)
	transcoder.Init(log)
	thumbs.Init(log)
	transcribe.Init(log)
	handlers.Init(log)

	gormLogger := logger.New(
		golog.New(os.Stdout, "\r\n", golog.LstdFlags), // io writer
		logger.Config{
			SlowThreshold:             time.Second, // Slow SQL threshold
			LogLevel:                  logger.Warn, // Log level
			IgnoreRecordNotFoundError: true,        // Ignore ErrRecordNotFound error for logger
			ParameterizedQueries:      true,        // Don't include params in the SQL log
			Colorful:                  false,       // Disable color
		},
	)

	for _, dir := range []string{config.GetDataDir(), config.GetConfigDir(), config.GetChunkDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			log.Panicf("failed to create dir %s", dir)
		}
	}

	// Initialize database
	dbPath := filepath.Join(config.GetConfigDir(), "videos.db")
	var err error
	db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		log.Panicf("failed to connect to database %s", dbPath)
	}

	// set only a single connection so we don't actually have concurrent writes
	sqlDB, err := db.DB()
	if err != nil {
		log.Panicln("failed to retrieve database")
	}
	sqlDB.SetMaxOpenConns(1)

	// Migrate the schema
	db.AutoMigrate(&media.MediaAsset{}, &media.Transcript{}, &media.TranscriptSegment{})

	database.Init(db, log)
	defer database.Fini()

	// assemble the pipeline
	dataDir := config.GetDataDir()
	store := sessions.NewStore(config.GetChunkDir())
	tool := ffmpeg.New()
	gen := thumbs.NewGenerator(tool, dataDir)

	opts := queue.DefaultOptions()
	opts.Workers = config.GetWorkerCount()
	dispatcher := queue.NewDispatcher(opts)

	trans := transcoder.New(tool, dispatcher, gen, dataDir)
	scribe := transcribe.NewService(
		transcribe.NewHTTPClient(config.GetTranscribeURL(), config.GetTranscribeToken()),
		dispatcher, dataDir)

	dispatcher.Register(queue.KindTranscode, trans.Process, trans.HandleFailure)
	dispatcher.Register(queue.KindTranscribe, scribe.Process, scribe.HandleFailure)
	dispatcher.Start()

	// pick up whatever a previous process left behind
	if err := trans.RecoverStuck(); err != nil {
		log.Errorln("recovering conversions:", err)
	}
	if err := scribe.RecoverStuck(); err != nil {
		log.Errorln("recovering transcriptions:", err)
	}

	go PeriodicCleanup(store)

	h := handlers.New(store, trans, scribe, gen, dataDir)

	// Initialize Echo
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Routes
	api := e.Group("/api", handlers.OwnerMiddleware)
	api.POST("/sessions", h.StartSession)
	api.PUT("/sessions/:id/chunks/:index", h.AppendChunk)
	api.GET("/sessions/:id", h.SessionStatus)
	api.DELETE("/sessions/:id", h.CancelSession)
	api.POST("/sessions/:id/complete", h.CompleteSession)

	api.GET("/videos", h.ListVideos)
	api.GET("/videos/:id", h.GetVideo)
	api.DELETE("/videos/:id", h.DeleteVideo)
	api.GET("/videos/:id/status", h.ConversionStatus)
	api.POST("/videos/:id/retry", h.RetryConversion)
	api.POST("/videos/:id/trim", h.TrimVideo)
	api.GET("/videos/:id/stream", h.StreamVideo)
	api.GET("/videos/:id/thumbnail", h.Thumbnail)
	api.PATCH("/videos/:id/visibility", h.SetVisibility)
	api.POST("/videos/:id/share/rotate", h.RotateShareToken)
	api.GET("/videos/:id/transcript", h.GetTranscript)
	api.POST("/videos/:id/transcript/retry", h.RetryTranscript)

	e.GET("/v/:token", h.SharedStream)
	e.GET("/status", h.ServiceStatus)

	// Start server
	e.Logger.Fatal(e.Start(":8080"))
}
