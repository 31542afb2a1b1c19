package handlers

import (
	"screencast-site/sessions"
	"screencast-site/thumbs"
	"screencast-site/transcoder"
	"screencast-site/transcribe"
)

// Handler holds the pipeline components behind the HTTP surface. Everything
// arrives by constructor so tests can substitute fakes.
type Handler struct {
	store   *sessions.Store
	trans   *transcoder.Transcoder
	scribe  *transcribe.Service
	thumbs  *thumbs.Generator
	dataDir string
}

func New(store *sessions.Store, trans *transcoder.Transcoder, scribe *transcribe.Service,
	gen *thumbs.Generator, dataDir string) *Handler {
	return &Handler{
		store:   store,
		trans:   trans,
		scribe:  scribe,
		thumbs:  gen,
		dataDir: dataDir,
	}
}
