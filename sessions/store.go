package sessions

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ChunkInfo struct {
	Size       int64
	ReceivedAt time.Time
}

// Session is the in-memory record of one in-progress chunked recording. It
// is never persisted: a restart orphans the chunk directory, which the
// sweeper later removes.
//
// Each session carries its own lock so disk I/O on one session never stalls
// another. The closed flag marks a session consumed or aborted while a
// caller still holds its pointer.
type Session struct {
	mu           sync.Mutex
	ID           string
	OwnerID      uint
	Title        string
	MimeType     string
	CreatedAt    time.Time
	LastActivity time.Time
	Chunks       map[int]ChunkInfo
	TotalBytes   int64
	closed       bool
}

// Info is the read-model snapshot handed to status polls.
type Info struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	MimeType      string    `json:"mime_type"`
	ReceivedCount int       `json:"received_count"`
	TotalBytes    int64     `json:"total_bytes"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
}

// Store accepts streamed binary chunks for live recording sessions and
// assembles them on completion. Chunk bytes live on disk under a
// session-scoped directory; sequence metadata lives in memory.
//
// Lock order: the store mutex only guards the session map and is only ever
// taken alone or inside a held session lock, never the other way around.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	dir      string
}

func NewStore(dir string) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		dir:      dir,
	}
}

func (s *Store) Start(ownerID uint, title, mimeType string) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()

	if err := os.MkdirAll(filepath.Join(s.dir, id), 0700); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}

	now := time.Now()
	s.mu.Lock()
	s.sessions[id] = &Session{
		ID:           id,
		OwnerID:      ownerID,
		Title:        title,
		MimeType:     mimeType,
		CreatedAt:    now,
		LastActivity: now,
		Chunks:       make(map[int]ChunkInfo),
	}
	s.mu.Unlock()

	log.Debugln("session", id, "started for owner", ownerID)
	return id, nil
}

func (s *Store) lookup(id string, ownerID uint) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	// OwnerID is immutable after Start
	if sess.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return sess, nil
}

// Append writes one chunk. Replays of an index the client already sent
// overwrite the previous bytes, so a retried chunk whose ack was lost does
// not corrupt the byte totals. A disk write failure aborts the whole
// session: the client has to restart.
func (s *Store) Append(id string, ownerID uint, index int, r io.Reader) (int, int64, error) {
	if index < 0 {
		return 0, 0, ErrBadIndex
	}

	sess, err := s.lookup(id, ownerID)
	if err != nil {
		return 0, 0, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return 0, 0, ErrNotFound
	}

	path := s.chunkPath(id, index)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		s.abort(sess)
		return 0, 0, fmt.Errorf("open chunk file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.abort(sess)
		return 0, 0, fmt.Errorf("write chunk %d: %w", index, err)
	}

	if old, ok := sess.Chunks[index]; ok {
		sess.TotalBytes -= old.Size
	}
	sess.Chunks[index] = ChunkInfo{Size: n, ReceivedAt: time.Now()}
	sess.TotalBytes += n
	sess.LastActivity = time.Now()

	return len(sess.Chunks), sess.TotalBytes, nil
}

func (s *Store) Status(id string, ownerID uint) (Info, error) {
	sess, err := s.lookup(id, ownerID)
	if err != nil {
		return Info{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return Info{}, ErrNotFound
	}
	return Info{
		ID:            sess.ID,
		Title:         sess.Title,
		MimeType:      sess.MimeType,
		ReceivedCount: len(sess.Chunks),
		TotalBytes:    sess.TotalBytes,
		CreatedAt:     sess.CreatedAt,
		LastActivity:  sess.LastActivity,
	}, nil
}

// Cancel synchronously removes the session and its partial chunk files.
func (s *Store) Cancel(id string, ownerID uint) error {
	sess, err := s.lookup(id, ownerID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return ErrNotFound
	}
	s.abort(sess)
	return nil
}

// Complete assembles the session's chunks, ordered strictly by numeric
// index, into a single file at dstPath and consumes the session. The chunks
// carry no framing, so concatenation is only valid because the client
// chunked one continuous container stream. Returns (title, mimeType,
// totalBytes).
func (s *Store) Complete(id string, ownerID uint, dstPath string) (string, string, int64, error) {
	sess, err := s.lookup(id, ownerID)
	if err != nil {
		return "", "", 0, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return "", "", 0, ErrNotFound
	}

	indices := make([]int, 0, len(sess.Chunks))
	for idx := range sess.Chunks {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	// reassembly needs indices contiguous from 0
	for i, idx := range indices {
		if idx != i {
			return "", "", 0, ErrPartialUpload
		}
	}
	if len(indices) == 0 {
		return "", "", 0, ErrPartialUpload
	}

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", "", 0, fmt.Errorf("open assembly target: %w", err)
	}

	var total int64
	for _, idx := range indices {
		src, err := os.Open(s.chunkPath(id, idx))
		if err != nil {
			dst.Close()
			os.Remove(dstPath)
			log.Errorln("session", id, "chunk", idx, "missing at assembly:", err)
			// the on-disk state is broken, the client has to restart
			s.abort(sess)
			return "", "", 0, ErrPartialUpload
		}
		n, err := io.Copy(dst, src)
		src.Close()
		if err != nil {
			dst.Close()
			os.Remove(dstPath)
			return "", "", 0, fmt.Errorf("assemble chunk %d: %w", idx, err)
		}
		total += n
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return "", "", 0, err
	}

	title, mimeType := sess.Title, sess.MimeType
	s.abort(sess)

	log.Infoln("session", id, "assembled", total, "bytes from", len(indices), "chunks")
	return title, mimeType, total, nil
}

// Sweep removes sessions with no chunk activity past the staleness
// threshold. Returns how many were removed.
func (s *Store) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	candidates := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		candidates = append(candidates, sess)
	}
	s.mu.Unlock()

	removed := 0
	for _, sess := range candidates {
		sess.mu.Lock()
		if !sess.closed && sess.LastActivity.Before(cutoff) {
			log.Infoln("sweeping stale session", sess.ID)
			s.abort(sess)
			removed++
		}
		sess.mu.Unlock()
	}
	return removed
}

// abort must be called with sess.mu held.
func (s *Store) abort(sess *Session) {
	sess.closed = true
	s.mu.Lock()
	delete(s.sessions, sess.ID)
	s.mu.Unlock()
	if err := os.RemoveAll(filepath.Join(s.dir, sess.ID)); err != nil {
		log.Errorln("removing session dir for", sess.ID, ":", err)
	}
}

func (s *Store) chunkPath(id string, index int) string {
	return filepath.Join(s.dir, id, fmt.Sprintf("chunk_%06d", index))
}
