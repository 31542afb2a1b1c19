package sessions_test

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"screencast-site/sessions"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	sessions.Init(logrus.New())
	os.Exit(m.Run())
}

func newStore(t *testing.T) *sessions.Store {
	t.Helper()
	return sessions.NewStore(t.TempDir())
}

func TestAppendAndStatus(t *testing.T) {
	store := newStore(t)

	id, err := store.Start(1, "Demo", "video/webm")
	require.NoError(t, err)

	received, total, err := store.Append(id, 1, 0, bytes.NewReader(make([]byte, 500)))
	require.NoError(t, err)
	assert.Equal(t, 1, received)
	assert.Equal(t, int64(500), total)

	received, total, err = store.Append(id, 1, 1, bytes.NewReader(make([]byte, 300)))
	require.NoError(t, err)
	assert.Equal(t, 2, received)
	assert.Equal(t, int64(800), total)

	info, err := store.Status(id, 1)
	require.NoError(t, err)
	assert.Equal(t, "Demo", info.Title)
	assert.Equal(t, "video/webm", info.MimeType)
	assert.Equal(t, 2, info.ReceivedCount)
	assert.Equal(t, int64(800), info.TotalBytes)
}

func TestAppendReplayOverwrites(t *testing.T) {
	store := newStore(t)

	id, err := store.Start(1, "retry", "video/webm")
	require.NoError(t, err)

	_, _, err = store.Append(id, 1, 0, bytes.NewReader(bytes.Repeat([]byte{'a'}, 500)))
	require.NoError(t, err)

	// a client whose ack was lost resends the same index with the
	// authoritative bytes: the second write must win
	received, total, err := store.Append(id, 1, 0, bytes.NewReader(bytes.Repeat([]byte{'b'}, 300)))
	require.NoError(t, err)
	assert.Equal(t, 1, received)
	assert.Equal(t, int64(300), total)

	dst := filepath.Join(t.TempDir(), "out.webm")
	_, _, assembled, err := store.Complete(id, 1, dst)
	require.NoError(t, err)
	assert.Equal(t, int64(300), assembled)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{'b'}, 300), data)
}

func TestOutOfOrderAssembly(t *testing.T) {
	chunks := [][]byte{
		bytes.Repeat([]byte{'0'}, 10),
		bytes.Repeat([]byte{'1'}, 20),
		bytes.Repeat([]byte{'2'}, 30),
	}

	assemble := func(t *testing.T, order []int) []byte {
		store := newStore(t)
		id, err := store.Start(1, "order", "video/webm")
		require.NoError(t, err)
		for _, idx := range order {
			_, _, err := store.Append(id, 1, idx, bytes.NewReader(chunks[idx]))
			require.NoError(t, err)
		}
		dst := filepath.Join(t.TempDir(), "out.webm")
		_, _, _, err = store.Complete(id, 1, dst)
		require.NoError(t, err)
		data, err := os.ReadFile(dst)
		require.NoError(t, err)
		return data
	}

	inOrder := assemble(t, []int{0, 1, 2})
	outOfOrder := assemble(t, []int{2, 0, 1})
	assert.Equal(t, inOrder, outOfOrder)
}

func TestOwnership(t *testing.T) {
	store := newStore(t)

	id, err := store.Start(1, "mine", "video/webm")
	require.NoError(t, err)

	_, _, err = store.Append(id, 2, 0, bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, sessions.ErrNotOwner)

	_, err = store.Status(id, 2)
	assert.ErrorIs(t, err, sessions.ErrNotOwner)

	err = store.Cancel(id, 2)
	assert.ErrorIs(t, err, sessions.ErrNotOwner)

	_, _, _, err = store.Complete(id, 2, filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, sessions.ErrNotOwner)

	// the real owner still has access
	_, err = store.Status(id, 1)
	assert.NoError(t, err)
}

func TestUnknownSession(t *testing.T) {
	store := newStore(t)

	_, err := store.Status("nope", 1)
	assert.ErrorIs(t, err, sessions.ErrNotFound)

	_, _, err = store.Append("nope", 1, 0, bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, sessions.ErrNotFound)

	assert.ErrorIs(t, store.Cancel("nope", 1), sessions.ErrNotFound)
}

func TestCompleteRejectsGaps(t *testing.T) {
	store := newStore(t)

	id, err := store.Start(1, "gappy", "video/webm")
	require.NoError(t, err)

	_, _, err = store.Append(id, 1, 0, bytes.NewReader([]byte("aa")))
	require.NoError(t, err)
	_, _, err = store.Append(id, 1, 2, bytes.NewReader([]byte("cc")))
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "out.webm")
	_, _, _, err = store.Complete(id, 1, dst)
	assert.ErrorIs(t, err, sessions.ErrPartialUpload)
	assert.NoFileExists(t, dst)

	// the session survives an index gap: the client may still send chunk 1
	_, err = store.Status(id, 1)
	assert.NoError(t, err)
}

func TestAppendDiskFailureAbortsSession(t *testing.T) {
	dir := t.TempDir()
	store := sessions.NewStore(dir)

	id, err := store.Start(1, "doomed", "video/webm")
	require.NoError(t, err)
	_, _, err = store.Append(id, 1, 0, bytes.NewReader([]byte("aa")))
	require.NoError(t, err)

	// losing the chunk directory makes the next write fail
	require.NoError(t, os.RemoveAll(filepath.Join(dir, id)))

	_, _, err = store.Append(id, 1, 1, bytes.NewReader([]byte("bb")))
	require.Error(t, err)

	// the session is unrecoverable: the client has to restart
	_, err = store.Status(id, 1)
	assert.ErrorIs(t, err, sessions.ErrNotFound)
	_, _, _, err = store.Complete(id, 1, filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, sessions.ErrNotFound)
}

func TestCompleteAbortsOnMissingChunkFile(t *testing.T) {
	dir := t.TempDir()
	store := sessions.NewStore(dir)

	id, err := store.Start(1, "halfgone", "video/webm")
	require.NoError(t, err)
	_, _, err = store.Append(id, 1, 0, bytes.NewReader([]byte("aa")))
	require.NoError(t, err)
	_, _, err = store.Append(id, 1, 1, bytes.NewReader([]byte("bb")))
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, id, "chunk_000000")))

	dst := filepath.Join(t.TempDir(), "out.webm")
	_, _, _, err = store.Complete(id, 1, dst)
	assert.ErrorIs(t, err, sessions.ErrPartialUpload)
	assert.NoFileExists(t, dst)

	// unlike an index gap, on-disk loss ends the session: no resend can
	// restore the vanished bytes
	_, err = store.Status(id, 1)
	assert.ErrorIs(t, err, sessions.ErrNotFound)
	assert.NoDirExists(t, filepath.Join(dir, id))
}

func TestCompleteRejectsEmptySession(t *testing.T) {
	store := newStore(t)

	id, err := store.Start(1, "empty", "video/webm")
	require.NoError(t, err)

	_, _, _, err = store.Complete(id, 1, filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, sessions.ErrPartialUpload)
}

func TestCancelRemovesChunkFiles(t *testing.T) {
	dir := t.TempDir()
	store := sessions.NewStore(dir)

	id, err := store.Start(1, "gone", "video/webm")
	require.NoError(t, err)
	_, _, err = store.Append(id, 1, 0, bytes.NewReader([]byte("abc")))
	require.NoError(t, err)

	require.NoError(t, store.Cancel(id, 1))

	assert.NoDirExists(t, filepath.Join(dir, id))
	_, err = store.Status(id, 1)
	assert.ErrorIs(t, err, sessions.ErrNotFound)
}

func TestConcurrentSessionsDoNotInterfere(t *testing.T) {
	store := newStore(t)

	ids := make([]string, 3)
	for i := range ids {
		id, err := store.Start(1, "parallel", "video/webm")
		require.NoError(t, err)
		ids[i] = id
	}

	const chunks = 16
	var wg sync.WaitGroup
	for _, id := range ids {
		for idx := 0; idx < chunks; idx++ {
			wg.Add(1)
			go func(id string, idx int) {
				defer wg.Done()
				_, _, err := store.Append(id, 1, idx, bytes.NewReader(make([]byte, 100)))
				assert.NoError(t, err)
			}(id, idx)
		}
	}
	wg.Wait()

	for _, id := range ids {
		_, _, total, err := store.Complete(id, 1, filepath.Join(t.TempDir(), "out.webm"))
		require.NoError(t, err)
		assert.Equal(t, int64(chunks*100), total)
	}
}

func TestSweepRemovesStaleSessions(t *testing.T) {
	dir := t.TempDir()
	store := sessions.NewStore(dir)

	id, err := store.Start(1, "stale", "video/webm")
	require.NoError(t, err)
	_, _, err = store.Append(id, 1, 0, bytes.NewReader([]byte("abc")))
	require.NoError(t, err)

	// a zero staleness threshold makes everything stale
	removed := store.Sweep(0)
	assert.Equal(t, 1, removed)

	_, err = store.Status(id, 1)
	assert.ErrorIs(t, err, sessions.ErrNotFound)
	assert.NoDirExists(t, filepath.Join(dir, id))

	// fresh sessions survive a real threshold
	id2, err := store.Start(1, "fresh", "video/webm")
	require.NoError(t, err)
	assert.Equal(t, 0, store.Sweep(time.Hour))
	_, err = store.Status(id2, 1)
	assert.NoError(t, err)
}
