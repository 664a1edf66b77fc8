package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/storage"
)

type memoryUpload struct {
	mu        sync.Mutex
	parts     [][]byte
	completed bool
	aborted   bool
	failNext  error
	entered   chan struct{}
	block     chan struct{}
}

func (u *memoryUpload) Token() string {
	return "mem-1"
}

func (u *memoryUpload) UploadPart(_ context.Context, partNumber int, data []byte) error {
	if u.block != nil {
		u.entered <- struct{}{}
		<-u.block
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.failNext != nil {
		err := u.failNext
		u.failNext = nil
		return err
	}
	if partNumber != len(u.parts)+1 {
		return fmt.Errorf("part %d out of order: %w", partNumber, errs.ErrSession)
	}
	u.parts = append(u.parts, bytes.Clone(data))
	return nil
}

func (u *memoryUpload) Complete(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.completed = true
	return nil
}

func (u *memoryUpload) Abort(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.aborted = true
	return nil
}

func (u *memoryUpload) isAborted() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.aborted
}

type memoryUploader struct {
	limits  storage.PartLimits
	mu      sync.Mutex
	uploads map[string]*memoryUpload
	opened  int

	// started and gate hold NewMultipartUpload open when set.
	started chan struct{}
	gate    chan struct{}
}

func newUploader(limits storage.PartLimits) *memoryUploader {
	return &memoryUploader{limits: limits, uploads: map[string]*memoryUpload{}}
}

func (m *memoryUploader) NewMultipartUpload(_ context.Context, path string) (storage.MultipartUpload, error) {
	if m.gate != nil {
		select {
		case m.started <- struct{}{}:
		default:
		}
		<-m.gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u := &memoryUpload{}
	m.uploads[path] = u
	m.opened++
	return u, nil
}

func (m *memoryUploader) openedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.opened
}

func (m *memoryUploader) PartLimits() storage.PartLimits {
	return m.limits
}

func (m *memoryUploader) upload(path string) *memoryUpload {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.uploads[path]
}

var testLimits = storage.PartLimits{MinPartSize: 4, MaxPartSize: 64, MaxParts: 10}

func TestSessionCompletesOnFinalChunk(t *testing.T) {
	ctx := context.Background()
	uploader := newUploader(testLimits)

	s, err := NewSession(ctx, uploader, "models/w.bin", 4, 10)
	require.NoError(t, err)
	assert.Equal(t, StateCreated, s.State())
	assert.Equal(t, "mem-1", s.Token())

	path, done, err := s.UploadChunk(ctx, []byte("abcd"))
	require.NoError(t, err)
	assert.False(t, done)
	assert.Empty(t, path)
	assert.Equal(t, StateInProgress, s.State())

	_, done, err = s.UploadChunk(ctx, []byte("efgh"))
	require.NoError(t, err)
	assert.False(t, done)

	path, done, err = s.UploadChunk(ctx, []byte("ij"))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "models/w.bin", path)
	assert.Equal(t, StateCompleted, s.State())
	assert.Equal(t, int64(10), s.BytesWritten())

	u := uploader.upload("models/w.bin")
	assert.True(t, u.completed)
	assert.Equal(t, []byte("abcdefghij"), bytes.Join(u.parts, nil))

	_, _, err = s.UploadChunk(ctx, []byte("k"))
	assert.ErrorIs(t, err, errs.ErrSession)
}

func TestSessionRejectsBadChunks(t *testing.T) {
	ctx := context.Background()

	s, err := NewSession(ctx, newUploader(testLimits), "x", 4, 10)
	require.NoError(t, err)

	_, _, err = s.UploadChunk(ctx, []byte("abc"))
	assert.ErrorIs(t, err, errs.ErrChunkSize)
	_, _, err = s.UploadChunk(ctx, nil)
	assert.ErrorIs(t, err, errs.ErrChunkSize)

	_, _, err = s.UploadChunk(ctx, []byte("abcd"))
	require.NoError(t, err)
	_, _, err = s.UploadChunk(ctx, []byte("abcd"))
	require.NoError(t, err)
	_, _, err = s.UploadChunk(ctx, []byte("abc"))
	assert.ErrorIs(t, err, errs.ErrChunkSize, "overflows total size")
	assert.Equal(t, int64(8), s.BytesWritten())
}

func TestSessionValidation(t *testing.T) {
	ctx := context.Background()
	uploader := newUploader(testLimits)

	cases := []struct {
		chunk, total int64
	}{
		{4, 0},
		{0, 10},
		{65, 100},
		{2, 10},
		{4, 100},
	}
	for _, c := range cases {
		_, err := NewSession(ctx, uploader, "x", c.chunk, c.total)
		assert.ErrorIs(t, err, errs.ErrConfiguration, "chunk=%d total=%d", c.chunk, c.total)
	}

	// Payloads that fit in one part may use a chunk below the minimum.
	s, err := NewSession(ctx, uploader, "small", 2, 2)
	require.NoError(t, err)
	path, done, err := s.UploadChunk(ctx, []byte("ok"))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "small", path)
}

func TestSessionRetriesFailedPart(t *testing.T) {
	ctx := context.Background()
	uploader := newUploader(testLimits)

	s, err := NewSession(ctx, uploader, "retry", 4, 4)
	require.NoError(t, err)

	uploader.upload("retry").failNext = fmt.Errorf("reset: %w", errs.ErrTransientIO)
	_, _, err = s.UploadChunk(ctx, []byte("abcd"))
	assert.True(t, errs.IsRetryable(err))
	assert.Equal(t, StateCreated, s.State())

	_, done, err := s.UploadChunk(ctx, []byte("abcd"))
	require.NoError(t, err)
	assert.True(t, done)
}

func TestSessionRejectsConcurrentChunks(t *testing.T) {
	ctx := context.Background()
	uploader := newUploader(testLimits)

	s, err := NewSession(ctx, uploader, "busy", 4, 8)
	require.NoError(t, err)

	u := uploader.upload("busy")
	u.entered = make(chan struct{}, 1)
	u.block = make(chan struct{})

	first := make(chan error, 1)
	go func() {
		_, _, err := s.UploadChunk(ctx, []byte("abcd"))
		first <- err
	}()

	select {
	case <-u.entered:
	case <-time.After(time.Second):
		t.Fatal("first chunk never reached the backend")
	}

	_, _, err = s.UploadChunk(ctx, []byte("efgh"))
	assert.ErrorIs(t, err, errs.ErrSession)

	close(u.block)
	require.NoError(t, <-first)
}

func TestSessionExpiresWhenIdle(t *testing.T) {
	ctx := context.Background()
	uploader := newUploader(testLimits)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	s, err := NewSession(ctx, uploader, "idle", 4, 8, WithIdleTimeout(time.Minute), WithClock(clock))
	require.NoError(t, err)

	_, _, err = s.UploadChunk(ctx, []byte("abcd"))
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, _, err = s.UploadChunk(ctx, []byte("efgh"))
	assert.ErrorIs(t, err, errs.ErrSessionExpired)
	assert.Equal(t, StateAborted, s.State())
	assert.True(t, uploader.upload("idle").isAborted())

	_, _, err = s.UploadChunk(ctx, []byte("efgh"))
	assert.ErrorIs(t, err, errs.ErrSessionExpired)
}

func TestTransitions(t *testing.T) {
	next, err := transition(StateCreated, eventChunk)
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, next)

	next, err = transition(StateInProgress, eventFinish)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, next)

	_, err = transition(StateCompleted, eventChunk)
	assert.ErrorIs(t, err, errs.ErrSession)
	_, err = transition(StateCompleted, eventAbort)
	assert.ErrorIs(t, err, errs.ErrSession)

	next, err = transition(StateAborted, eventAbort)
	require.NoError(t, err)
	assert.Equal(t, StateAborted, next)
}

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	uploader := newUploader(testLimits)

	m := NewManager(uploader, time.Hour, WithDefaultChunkSize(4))
	m.Start()
	defer m.Stop(ctx)

	s, err := m.Create(ctx, "runs/1/out.tar", 0, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(4), s.ChunkSize())

	_, err = m.Create(ctx, "runs/1/out.tar", 4, 6)
	assert.ErrorIs(t, err, errs.ErrSession)

	_, done, err := m.UploadChunk(ctx, "runs/1/out.tar", []byte("abcd"))
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 1, m.Len())

	path, done, err := m.UploadChunk(ctx, "runs/1/out.tar", []byte("ef"))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "runs/1/out.tar", path)
	assert.Equal(t, 0, m.Len())

	_, _, err = m.UploadChunk(ctx, "runs/1/out.tar", []byte("g"))
	assert.ErrorIs(t, err, errs.ErrSession)

	_, err = m.Create(ctx, "runs/1/out.tar", 4, 4)
	require.NoError(t, err)
	require.NoError(t, m.Abort(ctx, "runs/1/out.tar"))
	assert.True(t, uploader.upload("runs/1/out.tar").isAborted())
}

func TestManagerEvictsIdleSessions(t *testing.T) {
	ctx := context.Background()
	uploader := newUploader(testLimits)

	m := NewManager(uploader, 50*time.Millisecond)
	m.Start()
	defer m.Stop(ctx)

	_, err := m.Create(ctx, "idle.bin", 4, 8)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		u := uploader.upload("idle.bin")
		return u != nil && u.isAborted()
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, _, err := m.UploadChunk(ctx, "idle.bin", []byte("abcd"))
		return errors.Is(err, errs.ErrSessionExpired)
	}, time.Second, 10*time.Millisecond)
}

func TestManagerStopAbortsActiveSessions(t *testing.T) {
	ctx := context.Background()
	uploader := newUploader(testLimits)

	m := NewManager(uploader, time.Hour)
	_, err := m.Create(ctx, "pending.bin", 4, 8)
	require.NoError(t, err)

	require.NoError(t, m.Stop(ctx))
	assert.True(t, uploader.upload("pending.bin").isAborted())
	assert.Equal(t, 0, m.Len())
}

func TestManagerCreateIsExclusivePerObject(t *testing.T) {
	ctx := context.Background()
	uploader := newUploader(testLimits)
	uploader.started = make(chan struct{}, 1)
	uploader.gate = make(chan struct{})

	m := NewManager(uploader, time.Hour)
	defer m.Stop(ctx)

	first := make(chan error, 1)
	go func() {
		_, err := m.Create(ctx, "a/b.bin", 4, 8)
		first <- err
	}()
	<-uploader.started

	_, err := m.Create(ctx, "/a/b.bin", 4, 8)
	assert.ErrorIs(t, err, errs.ErrSession)

	close(uploader.gate)
	require.NoError(t, <-first)
	assert.Equal(t, 1, uploader.openedCount())
	assert.Equal(t, 1, m.Len())

	_, err = m.Create(ctx, "./a//b.bin", 4, 8)
	assert.ErrorIs(t, err, errs.ErrSession)

	s, err := m.Get("/a/b.bin")
	require.NoError(t, err)
	assert.Equal(t, "a/b.bin", s.Path())

	_, done, err := m.UploadChunk(ctx, "a//b.bin", []byte("abcd"))
	require.NoError(t, err)
	assert.False(t, done)

	_, err = m.Create(ctx, "/", 4, 8)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}
