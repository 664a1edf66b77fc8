package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/storage"
)

// Uploader starts backend multipart uploads. *storage.FileSystem
// implements it.
type Uploader interface {
	NewMultipartUpload(ctx context.Context, path string) (storage.MultipartUpload, error)
	PartLimits() storage.PartLimits
}

// Session uploads one object in fixed size chunks. Chunks are appended by a
// single writer; a call made while another is in flight is rejected.
type Session struct {
	mu sync.Mutex

	path      string
	chunkSize int64
	totalSize int64
	written   int64
	part      int
	state     State
	expired   bool

	upload       storage.MultipartUpload
	idleTimeout  time.Duration
	lastActivity time.Time
	now          func() time.Time
}

type SessionOption func(*Session)

// WithIdleTimeout aborts the session when no chunk arrives within d.
func WithIdleTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		s.idleTimeout = d
	}
}

func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		s.now = now
	}
}

// NewSession validates the chunk geometry against the backend limits and
// opens the backend upload.
func NewSession(ctx context.Context, uploader Uploader, path string, chunkSize, totalSize int64, opts ...SessionOption) (*Session, error) {
	if err := validate(uploader.PartLimits(), chunkSize, totalSize); err != nil {
		return nil, err
	}

	s := &Session{
		path:      path,
		chunkSize: chunkSize,
		totalSize: totalSize,
		part:      1,
		state:     StateCreated,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	upload, err := uploader.NewMultipartUpload(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to start upload for '%s': %w", path, err)
	}

	s.upload = upload
	s.lastActivity = s.now()
	return s, nil
}

func validate(limits storage.PartLimits, chunkSize, totalSize int64) error {
	if totalSize <= 0 {
		return fmt.Errorf("total size must be positive, got %d: %w", totalSize, errs.ErrConfiguration)
	}
	if chunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d: %w", chunkSize, errs.ErrConfiguration)
	}
	if limits.MaxPartSize > 0 && chunkSize > limits.MaxPartSize {
		return fmt.Errorf("chunk size %d exceeds backend maximum %d: %w", chunkSize, limits.MaxPartSize, errs.ErrConfiguration)
	}
	// A payload that fits in one chunk is a single, final part.
	if chunkSize < limits.MinPartSize && chunkSize < totalSize {
		return fmt.Errorf("chunk size %d is below backend minimum %d: %w", chunkSize, limits.MinPartSize, errs.ErrConfiguration)
	}

	parts := (totalSize + chunkSize - 1) / chunkSize
	if limits.MaxParts > 0 && parts > int64(limits.MaxParts) {
		return fmt.Errorf("upload needs %d parts, backend allows %d: %w", parts, limits.MaxParts, errs.ErrConfiguration)
	}
	return nil
}

func (s *Session) Path() string {
	return s.path
}

func (s *Session) Token() string {
	return s.upload.Token()
}

func (s *Session) ChunkSize() int64 {
	return s.chunkSize
}

func (s *Session) TotalSize() int64 {
	return s.totalSize
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Session) BytesWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.written
}

// UploadChunk appends data as the next part. It returns the object path and
// true once the final byte has been written and the upload committed.
// A failed part upload leaves the session unchanged so the same chunk can
// be sent again.
func (s *Session) UploadChunk(ctx context.Context, data []byte) (string, bool, error) {
	if !s.mu.TryLock() {
		return "", false, fmt.Errorf("upload '%s' already has a chunk in flight: %w", s.path, errs.ErrSession)
	}
	defer s.mu.Unlock()

	if err := s.checkActive(ctx); err != nil {
		return "", false, err
	}

	size := int64(len(data))
	remaining := s.totalSize - s.written
	final := size == remaining

	switch {
	case size == 0:
		return "", false, fmt.Errorf("empty chunk for '%s': %w", s.path, errs.ErrChunkSize)
	case size > remaining:
		return "", false, fmt.Errorf("chunk of %d bytes overflows the %d bytes remaining: %w", size, remaining, errs.ErrChunkSize)
	case size > s.chunkSize:
		return "", false, fmt.Errorf("chunk of %d bytes exceeds chunk size %d: %w", size, s.chunkSize, errs.ErrChunkSize)
	case !final && size != s.chunkSize:
		return "", false, fmt.Errorf("non-final chunk of %d bytes, expected %d: %w", size, s.chunkSize, errs.ErrChunkSize)
	}

	if err := s.upload.UploadPart(ctx, s.part, data); err != nil {
		return "", false, fmt.Errorf("failed to upload part %d of '%s': %w", s.part, s.path, err)
	}

	next, err := transition(s.state, eventChunk)
	if err != nil {
		return "", false, err
	}
	s.state = next
	s.written += size
	s.part++
	s.lastActivity = s.now()

	if !final {
		return "", false, nil
	}

	if err := s.finish(ctx); err != nil {
		return "", false, err
	}
	return s.path, true, nil
}

// Complete retries the commit of a session whose bytes are all written
// but whose final commit failed.
func (s *Session) Complete(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateCompleted {
		return s.path, nil
	}
	if err := s.checkActive(ctx); err != nil {
		return "", err
	}
	if s.written != s.totalSize {
		return "", fmt.Errorf("upload '%s' has %d of %d bytes: %w", s.path, s.written, s.totalSize, errs.ErrSession)
	}

	if err := s.finish(ctx); err != nil {
		return "", err
	}
	return s.path, nil
}

func (s *Session) finish(ctx context.Context) error {
	if err := s.upload.Complete(ctx); err != nil {
		return fmt.Errorf("failed to complete upload of '%s': %w", s.path, err)
	}

	next, err := transition(s.state, eventFinish)
	if err != nil {
		return err
	}
	s.state = next
	return nil
}

// Abort discards the backend upload. Aborting twice is a no-op.
func (s *Session) Abort(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.abort(ctx, false)
}

// expire aborts the session on behalf of an idle timeout.
func (s *Session) expire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return nil
	}
	return s.abort(ctx, true)
}

func (s *Session) abort(ctx context.Context, expired bool) error {
	if s.state == StateAborted {
		return nil
	}

	next, err := transition(s.state, eventAbort)
	if err != nil {
		return err
	}

	s.state = next
	s.expired = expired
	if err := s.upload.Abort(ctx); err != nil {
		return fmt.Errorf("failed to abort upload of '%s': %w", s.path, err)
	}
	return nil
}

func (s *Session) checkActive(ctx context.Context) error {
	if !s.state.Terminal() && s.idleTimeout > 0 && s.now().Sub(s.lastActivity) > s.idleTimeout {
		// The backend may already have reclaimed the parts; the error is
		// irrelevant to the caller.
		_ = s.abort(ctx, true)
	}

	switch {
	case s.state == StateAborted && s.expired:
		return fmt.Errorf("upload '%s' was idle too long: %w", s.path, errs.ErrSessionExpired)
	case s.state.Terminal():
		return fmt.Errorf("upload '%s' is %s: %w", s.path, s.state, errs.ErrSession)
	}
	return nil
}
