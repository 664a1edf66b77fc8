package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/log"
	"github.com/mwantia/opsreg/pkg/storage"
)

const abortTimeout = 30 * time.Second

// Manager tracks at most one active session per destination path. Idle
// sessions are evicted after the configured timeout and their backend
// uploads aborted.
type Manager struct {
	uploader  Uploader
	log       log.LoggerService
	chunkSize int64
	timeout   time.Duration
	now       func() time.Time

	mu      sync.Mutex
	running bool

	// opening holds paths whose backend upload is being started.
	opening map[string]struct{}

	sessions *ttlcache.Cache[string, *Session]
	// expired remembers evicted paths for one more timeout window so late
	// chunks report ErrSessionExpired rather than a missing session.
	expired *ttlcache.Cache[string, struct{}]
}

type ManagerOption func(*Manager)

func WithLogger(logger log.LoggerService) ManagerOption {
	return func(m *Manager) {
		m.log = logger
	}
}

// WithDefaultChunkSize is used when Create is called with chunk size 0.
func WithDefaultChunkSize(size int64) ManagerOption {
	return func(m *Manager) {
		m.chunkSize = size
	}
}

func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(uploader Uploader, timeout time.Duration, opts ...ManagerOption) *Manager {
	m := &Manager{
		uploader: uploader,
		log:      log.NewWriterLogger("upload", "error", io.Discard),
		timeout:  timeout,
		now:      time.Now,
		opening:  map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(m)
	}

	m.sessions = ttlcache.New(
		ttlcache.WithTTL[string, *Session](timeout),
	)
	m.expired = ttlcache.New(
		ttlcache.WithTTL[string, struct{}](timeout),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)

	m.sessions.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Session]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}

		path := item.Key()
		m.expired.Set(path, struct{}{}, ttlcache.DefaultTTL)

		ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
		defer cancel()

		if err := item.Value().expire(ctx); err != nil {
			m.log.Warn("Failed to abort expired upload '%s': %v", path, err)
			return
		}
		m.log.Info("Expired idle upload session for '%s'", path)
	})

	return m
}

// Start runs the expiry loops until Stop is called.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true

	go m.sessions.Start()
	go m.expired.Start()
}

// Stop ends the expiry loops and aborts every session still active.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.sessions.Stop()
		m.expired.Stop()
		m.running = false
	}
	m.mu.Unlock()

	var failed []error
	for path, item := range m.sessions.Items() {
		if err := item.Value().Abort(ctx); err != nil {
			failed = append(failed, fmt.Errorf("failed to abort upload '%s': %w", path, err))
		}
	}
	m.sessions.DeleteAll()
	return errors.Join(failed...)
}

// Create opens a session for path. A second Create for a path with an
// active or opening session fails with ErrSession.
func (m *Manager) Create(ctx context.Context, path string, chunkSize, totalSize int64) (*Session, error) {
	key, err := m.key(path)
	if err != nil {
		return nil, err
	}

	if err := m.reserve(key); err != nil {
		return nil, err
	}
	defer m.release(key)

	if chunkSize == 0 {
		chunkSize = m.chunkSize
	}

	session, err := NewSession(ctx, m.uploader, key, chunkSize, totalSize,
		WithIdleTimeout(m.timeout),
		WithClock(m.now),
	)
	if err != nil {
		return nil, err
	}

	m.expired.Delete(key)
	m.sessions.Set(key, session, ttlcache.DefaultTTL)

	m.log.Debug("Created upload session for '%s' (%d bytes in chunks of %d)", key, totalSize, chunkSize)
	return session, nil
}

func (m *Manager) reserve(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.opening[key]; ok {
		return fmt.Errorf("upload session for '%s' is already being created: %w", key, errs.ErrSession)
	}
	if item := m.sessions.Get(key); item != nil && !item.Value().State().Terminal() {
		return fmt.Errorf("upload session for '%s' is already active: %w", key, errs.ErrSession)
	}
	m.opening[key] = struct{}{}
	return nil
}

func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.opening, key)
}

// key maps path to the object key sessions are tracked under, so that
// different spellings of one object share a session.
func (m *Manager) key(path string) (string, error) {
	var bucket string
	if b, ok := m.uploader.(interface{ Bucket() string }); ok {
		bucket = b.Bucket()
	}

	key := storage.NormalizeKey(bucket, path)
	if key == "" {
		return "", fmt.Errorf("upload path '%s' does not name an object: %w", path, errs.ErrInvalidArgument)
	}
	return key, nil
}

// Get returns the active session for path.
func (m *Manager) Get(path string) (*Session, error) {
	key, err := m.key(path)
	if err != nil {
		return nil, err
	}
	return m.get(key)
}

func (m *Manager) get(key string) (*Session, error) {
	if item := m.sessions.Get(key); item != nil {
		return item.Value(), nil
	}
	if m.expired.Has(key) {
		return nil, fmt.Errorf("upload session for '%s' expired: %w", key, errs.ErrSessionExpired)
	}
	return nil, fmt.Errorf("no upload session for '%s': %w", key, errs.ErrSession)
}

// UploadChunk forwards data to the session for path and forgets the
// session once it completes.
func (m *Manager) UploadChunk(ctx context.Context, path string, data []byte) (string, bool, error) {
	key, err := m.key(path)
	if err != nil {
		return "", false, err
	}

	session, err := m.get(key)
	if err != nil {
		return "", false, err
	}

	result, done, err := session.UploadChunk(ctx, data)
	if err != nil {
		if session.State().Terminal() {
			m.sessions.Delete(key)
			if errors.Is(err, errs.ErrSessionExpired) {
				m.expired.Set(key, struct{}{}, ttlcache.DefaultTTL)
			}
		}
		return "", false, err
	}

	if done {
		m.sessions.Delete(key)
		m.log.Info("Completed upload of '%s' (%d bytes)", key, session.TotalSize())
	}
	return result, done, nil
}

// Abort discards the session for path.
func (m *Manager) Abort(ctx context.Context, path string) error {
	key, err := m.key(path)
	if err != nil {
		return err
	}

	session, err := m.get(key)
	if err != nil {
		return err
	}

	m.sessions.Delete(key)
	return session.Abort(ctx)
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	return m.sessions.Len()
}
