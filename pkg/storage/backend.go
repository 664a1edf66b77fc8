package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mwantia/opsreg/pkg/errs"
)

// Backend is the per-object capability set every storage adapter
// implements. Keys are already normalized relative to the bucket or root;
// recursion over prefixes is handled by FileSystem.
type Backend interface {
	Type() StorageType
	Bucket() string

	// Find lists object keys at or beneath prefix ("" lists everything).
	Find(ctx context.Context, prefix string) ([]string, error)
	FindInfo(ctx context.Context, prefix string) ([]FileInfo, error)

	GetObject(ctx context.Context, localPath, key string) error
	PutObject(ctx context.Context, localPath, key string) error
	CopyObject(ctx context.Context, src, dest string) error
	DeleteObject(ctx context.Context, key string) error

	PresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error)

	NewMultipartUpload(ctx context.Context, key string) (MultipartUpload, error)
	PartLimits() PartLimits

	Close() error
}

// BatchDeleter is implemented by backends that can remove many keys in
// a single request.
type BatchDeleter interface {
	DeleteObjects(ctx context.Context, keys []string) error
}

// MultipartUpload is one backend multipart or resumable upload. Parts are
// numbered from 1 and must be uploaded in order.
type MultipartUpload interface {
	// Token is the backend assigned session identifier.
	Token() string
	UploadPart(ctx context.Context, partNumber int, data []byte) error
	Complete(ctx context.Context) error
	Abort(ctx context.Context) error
}

// Factory builds a Backend from settings.
type Factory func(ctx context.Context, settings Settings) (Backend, error)

// ClientType is the registry key for an API-fronted backend used when
// Settings.UsingClient is set.
const ClientType StorageType = "client"

var (
	factoriesMu sync.RWMutex
	factories   = map[StorageType]Factory{}
)

// Register makes a backend available to NewFileSystem. Adapters call it
// from init; registering the same type twice panics.
func Register(t StorageType, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if factory == nil {
		panic("storage: Register factory is nil")
	}
	if _, dup := factories[t]; dup {
		panic(fmt.Sprintf("storage: Register called twice for '%s'", t))
	}
	factories[t] = factory
}

// Registered returns the sorted list of registered backend types.
func Registered() []StorageType {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	types := make([]StorageType, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func lookupFactory(t StorageType) (Factory, error) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	factory, ok := factories[t]
	if !ok {
		return nil, fmt.Errorf("no storage backend registered for '%s': %w", t, errs.ErrConfiguration)
	}
	return factory, nil
}
