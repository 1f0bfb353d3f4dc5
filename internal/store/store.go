package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/eldtechnologies/carelink/internal/metrics"
)

// ErrNotFound is returned by Get when a key has never been written or was deleted.
var ErrNotFound = errors.New("store: key not found")

// Keys used for durable client state.
const (
	KeyIdentity      = "session:identity"
	KeyCredential    = "session:credential"
	KeyNotifications = "notifications"
)

// Store is durable key/value storage for client state. SQLiteStore,
// PostgresStore, RedisStore and MemoryStore implement it. SetMany and
// Delete apply all of their keys or none of them.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetMany(ctx context.Context, values map[string][]byte) error
	Delete(ctx context.Context, keys ...string) error

	Ping(ctx context.Context) error
	Close() error
}

// Open picks a backend from the storage URL:
//
//	memory://               in-process, lost on exit
//	postgres://, postgresql://
//	redis://, rediss://
//	sqlite:///path, or a bare file path
func Open(ctx context.Context, rawURL string) (Store, error) {
	switch {
	case rawURL == "memory://":
		return NewMemoryStore(), nil
	case strings.HasPrefix(rawURL, "postgres://"), strings.HasPrefix(rawURL, "postgresql://"):
		return NewPostgresStore(ctx, rawURL)
	case strings.HasPrefix(rawURL, "redis://"), strings.HasPrefix(rawURL, "rediss://"):
		return NewRedisStore(ctx, rawURL)
	case strings.HasPrefix(rawURL, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(rawURL, "sqlite://"))
	default:
		return NewSQLiteStore(ctx, rawURL)
	}
}

// Redact hides credentials in a storage URL for logs and status output.
func Redact(rawURL string) string {
	at := strings.LastIndex(rawURL, "@")
	scheme := strings.Index(rawURL, "://")
	if at < 0 || scheme < 0 || scheme > at {
		return rawURL
	}
	return rawURL[:scheme+3] + "***" + rawURL[at:]
}

func observe(backend, op string, start time.Time) {
	metrics.StorageLatency.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}
