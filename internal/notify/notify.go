// Package notify is the persisted, most-recent-first list of user-facing
// events that every other component reports into.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/carelink/internal/crypto"
	"github.com/eldtechnologies/carelink/internal/metrics"
	"github.com/eldtechnologies/carelink/internal/models"
	"github.com/eldtechnologies/carelink/internal/store"
)

// ErrNotFound is returned when no notification has the given id.
var ErrNotFound = errors.New("notification not found")

// Entry is what a producer reports. Id, read state and timestamp are
// assigned by the Surface.
type Entry struct {
	Title   string
	Message string
	Type    models.NotificationType
}

// Toaster shows a transient toast for a freshly added notification.
type Toaster interface {
	Toast(n models.Notification)
}

// Surface holds the notification sequence.
type Surface struct {
	kv      store.Store
	toaster Toaster
	logger  zerolog.Logger
	now     func() time.Time

	mu    sync.Mutex
	items []models.Notification

	subMu     sync.Mutex
	subs      map[int]func([]models.Notification)
	nextSubID int
}

// NewSurface creates an empty Surface. toaster may be nil.
func NewSurface(kv store.Store, toaster Toaster, logger zerolog.Logger) *Surface {
	return &Surface{
		kv:      kv,
		toaster: toaster,
		logger:  logger.With().Str("component", "notify").Logger(),
		now:     time.Now,
		subs:    make(map[int]func([]models.Notification)),
	}
}

// Load rehydrates the sequence from storage without showing toasts. An
// unreadable sequence is logged and replaced by an empty one.
func (s *Surface) Load(ctx context.Context) error {
	raw, err := s.kv.Get(ctx, store.KeyNotifications)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}

	var items []models.Notification
	if err := json.Unmarshal(raw, &items); err != nil {
		s.logger.Warn().Err(err).Msg("discarding unreadable notifications")
		items = nil
	}

	s.mu.Lock()
	s.items = items
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snapshot)
	return nil
}

// Add prepends a new unread notification and persists the sequence. The
// toast is shown only when showToast is true.
func (s *Surface) Add(ctx context.Context, e Entry, showToast bool) (models.Notification, error) {
	switch e.Type {
	case models.NotificationInfo, models.NotificationSuccess, models.NotificationError, models.NotificationWarning:
	default:
		e.Type = models.NotificationInfo
	}

	n := models.Notification{
		ID:        crypto.NewUUIDv7(),
		Title:     e.Title,
		Message:   e.Message,
		Type:      e.Type,
		Read:      false,
		CreatedAt: s.now().UTC(),
	}

	err := s.mutate(ctx, func(items []models.Notification) ([]models.Notification, error) {
		return append([]models.Notification{n}, items...), nil
	})
	metrics.NotificationsAdded.WithLabelValues(string(n.Type)).Inc()

	if showToast && s.toaster != nil {
		s.toaster.Toast(n)
	}
	return n, err
}

// MarkRead marks one notification read. Marking an already read
// notification is not an error.
func (s *Surface) MarkRead(ctx context.Context, id string) error {
	return s.mutate(ctx, func(items []models.Notification) ([]models.Notification, error) {
		for i := range items {
			if items[i].ID == id {
				items[i].Read = true
				return items, nil
			}
		}
		return nil, ErrNotFound
	})
}

// MarkAllRead marks every notification read.
func (s *Surface) MarkAllRead(ctx context.Context) error {
	return s.mutate(ctx, func(items []models.Notification) ([]models.Notification, error) {
		for i := range items {
			items[i].Read = true
		}
		return items, nil
	})
}

// Remove deletes one notification.
func (s *Surface) Remove(ctx context.Context, id string) error {
	return s.mutate(ctx, func(items []models.Notification) ([]models.Notification, error) {
		for i := range items {
			if items[i].ID == id {
				return append(items[:i], items[i+1:]...), nil
			}
		}
		return nil, ErrNotFound
	})
}

// Clear deletes every notification.
func (s *Surface) Clear(ctx context.Context) error {
	return s.mutate(ctx, func([]models.Notification) ([]models.Notification, error) {
		return nil, nil
	})
}

// List returns the sequence, most recent first.
func (s *Surface) List() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// UnreadCount counts unread notifications. It is computed on every call.
func (s *Surface) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, item := range s.items {
		if !item.Read {
			n++
		}
	}
	return n
}

// OnChange registers fn to receive the sequence after every change.
func (s *Surface) OnChange(fn func([]models.Notification)) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// mutate applies fn to a copy of the sequence, then adopts and persists the
// result. The in-memory change stands even if persisting fails.
func (s *Surface) mutate(ctx context.Context, fn func([]models.Notification) ([]models.Notification, error)) error {
	s.mu.Lock()
	next, err := fn(s.snapshotLocked())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.items = next
	snapshot := s.snapshotLocked()

	raw, err := json.Marshal(snapshot)
	if err == nil {
		err = s.kv.Set(ctx, store.KeyNotifications, raw)
	}
	s.mu.Unlock()

	s.publish(snapshot)

	if err != nil {
		s.logger.Error().Err(err).Msg("failed to persist notifications")
		return fmt.Errorf("persist notifications: %w", err)
	}
	return nil
}

func (s *Surface) snapshotLocked() []models.Notification {
	out := make([]models.Notification, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Surface) publish(items []models.Notification) {
	s.subMu.Lock()
	fns := make([]func([]models.Notification), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(items)
	}
}
