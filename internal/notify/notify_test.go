package notify

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/carelink/internal/models"
	"github.com/eldtechnologies/carelink/internal/store"
)

type recordingToaster struct {
	toasts []models.Notification
}

func (r *recordingToaster) Toast(n models.Notification) { r.toasts = append(r.toasts, n) }

func newSurface(t *testing.T) (*Surface, *store.MemoryStore, *recordingToaster) {
	t.Helper()
	kv := store.NewMemoryStore()
	toaster := &recordingToaster{}
	s := NewSurface(kv, toaster, zerolog.Nop())

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return start.Add(time.Duration(tick) * time.Minute)
	}
	return s, kv, toaster
}

func assertUnreadMatches(t *testing.T, s *Surface) {
	t.Helper()
	unread := 0
	for _, n := range s.List() {
		if !n.Read {
			unread++
		}
	}
	assert.Equal(t, unread, s.UnreadCount())
}

func TestAddPrependsAndToasts(t *testing.T) {
	ctx := context.Background()
	s, _, toaster := newSurface(t)

	first, err := s.Add(ctx, Entry{Title: "Welcome", Message: "Signed in", Type: models.NotificationSuccess}, true)
	require.NoError(t, err)
	second, err := s.Add(ctx, Entry{Title: "Chat", Message: "Failed to load chat", Type: models.NotificationError}, false)
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "most recent first")
	assert.Equal(t, first.ID, list[1].ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.False(t, list[0].Read)
	assert.Equal(t, 2, s.UnreadCount())

	require.Len(t, toaster.toasts, 1)
	assert.Equal(t, first.ID, toaster.toasts[0].ID)
}

func TestUnknownTypeFallsBackToInfo(t *testing.T) {
	s, _, _ := newSurface(t)
	n, err := s.Add(context.Background(), Entry{Title: "x", Type: "urgent"}, false)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationInfo, n.Type)
}

func TestMarkReadKeepsContent(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newSurface(t)

	a, _ := s.Add(ctx, Entry{Title: "A", Message: "a"}, false)
	_, _ = s.Add(ctx, Entry{Title: "B", Message: "b"}, false)
	before := s.List()

	require.NoError(t, s.MarkRead(ctx, a.ID))
	require.NoError(t, s.MarkRead(ctx, a.ID))
	assertUnreadMatches(t, s)
	assert.Equal(t, 1, s.UnreadCount())

	require.NoError(t, s.MarkAllRead(ctx))
	require.NoError(t, s.MarkAllRead(ctx))
	assert.Zero(t, s.UnreadCount())
	assertUnreadMatches(t, s)

	after := s.List()
	require.Len(t, after, 2)
	for i := range after {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].Title, after[i].Title)
		assert.Equal(t, before[i].Message, after[i].Message)
		assert.Equal(t, before[i].CreatedAt, after[i].CreatedAt)
		assert.True(t, after[i].Read)
	}

	assert.ErrorIs(t, s.MarkRead(ctx, "missing"), ErrNotFound)
}

func TestRemoveAndClear(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newSurface(t)

	a, _ := s.Add(ctx, Entry{Title: "A"}, false)
	b, _ := s.Add(ctx, Entry{Title: "B"}, false)
	c, _ := s.Add(ctx, Entry{Title: "C"}, false)

	require.NoError(t, s.Remove(ctx, b.ID))
	ids := []string{}
	for _, n := range s.List() {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{c.ID, a.ID}, ids)
	assert.ErrorIs(t, s.Remove(ctx, b.ID), ErrNotFound)

	require.NoError(t, s.Clear(ctx))
	assert.Empty(t, s.List())
	assert.Zero(t, s.UnreadCount())
}

func TestPersistAndLoadWithoutToasts(t *testing.T) {
	ctx := context.Background()
	s, kv, _ := newSurface(t)

	a, _ := s.Add(ctx, Entry{Title: "A", Type: models.NotificationWarning}, true)
	_, _ = s.Add(ctx, Entry{Title: "B"}, true)
	require.NoError(t, s.MarkRead(ctx, a.ID))

	toaster := &recordingToaster{}
	reloaded := NewSurface(kv, toaster, zerolog.Nop())
	require.NoError(t, reloaded.Load(ctx))

	assert.Equal(t, s.List(), reloaded.List())
	assert.Equal(t, 1, reloaded.UnreadCount())
	assert.Empty(t, toaster.toasts)
}

func TestLoadUnreadableStartsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	require.NoError(t, kv.Set(ctx, store.KeyNotifications, []byte("{broken")))

	s := NewSurface(kv, nil, zerolog.Nop())
	require.NoError(t, s.Load(ctx))
	assert.Empty(t, s.List())
}

func TestOnChange(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newSurface(t)

	var lengths []int
	cancel := s.OnChange(func(items []models.Notification) { lengths = append(lengths, len(items)) })

	s.Add(ctx, Entry{Title: "A"}, false)
	s.Add(ctx, Entry{Title: "B"}, false)
	cancel()
	s.Clear(ctx)

	assert.Equal(t, []int{1, 2}, lengths)
}
