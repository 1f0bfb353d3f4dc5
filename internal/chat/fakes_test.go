package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/eldtechnologies/carelink/internal/models"
	"github.com/eldtechnologies/carelink/internal/notify"
	"github.com/eldtechnologies/carelink/internal/realtime"
)

// managedClock only moves when Advance is called.
type managedClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*managedTimer
}

type managedTimer struct {
	clock   *managedClock
	due     time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newManagedClock() *managedClock {
	return &managedClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *managedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *managedClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &managedTimer{clock: c, due: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *managedTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, firing due timers in order.
func (c *managedClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *managedTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.due.After(target) {
				continue
			}
			if next == nil || t.due.Before(next.due) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.due
		next.fired = true
		c.mu.Unlock()

		next.fn()
	}
}

type fakeAPI struct {
	mu sync.Mutex

	chat        *models.Chat
	createErr   error
	history     []models.Message
	historyErr  error
	historyGate chan struct{}
	markErr     error
	clearErr    error
	uploadErr   error

	created  []string
	fetched  []string
	marked   []string
	cleared  []string
	uploaded []upload
}

type upload struct {
	Name        string
	ContentType string
	Data        []byte
}

func (a *fakeAPI) CreateOrGetChat(ctx context.Context, counterpartID string) (*models.Chat, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.created = append(a.created, counterpartID)
	if a.createErr != nil {
		return nil, a.createErr
	}
	return a.chat, nil
}

func (a *fakeAPI) GetMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	if a.historyGate != nil {
		<-a.historyGate
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetched = append(a.fetched, chatID)
	if a.historyErr != nil {
		return nil, a.historyErr
	}
	return append([]models.Message(nil), a.history...), nil
}

func (a *fakeAPI) MarkRead(ctx context.Context, chatID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.marked = append(a.marked, chatID)
	return a.markErr
}

func (a *fakeAPI) ClearHistory(ctx context.Context, chatID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cleared = append(a.cleared, chatID)
	return a.clearErr
}

func (a *fakeAPI) UploadFile(ctx context.Context, filename, contentType string, r io.Reader) (*models.Attachment, error) {
	data, _ := io.ReadAll(r)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.uploaded = append(a.uploaded, upload{Name: filename, ContentType: contentType, Data: data})
	if a.uploadErr != nil {
		return nil, a.uploadErr
	}
	return &models.Attachment{URL: "/uploads/" + filename, Filename: filename, Size: int64(len(data))}, nil
}

func (a *fakeAPI) markedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.marked)
}

type fakeChannel struct {
	mu        sync.Mutex
	connected bool
	emitErr   error
	onEmit    func(realtime.Outbound)
	events    []realtime.Outbound
	subs      map[int]func(realtime.Inbound)
	next      int
}

func newFakeChannel(connected bool) *fakeChannel {
	return &fakeChannel{connected: connected, subs: make(map[int]func(realtime.Inbound))}
}

func (c *fakeChannel) Emit(ev realtime.Outbound) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return realtime.ErrNotConnected
	}
	if c.emitErr != nil {
		c.mu.Unlock()
		return c.emitErr
	}
	c.events = append(c.events, ev)
	hook := c.onEmit
	c.mu.Unlock()

	if hook != nil {
		hook(ev)
	}
	return nil
}

func (c *fakeChannel) subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *fakeChannel) Subscribe(fn func(realtime.Inbound)) func() {
	c.mu.Lock()
	id := c.next
	c.next++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *fakeChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeChannel) deliver(ev realtime.Inbound) {
	c.mu.Lock()
	fns := make([]func(realtime.Inbound), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *fakeChannel) emitted() []realtime.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]realtime.Outbound(nil), c.events...)
}

func (c *fakeChannel) reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

func (c *fakeChannel) count(name string) int {
	n := 0
	for _, ev := range c.emitted() {
		if ev.Name() == name {
			n++
		}
	}
	return n
}

type fakeNotifier struct {
	mu      sync.Mutex
	entries []notify.Entry
}

func (n *fakeNotifier) Add(ctx context.Context, e notify.Entry, showToast bool) (models.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = append(n.entries, e)
	return models.Notification{Title: e.Title, Message: e.Message, Type: e.Type}, nil
}

func (n *fakeNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.entries {
		out = append(out, e.Message)
	}
	return out
}

var errBackend = errors.New("backend unavailable")
