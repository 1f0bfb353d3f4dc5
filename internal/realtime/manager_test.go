package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/carelink/internal/models"
)

type fakeConn struct {
	dialer  *fakeDialer
	cred    models.Credential
	handler func(Inbound)

	mu      sync.Mutex
	emitted []Outbound
	closed  bool
	done    chan struct{}
}

func (c *fakeConn) Emit(ev Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	c.emitted = append(c.emitted, ev)
	return nil
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
		c.dialer.release()
	}
	return nil
}

// drop simulates the transport going away.
func (c *fakeConn) drop() { c.Close() }

func (c *fakeConn) Emitted() []Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Outbound(nil), c.emitted...)
}

type fakeDialer struct {
	mu      sync.Mutex
	err     error
	open    int
	maxOpen int
	conns   []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, cred models.Credential, handler func(Inbound)) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := &fakeConn{dialer: d, cred: cred, handler: handler, done: make(chan struct{})}
	d.conns = append(d.conns, c)
	d.open++
	if d.open > d.maxOpen {
		d.maxOpen = d.open
	}
	return c, nil
}

func (d *fakeDialer) release() {
	d.mu.Lock()
	d.open--
	d.mu.Unlock()
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

var (
	doctor   = &models.Identity{ID: "d1", Role: models.RoleDoctor}
	pharmacy = &models.Identity{ID: "ph1", Role: models.RolePharmacy}
	admin    = &models.Identity{ID: "a1", Role: models.RoleAdmin}
)

func TestConnectsForRealtimeRoles(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, zerolog.Nop())
	defer m.Close()

	require.NoError(t, m.Sync(context.Background(), doctor, "tok-d"))
	assert.True(t, m.Connected())
	assert.Equal(t, Connected, m.State())
	assert.Equal(t, models.Credential("tok-d"), d.last().cred)
}

func TestAdminGetsNoChannel(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, zerolog.Nop())
	defer m.Close()

	require.NoError(t, m.Sync(context.Background(), admin, "tok-a"))
	assert.False(t, m.Connected())
	assert.Zero(t, d.dials())
}

func TestIdentityChangeTearsDownFirst(t *testing.T) {
	ctx := context.Background()
	d := &fakeDialer{}
	m := NewManager(d, zerolog.Nop())
	defer m.Close()

	require.NoError(t, m.Sync(ctx, doctor, "tok-d"))
	first := d.last()
	require.NoError(t, m.Sync(ctx, pharmacy, "tok-p"))
	second := d.last()

	assert.NotSame(t, first, second)
	assert.True(t, first.closed)
	assert.Equal(t, 1, d.maxOpen, "never more than one connection open")
	assert.Equal(t, models.Credential("tok-p"), second.cred)

	// same session again is a no-op
	require.NoError(t, m.Sync(ctx, pharmacy, "tok-p"))
	assert.Equal(t, 2, d.dials())
}

func TestLogoutClosesAndStopsEvents(t *testing.T) {
	ctx := context.Background()
	d := &fakeDialer{}
	m := NewManager(d, zerolog.Nop())
	defer m.Close()

	var mu sync.Mutex
	var got []Inbound
	m.Subscribe(func(ev Inbound) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	require.NoError(t, m.Sync(ctx, doctor, "tok-d"))
	conn := d.last()
	conn.handler(UserTyping{Chat: "c1"})

	require.NoError(t, m.Sync(ctx, nil, ""))
	assert.False(t, m.Connected())
	assert.Equal(t, Disconnected, m.State())
	assert.ErrorIs(t, m.Emit(Join{Chat: "c1"}), ErrNotConnected)

	// A late event from the torn-down connection is not delivered.
	conn.handler(UserStoppedTyping{Chat: "c1"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Inbound{UserTyping{Chat: "c1"}}, got)
}

func TestEmitGoesToCurrentConnection(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, zerolog.Nop())
	defer m.Close()

	require.NoError(t, m.Sync(context.Background(), doctor, "tok-d"))
	require.NoError(t, m.Emit(Join{Chat: "c1"}))
	assert.Equal(t, []Outbound{Join{Chat: "c1"}}, d.last().Emitted())
}

func TestTransportDropMarksDisconnected(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, zerolog.Nop())
	defer m.Close()

	var mu sync.Mutex
	var states []State
	m.OnStateChange(func(st State) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})

	require.NoError(t, m.Sync(context.Background(), doctor, "tok-d"))
	d.last().drop()

	assert.Eventually(t, func() bool { return m.State() == Disconnected }, time.Second, 5*time.Millisecond)
	assert.False(t, m.Connected())
	assert.Equal(t, 1, d.dials(), "no automatic reconnect")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Connecting, Connected, Disconnected}, states)
}

func TestDialErrorIsNotFatal(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	m := NewManager(d, zerolog.Nop())
	defer m.Close()

	err := m.Sync(context.Background(), doctor, "tok-d")
	assert.Error(t, err)
	assert.Equal(t, Disconnected, m.State())
	assert.False(t, m.Connected())
}

func TestUpdateReconcilesInBackground(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, zerolog.Nop())

	m.Update(doctor, "tok-d")
	m.Update(pharmacy, "tok-p")
	m.Update(doctor, "tok-d2")

	assert.Eventually(t, func() bool {
		c := d.last()
		return m.Connected() && c != nil && c.cred == "tok-d2"
	}, time.Second, 5*time.Millisecond)

	m.Close()
	assert.Equal(t, 1, d.maxOpen)
	assert.False(t, m.Connected())

	// closed managers ignore updates
	m.Update(doctor, "tok-x")
	assert.NotEqual(t, models.Credential("tok-x"), d.last().cred)
}
