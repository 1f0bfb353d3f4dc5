package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/carelink/internal/metrics"
	"github.com/eldtechnologies/carelink/internal/models"
)

// ErrNotConnected is returned by Emit while no connection is up.
var ErrNotConnected = errors.New("not connected")

// State is the channel's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

// Manager owns at most one live connection, matched to the current session.
// Other components borrow it through Emit and Subscribe.
type Manager struct {
	dialer Dialer
	logger zerolog.Logger

	// syncMu serializes reconciliation so that teardown of the old
	// connection finishes before a new one is dialed.
	syncMu sync.Mutex
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	desired   target
	conn      Conn
	connKey   string
	gen       uint64
	state     State
	subs      map[int]func(Inbound)
	stateSubs map[int]func(State)
	nextSubID int
}

type target struct {
	key        string
	credential models.Credential
	userID     string
}

// NewManager creates a disconnected Manager.
func NewManager(dialer Dialer, logger zerolog.Logger) *Manager {
	return &Manager{
		dialer:    dialer,
		logger:    logger.With().Str("component", "channel").Logger(),
		subs:      make(map[int]func(Inbound)),
		stateSubs: make(map[int]func(State)),
	}
}

func targetFor(identity *models.Identity, credential models.Credential) target {
	if identity == nil || credential == "" || !identity.Role.Realtime() {
		return target{}
	}
	return target{
		key:        identity.ID + "\x00" + string(identity.Role) + "\x00" + string(credential),
		credential: credential,
		userID:     identity.ID,
	}
}

// Update records the session the channel should match and reconciles in
// the background. It never blocks on the network.
func (m *Manager) Update(identity *models.Identity, credential models.Credential) {
	if !m.setDesired(targetFor(identity, credential)) {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_ = m.reconcile(context.Background())
	}()
}

// Sync is Update that waits for reconciliation and returns the dial error, if any.
func (m *Manager) Sync(ctx context.Context, identity *models.Identity, credential models.Credential) error {
	if !m.setDesired(targetFor(identity, credential)) {
		return nil
	}
	return m.reconcile(ctx)
}

func (m *Manager) setDesired(t target) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.desired = t
	return true
}

func (m *Manager) reconcile(ctx context.Context) error {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	for {
		m.mu.Lock()
		want := m.desired
		if want.key == m.connKey && (want.key == "" || m.conn != nil) {
			m.mu.Unlock()
			return nil
		}
		old := m.conn
		m.conn = nil
		m.connKey = ""
		m.gen++
		gen := m.gen
		m.mu.Unlock()

		if old != nil {
			if err := old.Close(); err != nil {
				m.logger.Debug().Err(err).Msg("close error")
			}
			m.transition(Disconnected)
			m.logger.Info().Msg("channel closed")
		}
		if want.key == "" {
			continue
		}

		m.transition(Connecting)
		conn, err := m.dialer.Dial(ctx, want.credential, func(ev Inbound) { m.dispatch(gen, ev) })

		m.mu.Lock()
		stale := m.desired.key != want.key
		if err == nil && !stale {
			m.conn = conn
			m.connKey = want.key
		}
		m.mu.Unlock()

		if err != nil {
			metrics.ChannelConnects.WithLabelValues("error").Inc()
			m.transition(Disconnected)
			m.logger.Warn().Err(err).Str("user_id", want.userID).Msg("connect_error")
			if stale {
				continue
			}
			return err
		}
		if stale {
			conn.Close()
			m.transition(Disconnected)
			continue
		}

		metrics.ChannelConnects.WithLabelValues("ok").Inc()
		m.transition(Connected)
		m.logger.Info().Str("user_id", want.userID).Msg("connect")

		m.wg.Add(1)
		go m.watch(conn, gen)
	}
}

// watch marks the channel disconnected when the transport drops. There is
// no automatic reconnect.
func (m *Manager) watch(conn Conn, gen uint64) {
	defer m.wg.Done()
	<-conn.Done()

	m.mu.Lock()
	current := m.gen == gen && m.conn == conn
	if current {
		m.conn = nil
		m.connKey = ""
	}
	m.mu.Unlock()

	if current {
		m.transition(Disconnected)
	}
}

func (m *Manager) transition(st State) {
	m.mu.Lock()
	if m.state == st {
		m.mu.Unlock()
		return
	}
	m.state = st
	fns := make([]func(State), 0, len(m.stateSubs))
	for _, fn := range m.stateSubs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	metrics.ChannelState.Set(float64(st))
	for _, fn := range fns {
		fn(st)
	}
}

func (m *Manager) dispatch(gen uint64, ev Inbound) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	fns := make([]func(Inbound), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Emit sends an event on the current connection.
func (m *Manager) Emit(ev Outbound) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return conn.Emit(ev)
}

// Subscribe registers fn for inbound events from whichever connection is
// current. fn runs on the connection's read goroutine.
func (m *Manager) Subscribe(fn func(Inbound)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// OnStateChange registers fn for state transitions.
func (m *Manager) OnStateChange(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.stateSubs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.stateSubs, id)
		m.mu.Unlock()
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether a connection is up. It is advisory: the
// connection may drop right after.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && m.state == Connected
}

// Close tears down the connection and stops background work. The Manager
// cannot be reused.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.desired = target{}
	m.mu.Unlock()

	_ = m.reconcile(context.Background())
	m.wg.Wait()
}
