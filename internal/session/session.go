// Package session holds the authenticated identity and its bearer
// credential, persists them as a pair, and tells dependents when they change.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/carelink/clients/go/carelink"
	"github.com/eldtechnologies/carelink/internal/crypto"
	"github.com/eldtechnologies/carelink/internal/metrics"
	"github.com/eldtechnologies/carelink/internal/models"
	"github.com/eldtechnologies/carelink/internal/store"
)

// ErrIncompleteSession is returned when the backend answers an auth call
// without a usable identity or token. Nothing is stored in that case.
var ErrIncompleteSession = errors.New("session: incomplete auth response")

// Authenticator performs the backend auth calls. *carelink.Client implements it.
type Authenticator interface {
	Login(ctx context.Context, req carelink.LoginRequest) (*carelink.AuthResponse, error)
	Register(ctx context.Context, req carelink.RegisterRequest) (*carelink.AuthResponse, error)
}

// State is a point-in-time view of the session. Identity is nil exactly
// when Credential is empty.
type State struct {
	Restored   bool
	Identity   *models.Identity
	Credential models.Credential
}

// Authenticated reports whether the state carries an identity.
func (s State) Authenticated() bool {
	return s.Identity != nil
}

// Role returns the identity's role, or "" when unauthenticated.
func (s State) Role() models.Role {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.Role
}

// Store is the single source of truth for who is logged in.
type Store struct {
	kv     store.Store
	auth   Authenticator
	sealer *crypto.Sealer
	logger zerolog.Logger

	mu         sync.RWMutex
	restored   bool
	identity   *models.Identity
	credential models.Credential

	// notifyMu keeps observer deliveries in mutation order.
	notifyMu  sync.Mutex
	subMu     sync.Mutex
	subs      map[int]func(State)
	nextSubID int
}

// New creates a Store. sealer may be nil, in which case the credential is
// persisted as is.
func New(kv store.Store, auth Authenticator, sealer *crypto.Sealer, logger zerolog.Logger) *Store {
	return &Store{
		kv:     kv,
		auth:   auth,
		sealer: sealer,
		logger: logger.With().Str("component", "session").Logger(),
		subs:   make(map[int]func(State)),
	}
}

// Restore loads the persisted pair. A missing or unreadable half clears
// both halves and leaves the session unauthenticated. Restore always marks
// the store restored, even when it returns an error.
func (s *Store) Restore(ctx context.Context) error {
	identity, credential, err := s.load(ctx)

	s.mu.Lock()
	s.restored = true
	switch {
	case err == nil && identity != nil:
		s.identity = identity
		s.credential = credential
		metrics.SessionEvents.WithLabelValues("restore").Inc()
		s.logger.Info().Str("user_id", identity.ID).Str("role", string(identity.Role)).Msg("session restored")
	case errors.Is(err, errCorrupt):
		metrics.SessionEvents.WithLabelValues("restore_corrupt").Inc()
		s.logger.Warn().Err(err).Msg("discarding persisted session")
		if delErr := s.kv.Delete(ctx, store.KeyIdentity, store.KeyCredential); delErr != nil {
			s.logger.Error().Err(delErr).Msg("failed to clear persisted session")
		}
		err = nil
	}
	s.publishLocked()

	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	return nil
}

var errCorrupt = errors.New("persisted session corrupt")

// load returns (nil, "", nil) when nothing is persisted.
func (s *Store) load(ctx context.Context) (*models.Identity, models.Credential, error) {
	rawIdentity, idErr := s.kv.Get(ctx, store.KeyIdentity)
	if idErr != nil && !errors.Is(idErr, store.ErrNotFound) {
		return nil, "", idErr
	}
	sealed, credErr := s.kv.Get(ctx, store.KeyCredential)
	if credErr != nil && !errors.Is(credErr, store.ErrNotFound) {
		return nil, "", credErr
	}

	idMissing := errors.Is(idErr, store.ErrNotFound)
	credMissing := errors.Is(credErr, store.ErrNotFound)
	if idMissing && credMissing {
		return nil, "", nil
	}
	if idMissing || credMissing {
		return nil, "", fmt.Errorf("%w: half of the pair is missing", errCorrupt)
	}

	var identity models.Identity
	if err := json.Unmarshal(rawIdentity, &identity); err != nil {
		return nil, "", fmt.Errorf("%w: %v", errCorrupt, err)
	}
	if !identity.Complete() {
		return nil, "", fmt.Errorf("%w: identity incomplete", errCorrupt)
	}

	token, err := s.sealer.Open(sealed)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", errCorrupt, err)
	}
	if len(token) == 0 {
		return nil, "", fmt.Errorf("%w: empty credential", errCorrupt)
	}

	return &identity, models.Credential(token), nil
}

// Login authenticates against the backend and stores the returned pair.
// On failure the server's message is returned and the session is unchanged.
func (s *Store) Login(ctx context.Context, email, password string, role models.Role) (*models.Identity, error) {
	resp, err := s.auth.Login(ctx, carelink.LoginRequest{Email: email, Password: password, Role: role})
	if err != nil {
		metrics.SessionEvents.WithLabelValues("auth_failed").Inc()
		return nil, err
	}
	return s.adopt(ctx, "login", resp)
}

// Register creates an account and stores the returned pair, with the same
// all-or-nothing contract as Login.
func (s *Store) Register(ctx context.Context, req carelink.RegisterRequest) (*models.Identity, error) {
	resp, err := s.auth.Register(ctx, req)
	if err != nil {
		metrics.SessionEvents.WithLabelValues("auth_failed").Inc()
		return nil, err
	}
	return s.adopt(ctx, "register", resp)
}

func (s *Store) adopt(ctx context.Context, event string, resp *carelink.AuthResponse) (*models.Identity, error) {
	if resp == nil || !resp.User.Complete() || resp.Token == "" {
		metrics.SessionEvents.WithLabelValues("auth_failed").Inc()
		return nil, ErrIncompleteSession
	}

	identity := resp.User
	rawIdentity, err := json.Marshal(identity)
	if err != nil {
		return nil, err
	}
	sealed, err := s.sealer.Seal([]byte(resp.Token))
	if err != nil {
		return nil, fmt.Errorf("seal credential: %w", err)
	}

	s.mu.Lock()
	if err := s.kv.SetMany(ctx, map[string][]byte{
		store.KeyIdentity:   rawIdentity,
		store.KeyCredential: sealed,
	}); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("persist session: %w", err)
	}
	s.restored = true
	s.identity = &identity
	s.credential = models.Credential(resp.Token)
	s.publishLocked()

	metrics.SessionEvents.WithLabelValues(event).Inc()
	s.logger.Info().Str("user_id", identity.ID).Str("role", string(identity.Role)).Msg(event + " succeeded")

	out := identity
	return &out, nil
}

// Logout clears the pair. The in-memory session is cleared even if the
// storage delete fails. Calling Logout on an unauthenticated store does
// nothing.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.identity == nil {
		s.mu.Unlock()
		return nil
	}
	userID := s.identity.ID
	s.identity = nil
	s.credential = ""
	err := s.kv.Delete(ctx, store.KeyIdentity, store.KeyCredential)
	s.publishLocked()

	metrics.SessionEvents.WithLabelValues("logout").Inc()
	s.logger.Info().Str("user_id", userID).Msg("logged out")

	if err != nil {
		return fmt.Errorf("clear persisted session: %w", err)
	}
	return nil
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Token returns the current credential, or "". It suits carelink.Client.TokenSource.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return string(s.credential)
}

func (s *Store) snapshotLocked() State {
	st := State{Restored: s.restored, Credential: s.credential}
	if s.identity != nil {
		id := *s.identity
		st.Identity = &id
	}
	return st
}

// Subscribe registers fn to receive the state after every mutation. fn runs
// outside the store lock but must not call Login, Register or Logout
// synchronously. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(State)) func() {
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

// publishLocked must be called with mu held; it releases mu.
func (s *Store) publishLocked() {
	st := s.snapshotLocked()
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	s.subMu.Lock()
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}
