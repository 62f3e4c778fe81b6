// Package session tracks the monitoring session lifecycle: whether a session
// is absent, active, or being viewed historically, and keeps the local view
// reconciled with the server's notion of "the active session".
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wellness/vigil/internal/types"
)

// State is the client's session lifecycle state.
type State int

const (
	// NoSession: nothing monitored, nothing viewed.
	NoSession State = iota
	// Active: a live session is being monitored.
	Active
	// ViewingHistory: no live session, but a past session's data is displayed.
	ViewingHistory
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case ViewingHistory:
		return "viewing_history"
	default:
		return "no_session"
	}
}

// API is the slice of the server client the manager needs.
type API interface {
	StartSession(ctx context.Context, userID int64) (*types.Session, error)
	StopSession(ctx context.Context, sessionID int64) (*types.Session, error)
	ActiveSession(ctx context.Context, userID int64) (*types.Session, error)
	SessionHistory(ctx context.Context, userID int64) ([]types.Session, error)
}

// Listener is notified when the live session changes. Called with the
// manager's lock released, after the state swap is complete, so listeners
// always observe a fully switched session (no partial switches).
type Listener interface {
	SessionStarted(s types.Session)
	SessionEnded(sessionID int64)
}

// Manager is the session state machine. The operator identity is an explicit
// value threaded in at construction, never a package-level constant.
type Manager struct {
	api      API
	userID   int64
	listener Listener

	reconcileInterval time.Duration

	// opMu serializes Start and Stop end to end, so two concurrent commands
	// cannot both pass the already-active check and reach the server
	opMu sync.Mutex

	mu     sync.RWMutex
	active *types.Session
	viewID int64
}

// NewManager creates a manager for one operator.
func NewManager(api API, userID int64, reconcileInterval time.Duration, listener Listener) *Manager {
	return &Manager{
		api:               api,
		userID:            userID,
		listener:          listener,
		reconcileInterval: reconcileInterval,
	}
}

// Start requests a new session from the server. On failure the state is left
// unchanged and the error is user-visible.
func (m *Manager) Start(ctx context.Context) (*types.Session, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	existing := m.active
	m.mu.RUnlock()
	if existing != nil {
		return nil, fmt.Errorf("session %d is already active", existing.ID)
	}

	session, err := m.api.StartSession(ctx, m.userID)
	if err != nil {
		return nil, fmt.Errorf("Failed to start session: %w", err)
	}

	m.adopt(*session)
	slog.Info("session started", "session_id", session.ID, "user_id", m.userID)
	return session, nil
}

// Stop requests termination of the live session. There is no optimistic
// termination: on failure the local state stays Active and the error is
// user-visible.
func (m *Manager) Stop(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()
	if active == nil {
		return nil
	}

	if _, err := m.api.StopSession(ctx, active.ID); err != nil {
		return fmt.Errorf("Failed to stop session: %w", err)
	}

	m.mu.Lock()
	m.active = nil
	// The stopped session's data stays viewable
	m.mu.Unlock()

	slog.Info("session stopped", "session_id", active.ID)
	if m.listener != nil {
		m.listener.SessionEnded(active.ID)
	}
	return nil
}

// Reconcile performs one poll of the server's active session. If the server
// reports one and the client believes there is none, it is adopted. A failed
// poll is swallowed: it never clears an Active state the client holds, and
// it is never surfaced as a user-facing error.
func (m *Manager) Reconcile(ctx context.Context) {
	session, err := m.api.ActiveSession(ctx, m.userID)
	if err != nil {
		slog.Debug("session reconciliation failed", "error", err)
		return
	}
	if session == nil || session.Status != types.SessionActive {
		return
	}

	m.mu.RLock()
	known := m.active != nil
	m.mu.RUnlock()
	if known {
		return
	}

	slog.Info("adopting externally-started session", "session_id", session.ID)
	m.adopt(*session)
}

// RunReconciler polls on a fixed interval until ctx is cancelled. Runs
// independently of every other timer; no relative ordering is assumed.
func (m *Manager) RunReconciler(ctx context.Context) {
	ticker := time.NewTicker(m.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reconcile(ctx)
		}
	}
}

// adopt atomically swaps the live session: state and view id are updated
// together under the lock before any listener observes the change, so new
// camera frames can never be tagged with the old session id.
func (m *Manager) adopt(session types.Session) {
	m.mu.Lock()
	m.active = &session
	m.viewID = session.ID
	m.mu.Unlock()

	if m.listener != nil {
		m.listener.SessionStarted(session)
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case m.active != nil:
		return Active
	case m.viewID != 0:
		return ViewingHistory
	default:
		return NoSession
	}
}

// Active returns a copy of the live session, if any.
func (m *Manager) Active() *types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return nil
	}
	s := *m.active
	return &s
}

// ViewSession returns the session id whose data is displayed. It may differ
// from the live session when browsing history.
func (m *Manager) ViewSession() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.viewID
}

// SetViewSession switches which session's statistics are displayed. It never
// touches the live session.
func (m *Manager) SetViewSession(sessionID int64) {
	m.mu.Lock()
	m.viewID = sessionID
	m.mu.Unlock()
	slog.Debug("view session changed", "session_id", sessionID)
}

// History fetches the operator's past sessions from the server.
func (m *Manager) History(ctx context.Context) ([]types.Session, error) {
	sessions, err := m.api.SessionHistory(ctx, m.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session history: %w", err)
	}
	return sessions, nil
}
