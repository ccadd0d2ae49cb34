package wp6003

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// SessionManager runs at most one GATT session per entry.
type SessionManager struct {
	resolver Resolver
	dialer   Dialer
	bus      Publisher
	opts     SessionOptions
	logger   logrus.FieldLogger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager returns a manager with no sessions.
func NewSessionManager(resolver Resolver, dialer Dialer, bus Publisher, opts SessionOptions, logger logrus.FieldLogger) *SessionManager {
	return &SessionManager{
		resolver: resolver,
		dialer:   dialer,
		bus:      bus,
		opts:     opts.withDefaults(),
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Start launches the background session for entryID. It reports false and
// does nothing when one is already running.
func (m *SessionManager) Start(entryID, address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[entryID]; ok {
		return false
	}

	s := newSession(entryID, address, m.resolver, m.dialer, m.bus, m.opts, m.logger)
	m.sessions[entryID] = s
	s.start()
	s.logger.Info("GATT background session started")
	return true
}

// Stop cancels the session of entryID and waits for it to end. Unknown
// entries are ignored.
func (m *SessionManager) Stop(entryID string) {
	m.mu.Lock()
	s, ok := m.sessions[entryID]
	delete(m.sessions, entryID)
	m.mu.Unlock()

	if !ok {
		return
	}

	s.stop()
	sessionState.DeleteLabelValues(entryID)
	s.logger.Info("GATT background session stopped")
}

// Session returns the running session of entryID.
func (m *SessionManager) Session(entryID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[entryID]
	return s, ok
}

// Len returns the number of running sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
