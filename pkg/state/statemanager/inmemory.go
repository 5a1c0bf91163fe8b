package statemanager

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kurodenjiro/cryto-chat/pkg/state"
)

type InMemoryManager struct {
	sessions map[string]*state.Session
	// group name -> member ids in join order
	groups    map[string][]string
	modifiers map[modifierKey]*state.ModifierState

	sessionMu  sync.RWMutex
	groupMu    sync.RWMutex
	modifierMu sync.Mutex

	logger *slog.Logger
}

type modifierKey struct {
	modifier string
	connID   string
	action   string
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		sessions:  make(map[string]*state.Session),
		groups:    make(map[string][]string),
		modifiers: make(map[modifierKey]*state.ModifierState),
		logger:    logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

// --- Session Lifecycle ---

func (m *InMemoryManager) RegisterSession(s *state.Session) error {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return state.ErrDuplicateID
	}
	m.sessions[s.ID] = s
	m.logger.Debug("Session registered", slog.String("connID", s.ID))
	return nil
}

func (m *InMemoryManager) DeregisterSession(id string) (string, bool, error) {
	group, err := m.Leave(id)
	wasJoined := err == nil
	if err != nil && !errors.Is(err, state.ErrWrongPhase) {
		return "", false, err
	}

	m.sessionMu.Lock()
	s := m.sessions[id]
	delete(m.sessions, id)
	m.sessionMu.Unlock()

	if s != nil {
		s.Destroy()
	}
	m.cancelModifierState(id)
	m.logger.Debug("Session deregistered", slog.String("connID", id))
	return group, wasJoined, nil
}

func (m *InMemoryManager) GetSession(id string) (*state.Session, bool) {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *InMemoryManager) Sessions() []*state.Session {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()

	out := make([]*state.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func (m *InMemoryManager) SessionCount() int {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()
	return len(m.sessions)
}

func (m *InMemoryManager) CountByIP(ip string) int {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()

	n := 0
	for _, s := range m.sessions {
		if s.IPAddress == ip {
			n++
		}
	}
	return n
}

func (m *InMemoryManager) FindOldestByIP(ip string) (*state.Session, bool) {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()

	var oldest *state.Session
	for _, s := range m.sessions {
		if s.IPAddress != ip {
			continue
		}
		if oldest == nil || s.CreatedAt.Before(oldest.CreatedAt) {
			oldest = s
		}
	}
	return oldest, oldest != nil
}

// --- Group Directory ---

func (m *InMemoryManager) Join(id, group string) error {
	m.sessionMu.RLock()
	s, ok := m.sessions[id]
	m.sessionMu.RUnlock()
	if !ok {
		return fmt.Errorf("cannot join group %q: %w", group, state.ErrUnknownSession)
	}

	m.groupMu.Lock()
	defer m.groupMu.Unlock()

	if err := s.EnterGroup(group); err != nil {
		return err
	}
	m.groups[group] = append(m.groups[group], id)

	m.logger.Debug("Session joined group", slog.String("connID", id), slog.String("group", group), slog.Int("members", len(m.groups[group])))
	return nil
}

func (m *InMemoryManager) Leave(id string) (string, error) {
	m.sessionMu.RLock()
	s, ok := m.sessions[id]
	m.sessionMu.RUnlock()
	if !ok {
		return "", state.ErrUnknownSession
	}

	m.groupMu.Lock()
	defer m.groupMu.Unlock()

	group, joined := s.ExitGroup()
	if !joined {
		return "", state.ErrWrongPhase
	}

	members := m.groups[group]
	for i, memberID := range members {
		if memberID == id {
			members = append(members[:i:i], members[i+1:]...)
			break
		}
	}

	// For memory hygiene, remove the group if it's now empty.
	if len(members) == 0 {
		delete(m.groups, group)
		m.logger.Debug("Removed empty group", slog.String("group", group))
	} else {
		m.groups[group] = members
	}

	m.logger.Debug("Session left group", slog.String("connID", id), slog.String("group", group))
	return group, nil
}

func (m *InMemoryManager) GroupMembers(group string) ([]*state.Session, error) {
	m.groupMu.RLock()
	ids, ok := m.groups[group]
	ids = append([]string(nil), ids...)
	m.groupMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("group %q not found", group)
	}

	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()

	members := make([]*state.Session, 0, len(ids))
	for _, id := range ids {
		if s, ok := m.sessions[id]; ok {
			members = append(members, s)
		}
	}
	return members, nil
}

func (m *InMemoryManager) GroupCount() int {
	m.groupMu.RLock()
	defer m.groupMu.RUnlock()
	return len(m.groups)
}

// --- Modifier store ---

func (m *InMemoryManager) GetModifierState(modifierName, connID, action string) (*state.ModifierState, bool) {
	m.modifierMu.Lock()
	defer m.modifierMu.Unlock()
	st, ok := m.modifiers[modifierKey{modifierName, connID, action}]
	return st, ok
}

func (m *InMemoryManager) SetModifierState(modifierName, connID, action string, st *state.ModifierState) {
	m.modifierMu.Lock()
	defer m.modifierMu.Unlock()

	key := modifierKey{modifierName, connID, action}
	if prev, ok := m.modifiers[key]; ok && prev.Timer != nil && prev != st {
		prev.Timer.Stop()
	}
	m.modifiers[key] = st
}

func (m *InMemoryManager) DeleteModifierState(modifierName, connID, action string) {
	m.modifierMu.Lock()
	defer m.modifierMu.Unlock()
	delete(m.modifiers, modifierKey{modifierName, connID, action})
}

func (m *InMemoryManager) cancelModifierState(connID string) {
	m.modifierMu.Lock()
	defer m.modifierMu.Unlock()

	for key, st := range m.modifiers {
		if key.connID != connID {
			continue
		}
		if st.Timer != nil {
			st.Timer.Stop()
		}
		delete(m.modifiers, key)
	}
}
