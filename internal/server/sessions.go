package server

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ironsheep/image-magick-mcp/internal/magick"
)

// sessionStore tracks open image sessions by id.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*magick.Session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*magick.Session)}
}

func (st *sessionStore) add(s *magick.Session) string {
	id := uuid.NewString()
	st.mu.Lock()
	st.sessions[id] = s
	st.mu.Unlock()
	return id
}

func (st *sessionStore) get(id string) (*magick.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, fmt.Errorf("unknown session: %s", id)
	}
	return s, nil
}

func (st *sessionStore) remove(id string) (*magick.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, fmt.Errorf("unknown session: %s", id)
	}
	delete(st.sessions, id)
	return s, nil
}

func (st *sessionStore) len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// closeAll closes and forgets every session, returning how many there were.
func (st *sessionStore) closeAll() int {
	st.mu.Lock()
	sessions := st.sessions
	st.sessions = make(map[string]*magick.Session)
	st.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
	return len(sessions)
}
