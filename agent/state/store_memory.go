package state

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryStore keeps encoded sessions in process memory. Used by the CLI and tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]byte, 16)}
}

func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*ConversationState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}
	m.mu.Lock()
	payload, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrStateNotFound
	}
	return decodeState(payload)
}

func (m *MemoryStore) Save(ctx context.Context, st *ConversationState) error {
	if err := prepareSave(st); err != nil {
		return err
	}
	payload, err := encodeNextVersion(st)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var stored int64
	if cur, ok := m.sessions[st.SessionID]; ok {
		prev, err := decodeState(cur)
		if err != nil {
			return err
		}
		stored = prev.Version
	}
	if stored != st.Version {
		return fmt.Errorf("%w: session=%s stored_version=%d expected_version=%d",
			ErrStateConflict, st.SessionID, stored, st.Version)
	}

	m.sessions[st.SessionID] = payload
	st.Version++
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return nil
}
