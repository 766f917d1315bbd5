package storage

import "sync"

// Memory is the in-process store. Nothing survives a restart; useful for
// tests and throwaway sessions.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	m.data = make(map[string]string)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}

func (m *Memory) Cursor(chatMid string) (Cursor, bool) {
	return getCursor(m, chatMid)
}

func (m *Memory) SetCursor(chatMid string, cur Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[syncPrefix+chatMid] = cur.SyncToken
	if cur.ContinuationToken == "" {
		delete(m.data, contPrefix+chatMid)
	} else {
		m.data[contPrefix+chatMid] = cur.ContinuationToken
	}
	return nil
}
