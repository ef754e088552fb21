package signal

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSessionNotFound is returned by a Store for unknown codes.
var ErrSessionNotFound = errors.New("session not found")

// SessionRecord is the metadata kept for a live session.
type SessionRecord struct {
	Code      string    `json:"code"`
	Tag       string    `json:"tag,omitempty"`
	Owner     string    `json:"owner,omitempty"`
	HostID    string    `json:"hostId"`
	GuestID   string    `json:"guestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists session records so codes stay unique across relay instances.
type Store interface {
	Put(ctx context.Context, rec SessionRecord) error
	Get(ctx context.Context, code string) (SessionRecord, error)
	Delete(ctx context.Context, code string) error
	Exists(ctx context.Context, code string) (bool, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]SessionRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]SessionRecord)}
}

// Put stores rec under its code.
func (m *MemoryStore) Put(_ context.Context, rec SessionRecord) error {
	m.mu.Lock()
	m.records[rec.Code] = rec
	m.mu.Unlock()
	return nil
}

// Get returns the record for code.
func (m *MemoryStore) Get(_ context.Context, code string) (SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[code]
	if !ok {
		return SessionRecord{}, ErrSessionNotFound
	}
	return rec, nil
}

// Delete removes the record for code.
func (m *MemoryStore) Delete(_ context.Context, code string) error {
	m.mu.Lock()
	delete(m.records, code)
	m.mu.Unlock()
	return nil
}

// Exists reports whether code has a record.
func (m *MemoryStore) Exists(_ context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[code]
	return ok, nil
}

var _ Store = (*MemoryStore)(nil)
