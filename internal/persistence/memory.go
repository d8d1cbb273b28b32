package persistence

import (
	"context"
	"sync"

	"trade-import-service/internal/models"
)

// StoredImport is one import held by a MemoryStore.
type StoredImport struct {
	Filename string
	Trades   []models.CanonicalTrade
}

// MemoryStore keeps imports in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	imports []StoredImport
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Commit records the import.
func (m *MemoryStore) Commit(ctx context.Context, filename string, trades []models.CanonicalTrade) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.imports = append(m.imports, StoredImport{
		Filename: filename,
		Trades:   append([]models.CanonicalTrade(nil), trades...),
	})
	return len(trades), nil
}

// Imports returns a copy of the stored imports in commit order.
func (m *MemoryStore) Imports() []StoredImport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StoredImport(nil), m.imports...)
}

// String returns a description for logs.
func (m *MemoryStore) String() string {
	return "memory"
}
