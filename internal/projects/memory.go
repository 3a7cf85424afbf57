package projects

import (
	"context"
	"sync"

	"github.com/fundmentor/signaling/internal/core"
	"github.com/fundmentor/signaling/internal/domain"
)

// MemoryDirectory is an in-process directory used in dev mode and tests.
// Lookups run from short-lived goroutines, hence the lock.
type MemoryDirectory struct {
	mu     sync.RWMutex
	owners map[domain.RoomID]domain.UserID
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{owners: make(map[domain.RoomID]domain.UserID)}
}

func (d *MemoryDirectory) SetOwner(room domain.RoomID, owner domain.UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.owners[room] = owner
}

func (d *MemoryDirectory) Owner(_ context.Context, room domain.RoomID) (domain.UserID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	owner, ok := d.owners[room]
	if !ok {
		return "", core.ErrProjectNotFound
	}
	return owner, nil
}
