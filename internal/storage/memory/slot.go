// Package memory provides an in-process history slot.
package memory

import (
	"context"
	"sync"

	"github.com/verdantsentinel/backend/internal/service/history"
)

// Slot keeps the history log in memory. It is lost on restart.
type Slot struct {
	mu      sync.Mutex
	data    []byte
	version int64
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Read implements history.Slot.
func (s *Slot) Read(ctx context.Context) ([]byte, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...), s.version, nil
}

// Write implements history.Slot.
func (s *Slot) Write(ctx context.Context, data []byte, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != expectedVersion {
		return history.ErrVersionConflict
	}
	s.data = append([]byte(nil), data...)
	s.version++
	return nil
}

// Clear implements history.Slot.
func (s *Slot) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.data, s.version = nil, 0
	s.mu.Unlock()
	return nil
}
