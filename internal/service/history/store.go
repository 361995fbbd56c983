// Package history keeps the log of completed analyses in a single
// key-value slot.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/verdantsentinel/backend/internal/metrics"
	historymodel "github.com/verdantsentinel/backend/internal/model/history"
)

var (
	ErrVersionConflict = errors.New("history slot was modified concurrently")
	ErrRecordNotFound  = errors.New("history record not found")
)

// Slot is a single versioned value. Version 0 means the slot is empty.
// Write fails with ErrVersionConflict when the stored version differs from
// expectedVersion.
type Slot interface {
	Read(ctx context.Context) (data []byte, version int64, err error)
	Write(ctx context.Context, data []byte, expectedVersion int64) error
	Clear(ctx context.Context) error
}

// Store 是分析历史的读写入口。
type Store struct {
	slot     Slot
	attempts int
	now      func() time.Time
}

// NewStore wraps slot. attempts bounds the optimistic write retries.
func NewStore(slot Slot, attempts int) *Store {
	if attempts < 1 {
		attempts = 1
	}
	return &Store{slot: slot, attempts: attempts, now: time.Now}
}

// Add assigns an id, prepends the record and writes the log back.
func (s *Store) Add(ctx context.Context, rec historymodel.Record) (historymodel.Record, error) {
	if err := rec.Validate(); err != nil {
		return historymodel.Record{}, err
	}
	rec.ID = uuid.NewString()
	if rec.Date.IsZero() {
		rec.Date = s.now().UTC()
	}

	for attempt := 1; ; attempt++ {
		records, version, err := s.load(ctx)
		if err != nil {
			metrics.HistoryWritesTotal.WithLabelValues("error").Inc()
			return historymodel.Record{}, err
		}

		data, err := json.Marshal(append([]historymodel.Record{rec}, records...))
		if err != nil {
			return historymodel.Record{}, fmt.Errorf("encode history: %w", err)
		}

		err = s.slot.Write(ctx, data, version)
		if err == nil {
			metrics.HistoryWritesTotal.WithLabelValues("ok").Inc()
			return rec, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			metrics.HistoryWritesTotal.WithLabelValues("error").Inc()
			return historymodel.Record{}, fmt.Errorf("write history: %w", err)
		}

		metrics.HistoryWritesTotal.WithLabelValues("conflict").Inc()
		if attempt >= s.attempts {
			return historymodel.Record{}, err
		}
		log.Debug().Str("component", "history").Int("attempt", attempt).Msg("history write conflict, retrying")
	}
}

// List returns every record, newest first. A corrupt slot reads as empty.
func (s *Store) List(ctx context.Context) ([]historymodel.Record, error) {
	records, _, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date.After(records[j].Date)
	})
	return records, nil
}

// Get returns one record by id.
func (s *Store) Get(ctx context.Context, id string) (historymodel.Record, error) {
	id = strings.TrimSpace(id)
	records, _, err := s.load(ctx)
	if err != nil {
		return historymodel.Record{}, err
	}
	for _, rec := range records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return historymodel.Record{}, ErrRecordNotFound
}

// Clear removes the whole log unconditionally.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.slot.Clear(ctx); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// load reads and decodes the slot. Undecodable data is logged and treated
// as an empty log; the version is still returned so the next write replaces it.
func (s *Store) load(ctx context.Context) ([]historymodel.Record, int64, error) {
	data, version, err := s.slot.Read(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("read history: %w", err)
	}
	if len(data) == 0 {
		return []historymodel.Record{}, version, nil
	}

	var records []historymodel.Record
	if err := json.Unmarshal(data, &records); err != nil {
		log.Error().Err(err).Str("component", "history").Int("bytes", len(data)).Msg("history slot is corrupt, treating as empty")
		return []historymodel.Record{}, version, nil
	}
	if records == nil {
		records = []historymodel.Record{}
	}
	return records, version, nil
}
