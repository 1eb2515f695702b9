package analysis

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("analysis not found")

// Archive persists analyses for later retrieval.
type Archive interface {
	Save(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Record, int, error)
}

// MemoryArchive keeps the most recent records in process memory. It is used
// when no database is configured.
type MemoryArchive struct {
	mu       sync.RWMutex
	capacity int
	records  []*Record
	byID     map[uuid.UUID]*Record
}

// NewMemoryArchive creates a MemoryArchive holding at most capacity records;
// zero or less means unbounded.
func NewMemoryArchive(capacity int) *MemoryArchive {
	return &MemoryArchive{capacity: capacity, byID: make(map[uuid.UUID]*Record)}
}

func (m *MemoryArchive) Save(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	cp := *r
	m.records = append(m.records, &cp)
	m.byID[cp.ID] = &cp

	if m.capacity > 0 && len(m.records) > m.capacity {
		evicted := m.records[0]
		m.records = m.records[1:]
		delete(m.byID, evicted.ID)
	}
	return nil
}

func (m *MemoryArchive) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// List returns matching records newest first.
func (m *MemoryArchive) List(_ context.Context, f ListFilter, limit, offset int) ([]*Record, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Record
	for _, r := range m.records {
		if f.matches(r) {
			cp := *r
			matched = append(matched, &cp)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if offset >= total {
		return []*Record{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}
