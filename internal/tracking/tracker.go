package tracking

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"ms-booking/internal/models"
)

// Record is what admission knows about a tracking id before, or instead of,
// a ledger entry existing.
type Record struct {
	TrackingID string                `json:"tracking_id"`
	State      models.AdmissionState `json:"state"`
	Reason     string                `json:"reason,omitempty"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, trackingID string) (Record, bool, error)
}

type memoryEntry struct {
	rec     Record
	expires time.Time
}

// MemoryStore keeps records in process for ttl.
type MemoryStore struct {
	records *xsync.MapOf[string, memoryEntry]
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{records: xsync.NewMapOf[string, memoryEntry](), ttl: ttl, now: time.Now}
}

func (m *MemoryStore) Put(_ context.Context, rec Record) error {
	e := memoryEntry{rec: rec}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.records.Store(rec.TrackingID, e)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, trackingID string) (Record, bool, error) {
	e, ok := m.records.Load(trackingID)
	if !ok {
		return Record{}, false, nil
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		m.records.Delete(trackingID)
		return Record{}, false, nil
	}
	return e.rec, true, nil
}

// Purge drops expired records and returns how many were removed.
func (m *MemoryStore) Purge() int {
	now := m.now()
	n := 0
	m.records.Range(func(key string, e memoryEntry) bool {
		if !e.expires.IsZero() && now.After(e.expires) {
			m.records.Delete(key)
			n++
		}
		return true
	})
	return n
}
