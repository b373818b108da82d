package catalog

import (
	"sync"
)

// Mirror is the in-process read-optimized copy of the catalog, ordered
// newest first. It is loaded once at startup and thereafter maintained
// incrementally by the create/update/delete operations of the service;
// writes that bypass those operations (manual database edits) leave the
// mirror stale until Reload is called. The repository stays authoritative.
type Mirror struct {
	mu     sync.RWMutex
	charts []ChartRecord
}

// NewMirror builds a mirror seeded with the given records, which must
// already be ordered newest first.
func NewMirror(records []ChartRecord) *Mirror {
	return &Mirror{charts: append([]ChartRecord(nil), records...)}
}

// InsertFront adds a newly created chart at the head of the list.
func (m *Mirror) InsertFront(record ChartRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charts = append([]ChartRecord{record}, m.charts...)
}

// Replace swaps the record with the same name in place, preserving order.
// It reports whether the name was present.
func (m *Mirror) Replace(record ChartRecord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.charts {
		if m.charts[i].Name == record.Name {
			m.charts[i] = record
			return true
		}
	}
	return false
}

// Remove drops the named record. It reports whether the name was present.
func (m *Mirror) Remove(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.charts {
		if m.charts[i].Name == name {
			m.charts = append(m.charts[:i:i], m.charts[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns a copy of the named record.
func (m *Mirror) Get(name string) (ChartRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.charts {
		if m.charts[i].Name == name {
			return m.charts[i], true
		}
	}
	return ChartRecord{}, false
}

// Snapshot returns a copy of the full ordered list.
func (m *Mirror) Snapshot() []ChartRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ChartRecord(nil), m.charts...)
}

// Len returns the number of mirrored records.
func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.charts)
}

// Reload replaces the mirror contents wholesale. This is the only recovery
// path after out-of-band repository writes.
func (m *Mirror) Reload(records []ChartRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charts = append([]ChartRecord(nil), records...)
}
