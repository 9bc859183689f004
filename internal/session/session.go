// Package session tracks per-conversation memory accounting and idle
// expiry. The manager never schedules its own cleanup; the owner drives
// Sweep from a ticker so behavior stays deterministic under test.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nexd/internal/fault"
)

// Record is one live session.
type Record struct {
	ID         string
	MemoryMB   int
	LastAccess time.Time
	Created    time.Time
}

// Config bounds the manager. MaxSessions <= 0 means unbounded; IdleTimeout
// <= 0 disables sweeping.
type Config struct {
	MaxSessions int
	IdleTimeout time.Duration
}

// Manager owns the session table.
type Manager struct {
	cfg   Config
	log   zerolog.Logger
	clock func() time.Time

	mu       sync.Mutex
	sessions map[string]*Record
	memoryMB int

	created uint64
	evicted uint64
	expired uint64
}

func NewManager(cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		log:      log,
		clock:    time.Now,
		sessions: make(map[string]*Record),
	}
}

// Touch refreshes the session's last-access time, creating it if absent.
// Creating past the session bound evicts the oldest sessions first, so Touch
// never fails for a valid id.
func (m *Manager) Touch(id string) (*Record, error) {
	if id == "" {
		return nil, fault.New(fault.InvalidArgument, "empty session id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	if r, ok := m.sessions[id]; ok {
		r.LastAccess = now
		return r, nil
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.evictOldestLocked(len(m.sessions) - m.cfg.MaxSessions + 1)
	}
	r := &Record{ID: id, LastAccess: now, Created: now}
	m.sessions[id] = r
	m.created++
	return r, nil
}

// Charge adjusts the session's memory accounting by deltaMB.
func (m *Manager) Charge(id string, deltaMB int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.sessions[id]
	if !ok {
		return fault.Newf(fault.InvalidArgument, "unknown session %q", id)
	}
	r.MemoryMB += deltaMB
	if r.MemoryMB < 0 {
		r.MemoryMB = 0
	}
	m.recalcLocked()
	return nil
}

// End removes the session and returns its freed memory in MB.
func (m *Manager) End(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.sessions[id]
	if !ok {
		return 0
	}
	delete(m.sessions, id)
	m.recalcLocked()
	return r.MemoryMB
}

// Sweep removes sessions idle longer than the configured timeout as of now
// and returns the freed memory in MB.
func (m *Manager) Sweep(now time.Time) int {
	if m.cfg.IdleTimeout <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	freed := 0
	for id, r := range m.sessions {
		if now.Sub(r.LastAccess) > m.cfg.IdleTimeout {
			freed += r.MemoryMB
			delete(m.sessions, id)
			m.expired++
		}
	}
	m.recalcLocked()
	if freed > 0 {
		m.log.Info().Int("freed_mb", freed).Msg("idle sessions swept")
	}
	return freed
}

// EvictOldest synchronously removes the n least recently used sessions and
// returns the freed memory in MB. It is the pressure valve for low-memory
// situations.
func (m *Manager) EvictOldest(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := m.memoryMB
	m.evictOldestLocked(n)
	return before - m.memoryMB
}

func (m *Manager) evictOldestLocked(n int) {
	if n <= 0 || len(m.sessions) == 0 {
		return
	}
	all := make([]*Record, 0, len(m.sessions))
	for _, r := range m.sessions {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].LastAccess.Before(all[j].LastAccess) })
	if n > len(all) {
		n = len(all)
	}
	for _, r := range all[:n] {
		delete(m.sessions, r.ID)
		m.evicted++
		m.log.Info().Str("session", r.ID).Int("freed_mb", r.MemoryMB).Msg("session evicted")
	}
	m.recalcLocked()
}

func (m *Manager) recalcLocked() {
	total := 0
	for _, r := range m.sessions {
		total += r.MemoryMB
	}
	m.memoryMB = total
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// MemoryMB returns the total tracked session memory.
func (m *Manager) MemoryMB() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memoryMB
}
