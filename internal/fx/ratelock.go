package fx

import (
	"sync"
	"time"

	"github.com/settlecoord/coordinator/internal/coordinatorerrors"
	"github.com/settlecoord/coordinator/internal/ids"
	"github.com/settlecoord/coordinator/internal/money"
)

// RateLock is a single-use token guaranteeing that a specific FxRate
// will be honored on a future conversion within its own TTL.
type RateLock struct {
	Id            ids.RateLockId
	Rate          money.FxRate
	CreatedAt     time.Time
	ExpiresAt     time.Time
	ParticipantId string
	Used          bool
}

// IsValid reports whether the lock is unused and not yet expired.
func (r RateLock) IsValid() bool {
	return !r.Used && time.Now().Before(r.ExpiresAt)
}

// RateLockConfig holds the rate-lock manager's tunables.
type RateLockConfig struct {
	DefaultDuration      time.Duration
	MaxDuration          time.Duration
	MaxLocksPerParticipant int
}

// DefaultRateLockConfig returns the documented defaults: 30s default
// duration, 5 minute cap, 100 locks per participant.
func DefaultRateLockConfig() RateLockConfig {
	return RateLockConfig{
		DefaultDuration:        30 * time.Second,
		MaxDuration:            5 * time.Minute,
		MaxLocksPerParticipant: 100,
	}
}

// RateLockManager issues and tracks single-use rate-lock tokens.
type RateLockManager struct {
	mu               sync.Mutex
	locks            map[ids.RateLockId]*RateLock
	locksByParticipant map[string][]ids.RateLockId
	config           RateLockConfig
}

func NewRateLockManager(config RateLockConfig) *RateLockManager {
	if config.DefaultDuration <= 0 || config.MaxDuration <= 0 || config.MaxLocksPerParticipant <= 0 {
		config = DefaultRateLockConfig()
	}
	return &RateLockManager{
		locks:              make(map[ids.RateLockId]*RateLock),
		locksByParticipant: make(map[string][]ids.RateLockId),
		config:             config,
	}
}

// Create issues a new rate lock for rate, capped at min(duration,
// MaxDuration) — a zero duration requests the configured default.
// Fails with KindCapacityExceeded if participantId already holds
// MaxLocksPerParticipant locks.
func (m *RateLockManager) Create(rate money.FxRate, duration time.Duration, participantId string) (*RateLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.locksByParticipant[participantId]) >= m.config.MaxLocksPerParticipant {
		return nil, coordinatorerrors.New(coordinatorerrors.KindCapacityExceeded, "fx.RateLockManager.Create", nil)
	}

	if duration <= 0 {
		duration = m.config.DefaultDuration
	}
	if duration > m.config.MaxDuration {
		duration = m.config.MaxDuration
	}

	now := time.Now()
	lock := &RateLock{
		Id:            ids.NewRateLockId(),
		Rate:          rate,
		CreatedAt:     now,
		ExpiresAt:     now.Add(duration),
		ParticipantId: participantId,
	}
	m.locks[lock.Id] = lock
	m.locksByParticipant[participantId] = append(m.locksByParticipant[participantId], lock.Id)
	return lock, nil
}

// Get returns the lock by id, if any.
func (m *RateLockManager) Get(lockId ids.RateLockId) (*RateLock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[lockId]
	return lock, ok
}

// Use marks the lock used and returns its embedded rate. Fails if the
// lock is missing, already used, or expired.
func (m *RateLockManager) Use(lockId ids.RateLockId) (money.FxRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[lockId]
	if !ok {
		return money.FxRate{}, coordinatorerrors.New(coordinatorerrors.KindInvalidRateLock, "fx.RateLockManager.Use", nil)
	}
	if lock.Used {
		return money.FxRate{}, coordinatorerrors.New(coordinatorerrors.KindInvalidRateLock, "fx.RateLockManager.Use", nil)
	}
	if !lock.IsValid() {
		return money.FxRate{}, coordinatorerrors.New(coordinatorerrors.KindFxRateExpired, "fx.RateLockManager.Use", nil)
	}
	lock.Used = true
	return lock.Rate, nil
}

// Cancel removes the lock, requiring the canceler to be the lock's
// owning participant.
func (m *RateLockManager) Cancel(lockId ids.RateLockId, byParticipantId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[lockId]
	if !ok {
		return coordinatorerrors.New(coordinatorerrors.KindInvalidRateLock, "fx.RateLockManager.Cancel", nil)
	}
	if lock.ParticipantId != byParticipantId {
		return coordinatorerrors.New(coordinatorerrors.KindInvalidSignature, "fx.RateLockManager.Cancel", nil)
	}
	delete(m.locks, lockId)
	m.removeFromParticipantIndex(byParticipantId, lockId)
	return nil
}

func (m *RateLockManager) removeFromParticipantIndex(participantId string, lockId ids.RateLockId) {
	list := m.locksByParticipant[participantId]
	for i, id := range list {
		if id == lockId {
			m.locksByParticipant[participantId] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// GetParticipantLocks returns the currently-valid locks held by participantId.
func (m *RateLockManager) GetParticipantLocks(participantId string) []*RateLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*RateLock
	for _, id := range m.locksByParticipant[participantId] {
		lock := m.locks[id]
		if lock != nil && lock.IsValid() {
			out = append(out, lock)
		}
	}
	return out
}

// CleanupExpired removes every lock that is no longer valid (used or
// past its expiry), along with its participant-index entry.
func (m *RateLockManager) CleanupExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, lock := range m.locks {
		if !lock.IsValid() {
			delete(m.locks, id)
			m.removeFromParticipantIndex(lock.ParticipantId, id)
		}
	}
}

// RateLockStats reports occupancy split by validity/usage.
type RateLockStats struct {
	Total   int
	Valid   int
	Expired int
	Used    int
}

func (m *RateLockManager) StatsSnapshot() RateLockStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := RateLockStats{Total: len(m.locks)}
	for _, lock := range m.locks {
		switch {
		case lock.Used:
			stats.Used++
		case lock.IsValid():
			stats.Valid++
		default:
			stats.Expired++
		}
	}
	return stats
}
