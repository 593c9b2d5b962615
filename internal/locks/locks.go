// Package locks implements the coordinator's fund-reservation lock
// manager: create/confirm/consume/release/expire operations over
// per-settlement, per-participant, and per-lock indices, a periodic
// reaper for expired locks, and a per-participant concurrency cap.
//
// The concurrent indices use shared mutable state guarded by a single
// mutex around plain maps rather than a third-party concurrent-map
// dependency — see DESIGN.md for the rationale.
package locks

import (
	"sync"
	"time"

	"github.com/settlecoord/coordinator/internal/coordinatorerrors"
	"github.com/settlecoord/coordinator/internal/ids"
	"github.com/settlecoord/coordinator/internal/money"
)

// Status is the terminal-or-active state of a Lock.
type Status int

const (
	Active Status = iota
	Consumed
	Released
	Expired
)

func (s Status) String() string {
	switch s {
	case Active:
		return "Active"
	case Consumed:
		return "Consumed"
	case Released:
		return "Released"
	case Expired:
		return "Expired"
	default:
		return "Unknown"
	}
}

func (s Status) isTerminal() bool { return s != Active }

// Lock is a fund reservation for a single participant within a single
// settlement.
type Lock struct {
	Id            ids.LockId
	SettlementId  ids.SettlementId
	ParticipantId ids.ParticipantId
	Amount        money.Money
	Status        Status
	CreatedAt     time.Time
	ExpiresAt     time.Time
	ConfirmedAt   *time.Time
}

// IsActive reports whether the lock is currently Active and not yet
// past its expiry — callers must check both, since an expired-but-not-
// yet-reaped lock still carries status Active until the next reaper
// tick.
func (l Lock) IsActive() bool {
	return l.Status == Active && time.Now().Before(l.ExpiresAt)
}

// Config holds the lock manager's tunables, matching the configuration
// table in SPEC_FULL.md §6.
type Config struct {
	DefaultDuration            time.Duration
	MaxDuration                time.Duration
	CleanupInterval            time.Duration
	MaxConcurrentPerParticipant int
}

// DefaultConfig returns the configuration table's documented defaults.
func DefaultConfig() Config {
	return Config{
		DefaultDuration:             30 * time.Second,
		MaxDuration:                 60 * time.Second,
		CleanupInterval:             time.Second,
		MaxConcurrentPerParticipant: 1000,
	}
}

// Manager owns every lock created during the process's lifetime,
// indexed for O(1) lookup by lock id, by settlement, and by participant.
type Manager struct {
	mu               sync.RWMutex
	byId             map[ids.LockId]*Lock
	bySettlement     map[ids.SettlementId][]ids.LockId
	byParticipant    map[ids.ParticipantId][]ids.LockId
	activeCountByPart map[ids.ParticipantId]int
	config           Config
}

// New constructs an empty Manager.
func New(config Config) *Manager {
	return &Manager{
		byId:              make(map[ids.LockId]*Lock),
		bySettlement:      make(map[ids.SettlementId][]ids.LockId),
		byParticipant:     make(map[ids.ParticipantId][]ids.LockId),
		activeCountByPart: make(map[ids.ParticipantId]int),
		config:            config,
	}
}

// Create allocates a new Active lock for participantId on behalf of
// settlementId, failing with KindCapacityExceeded if the participant is
// already at MaxConcurrentPerParticipant active locks. Capacity is
// checked and the lock inserted under a single critical section so the
// check is atomic with the insertion.
func (m *Manager) Create(settlementId ids.SettlementId, participantId ids.ParticipantId, amount money.Money) (*Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeCountByPart[participantId] >= m.config.MaxConcurrentPerParticipant {
		return nil, coordinatorerrors.New(coordinatorerrors.KindCapacityExceeded, "locks.Create", nil)
	}

	now := time.Now()
	lock := &Lock{
		Id:            ids.NewLockId(),
		SettlementId:  settlementId,
		ParticipantId: participantId,
		Amount:        amount,
		Status:        Active,
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.config.DefaultDuration),
	}

	m.byId[lock.Id] = lock
	m.bySettlement[settlementId] = append(m.bySettlement[settlementId], lock.Id)
	m.byParticipant[participantId] = append(m.byParticipant[participantId], lock.Id)
	m.activeCountByPart[participantId]++

	return lock, nil
}

// Get returns the lock with the given id, if any.
func (m *Manager) Get(lockId ids.LockId) (*Lock, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lock, ok := m.byId[lockId]
	return lock, ok
}

// Confirm stamps confirmedAt if unset, and returns true iff the lock
// exists. Confirmation is idempotent: a second call leaves confirmedAt
// at its originally-set value.
func (m *Manager) Confirm(lockId ids.LockId) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.byId[lockId]
	if !ok {
		return false
	}
	if lock.ConfirmedAt == nil {
		now := time.Now()
		lock.ConfirmedAt = &now
	}
	return true
}

// Consume transitions the lock to Consumed, returning whether the call
// effected a change (false if missing or already terminal).
func (m *Manager) Consume(lockId ids.LockId) bool {
	return m.transition(lockId, Consumed)
}

// Release transitions the lock to Released, returning whether the call
// effected a change.
func (m *Manager) Release(lockId ids.LockId) bool {
	return m.transition(lockId, Released)
}

// Expire transitions the lock to Expired, returning whether the call
// effected a change.
func (m *Manager) Expire(lockId ids.LockId) bool {
	return m.transition(lockId, Expired)
}

// transition moves a lock from Active to the given terminal status. A
// lock already in a terminal status is left unchanged; transition
// reports false in that case.
func (m *Manager) transition(lockId ids.LockId, to Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.byId[lockId]
	if !ok || lock.Status.isTerminal() {
		return false
	}
	lock.Status = to
	m.activeCountByPart[lock.ParticipantId]--
	return true
}

// LocksForSettlement returns every lock (any status) ever created for
// settlementId, in creation order.
func (m *Manager) LocksForSettlement(settlementId ids.SettlementId) []*Lock {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lockIds := m.bySettlement[settlementId]
	out := make([]*Lock, 0, len(lockIds))
	for _, id := range lockIds {
		out = append(out, m.byId[id])
	}
	return out
}

// AllConfirmed reports whether settlementId has at least one lock, all
// of its locks have confirmedAt set, and all remain currently Active.
func (m *Manager) AllConfirmed(settlementId ids.SettlementId) bool {
	locks := m.LocksForSettlement(settlementId)
	if len(locks) == 0 {
		return false
	}
	for _, lock := range locks {
		if lock.ConfirmedAt == nil || !lock.IsActive() {
			return false
		}
	}
	return true
}

// ReleaseAllForSettlement releases every still-Active lock belonging to
// settlementId, idempotently (already-terminal locks are skipped). It
// returns the locks that were actually released by this call.
func (m *Manager) ReleaseAllForSettlement(settlementId ids.SettlementId) []*Lock {
	var released []*Lock
	for _, lock := range m.LocksForSettlement(settlementId) {
		if m.Release(lock.Id) {
			released = append(released, lock)
		}
	}
	return released
}

// ConsumeAllForSettlement consumes every still-Active lock belonging to
// settlementId, idempotently.
func (m *Manager) ConsumeAllForSettlement(settlementId ids.SettlementId) {
	for _, lock := range m.LocksForSettlement(settlementId) {
		m.Consume(lock.Id)
	}
}

// ActiveLocksForParticipant returns the count of currently Active locks
// held by participantId.
func (m *Manager) ActiveLocksForParticipant(participantId ids.ParticipantId) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := m.activeCountByPart[participantId]
	if n < 0 {
		return 0
	}
	return n
}

// RunReaper blocks, scanning for expired-but-still-Active locks every
// CleanupInterval and transitioning them to Expired, until ctx-equivalent
// stop is closed. Call it in its own goroutine.
func (m *Manager) RunReaper(stop <-chan struct{}, onExpire func(*Lock)) {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.expireOverdue(onExpire)
		}
	}
}

func (m *Manager) expireOverdue(onExpire func(*Lock)) {
	m.mu.RLock()
	var overdue []ids.LockId
	now := time.Now()
	for id, lock := range m.byId {
		if lock.Status == Active && now.After(lock.ExpiresAt) {
			overdue = append(overdue, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range overdue {
		if m.Expire(id) {
			if onExpire != nil {
				if lock, ok := m.Get(id); ok {
					onExpire(lock)
				}
			}
		}
	}
}
