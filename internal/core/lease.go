package core

import "sync"

type leaseKey struct {
	userID      string
	destination string
}

// LeaseRegistry serializes backup and restore runs in process. Backups
// hold a per-(user, destination) lease, restores hold a per-user lock,
// and an admin restore holds a global lock. A lease is held for the full
// duration of the remote transfer and released only when the adapter
// call returns.
//
// Leases are in-process state: running more than one API server behind a
// load balancer would need a shared lock instead.
type LeaseRegistry struct {
	mu            sync.Mutex
	backups       map[leaseKey]bool
	restores      map[string]bool
	globalRestore bool
}

func NewLeaseRegistry() *LeaseRegistry {
	return &LeaseRegistry{
		backups:  make(map[leaseKey]bool),
		restores: make(map[string]bool),
	}
}

// TryAcquireBackup claims the backup lease for (user, destination).
// Returns false without blocking when that lease is already held or a
// restore is running for the user.
func (l *LeaseRegistry) TryAcquireBackup(userID, dest string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := leaseKey{userID, dest}
	if l.backups[key] || l.restores[userID] || l.globalRestore {
		return false
	}
	l.backups[key] = true
	return true
}

func (l *LeaseRegistry) ReleaseBackup(userID, dest string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.backups, leaseKey{userID, dest})
}

// TryAcquireRestore claims the user-wide restore lock. It fails while
// any backup for the user is in flight.
func (l *LeaseRegistry) TryAcquireRestore(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.restores[userID] || l.globalRestore {
		return false
	}
	for key := range l.backups {
		if key.userID == userID {
			return false
		}
	}
	l.restores[userID] = true
	return true
}

func (l *LeaseRegistry) ReleaseRestore(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.restores, userID)
}

// TryAcquireGlobalRestore claims the exclusive lock an admin restore
// needs: no backup or restore may be running anywhere.
func (l *LeaseRegistry) TryAcquireGlobalRestore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.globalRestore || len(l.backups) > 0 || len(l.restores) > 0 {
		return false
	}
	l.globalRestore = true
	return true
}

func (l *LeaseRegistry) ReleaseGlobalRestore() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.globalRestore = false
}
