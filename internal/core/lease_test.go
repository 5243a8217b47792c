package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLeaseRegistry_BackupExclusivePerDestination(t *testing.T) {
	l := NewLeaseRegistry()

	assert.True(t, l.TryAcquireBackup("u1", "s3"))
	assert.False(t, l.TryAcquireBackup("u1", "s3"))

	// Other destinations and other users are independent.
	assert.True(t, l.TryAcquireBackup("u1", "webdav"))
	assert.True(t, l.TryAcquireBackup("u2", "s3"))

	l.ReleaseBackup("u1", "s3")
	assert.True(t, l.TryAcquireBackup("u1", "s3"))
}

func TestLeaseRegistry_ConcurrentTriggerOneWins(t *testing.T) {
	l := NewLeaseRegistry()

	const n = 16
	var wg sync.WaitGroup
	wins := make(chan bool, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- l.TryAcquireBackup("u1", "s3")
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	assert.Equal(t, 1, won)
}

func TestLeaseRegistry_RestoreBlocksBackups(t *testing.T) {
	l := NewLeaseRegistry()

	assert.True(t, l.TryAcquireRestore("u1"))
	assert.False(t, l.TryAcquireBackup("u1", "s3"))
	assert.False(t, l.TryAcquireRestore("u1"))
	assert.True(t, l.TryAcquireBackup("u2", "s3"))

	l.ReleaseRestore("u1")
	assert.True(t, l.TryAcquireBackup("u1", "s3"))
}

func TestLeaseRegistry_BackupBlocksRestore(t *testing.T) {
	l := NewLeaseRegistry()

	assert.True(t, l.TryAcquireBackup("u1", "s3"))
	assert.False(t, l.TryAcquireRestore("u1"))
	assert.True(t, l.TryAcquireRestore("u2"))

	l.ReleaseBackup("u1", "s3")
	assert.True(t, l.TryAcquireRestore("u1"))
}

func TestLeaseRegistry_GlobalRestoreIsExclusive(t *testing.T) {
	l := NewLeaseRegistry()

	assert.True(t, l.TryAcquireGlobalRestore())
	assert.False(t, l.TryAcquireBackup("u1", "s3"))
	assert.False(t, l.TryAcquireRestore("u1"))
	assert.False(t, l.TryAcquireGlobalRestore())

	l.ReleaseGlobalRestore()
	assert.True(t, l.TryAcquireBackup("u1", "s3"))

	// An in-flight backup keeps the global lock out.
	assert.False(t, l.TryAcquireGlobalRestore())
	l.ReleaseBackup("u1", "s3")
	assert.True(t, l.TryAcquireGlobalRestore())
}
