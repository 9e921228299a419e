// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager hands out per-project locks for editing operations and
// enforces one running generation task per project.
type LockManager struct {
	projectLocks map[string]*LockInfo
	generating   map[string]string // projectID -> task id of the running generation
	globalLock   sync.RWMutex
	lockTTL      time.Duration
}

// LockInfo wraps a lock with bookkeeping for cleanup.
type LockInfo struct {
	Mutex    *sync.RWMutex
	LastUsed time.Time
}

// NewLockManager creates a lock manager.
func NewLockManager() *LockManager {
	lm := &LockManager{
		projectLocks: make(map[string]*LockInfo),
		generating:   make(map[string]string),
		lockTTL:      10 * time.Minute,
	}

	lm.startCleanup()
	return lm
}

// GetProjectLock returns the lock for a project, creating it on first use.
func (lm *LockManager) GetProjectLock(projectID string) *sync.RWMutex {
	lm.globalLock.RLock()
	if lockInfo, exists := lm.projectLocks[projectID]; exists {
		lm.globalLock.RUnlock()
		lockInfo.LastUsed = time.Now()
		return lockInfo.Mutex
	}
	lm.globalLock.RUnlock()

	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	if lockInfo, exists := lm.projectLocks[projectID]; exists {
		lockInfo.LastUsed = time.Now()
		return lockInfo.Mutex
	}

	lock := &sync.RWMutex{}
	lm.projectLocks[projectID] = &LockInfo{
		Mutex:    lock,
		LastUsed: time.Now(),
	}
	return lock
}

// ExecuteWithProjectLock runs fn while holding the project's write lock.
func (lm *LockManager) ExecuteWithProjectLock(projectID string, fn func() error) error {
	lock := lm.GetProjectLock(projectID)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// ExecuteWithProjectReadLock runs fn while holding the project's read lock.
func (lm *LockManager) ExecuteWithProjectReadLock(projectID string, fn func() error) error {
	lock := lm.GetProjectLock(projectID)
	lock.RLock()
	defer lock.RUnlock()
	return fn()
}

// TryAcquireGeneration claims the generation slot for a project. It
// returns false with the running task's id when another generation is
// already in flight for the same project.
func (lm *LockManager) TryAcquireGeneration(projectID, taskID string) (bool, string) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	if running, exists := lm.generating[projectID]; exists {
		return false, running
	}
	lm.generating[projectID] = taskID
	return true, ""
}

// ReleaseGeneration frees the generation slot. Only the task that
// acquired the slot can release it.
func (lm *LockManager) ReleaseGeneration(projectID, taskID string) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	if running, exists := lm.generating[projectID]; exists && running == taskID {
		delete(lm.generating, projectID)
	}
}

// IsGenerating reports whether a generation task is running for the project.
func (lm *LockManager) IsGenerating(projectID string) bool {
	lm.globalLock.RLock()
	defer lm.globalLock.RUnlock()

	_, exists := lm.generating[projectID]
	return exists
}

func (lm *LockManager) startCleanup() {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			lm.cleanupUnusedLocks()
		}
	}()
}

func (lm *LockManager) cleanupUnusedLocks() {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	const maxLocks = 200
	const lockTimeout = 30 * time.Minute

	// Only clean when the map has grown past the expected working set.
	if len(lm.projectLocks) <= maxLocks {
		return
	}

	now := time.Now()
	for projectID, lockInfo := range lm.projectLocks {
		if now.Sub(lockInfo.LastUsed) > lockTimeout {
			delete(lm.projectLocks, projectID)
		}
	}
}
