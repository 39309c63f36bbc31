// internal/services/lock_manager.go
package services

import (
	"sync"
	"sync/atomic"
	"time"
)

// LockManager 统一的故事级锁管理器。
// 同一故事圣经上的编辑、流水线写入与剧集回写必须串行，
// 不同故事之间互不阻塞。
type LockManager struct {
	storyLocks map[string]*LockInfo
	globalLock sync.RWMutex
}

// LockInfo 包装锁和相关信息。
// lastUsed 以原子时间戳记录，读路径上的触碰不需要写锁。
type LockInfo struct {
	Mutex    *sync.RWMutex
	lastUsed atomic.Int64 // UnixNano
}

func (li *LockInfo) touch() {
	li.lastUsed.Store(time.Now().UnixNano())
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	return &LockManager{
		storyLocks: make(map[string]*LockInfo),
	}
}

// GetStoryLock 获取故事锁（线程安全）
func (lm *LockManager) GetStoryLock(storyID string) *sync.RWMutex {
	lm.globalLock.RLock()
	if lockInfo, exists := lm.storyLocks[storyID]; exists {
		lm.globalLock.RUnlock()
		lockInfo.touch()
		return lockInfo.Mutex
	}
	lm.globalLock.RUnlock()

	// 升级为写锁
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	// 双重检查（在写锁保护下是安全的）
	if lockInfo, exists := lm.storyLocks[storyID]; exists {
		lockInfo.touch()
		return lockInfo.Mutex
	}

	lockInfo := &LockInfo{Mutex: &sync.RWMutex{}}
	lockInfo.touch()
	lm.storyLocks[storyID] = lockInfo
	return lockInfo.Mutex
}

// ExecuteWithStoryLock 在故事写锁保护下执行操作
func (lm *LockManager) ExecuteWithStoryLock(storyID string, fn func() error) error {
	lock := lm.GetStoryLock(storyID)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// ExecuteWithStoryReadLock 在故事读锁保护下执行操作
func (lm *LockManager) ExecuteWithStoryReadLock(storyID string, fn func() error) error {
	lock := lm.GetStoryLock(storyID)
	lock.RLock()
	defer lock.RUnlock()
	return fn()
}

// Cleanup 清理长时间未使用的锁。由调用方按需触发，不开后台协程。
func (lm *LockManager) Cleanup(maxAge time.Duration) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	const maxLocks = 200

	// 只有在锁数量过多时才清理
	if len(lm.storyLocks) <= maxLocks {
		return
	}

	now := time.Now()
	for storyID, lockInfo := range lm.storyLocks {
		if now.Sub(time.Unix(0, lockInfo.lastUsed.Load())) > maxAge {
			delete(lm.storyLocks, storyID)
		}
	}
}
