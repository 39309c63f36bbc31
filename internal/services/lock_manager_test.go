// internal/services/lock_manager_test.go
package services

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestGetStoryLockReturnsSameLock(t *testing.T) {
	lm := NewLockManager()

	first := lm.GetStoryLock("story-1")
	second := lm.GetStoryLock("story-1")
	if first != second {
		t.Error("同一故事应返回同一把锁")
	}

	other := lm.GetStoryLock("story-2")
	if first == other {
		t.Error("不同故事应持有不同的锁")
	}
}

func TestExecuteWithStoryLockSerializes(t *testing.T) {
	lm := NewLockManager()

	// 非原子自增在锁保护下不应丢失更新
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = lm.ExecuteWithStoryLock("story-1", func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("写锁未串行化更新，计数: %d", counter)
	}
}

func TestExecuteWithStoryLockPropagatesError(t *testing.T) {
	lm := NewLockManager()

	wantErr := fmt.Errorf("业务失败")
	err := lm.ExecuteWithStoryLock("story-1", func() error {
		return wantErr
	})
	if err != wantErr {
		t.Errorf("应透传回调错误，实际: %v", err)
	}
}

func TestReadLocksDoNotBlockEachOther(t *testing.T) {
	lm := NewLockManager()

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = lm.ExecuteWithStoryReadLock("story-1", func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	// 第一个读锁仍持有时，第二个读锁应立即可得
	done := make(chan struct{})
	go func() {
		_ = lm.ExecuteWithStoryReadLock("story-1", func() error {
			return nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("读锁之间不应互相阻塞")
	}
	close(release)
}

func TestConcurrentGetStoryLockTouches(t *testing.T) {
	lm := NewLockManager()
	lm.GetStoryLock("story-1")

	lm.globalLock.RLock()
	info := lm.storyLocks["story-1"]
	lm.globalLock.RUnlock()
	before := info.lastUsed.Load()

	time.Sleep(time.Millisecond)

	// 多个协程并发触碰同一把锁的使用时间，不应相互覆盖出旧值
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.GetStoryLock("story-1")
		}()
	}
	wg.Wait()

	if info.lastUsed.Load() <= before {
		t.Error("并发获取后使用时间应前进")
	}
}

func TestCleanupKeepsSmallLockSets(t *testing.T) {
	lm := NewLockManager()

	lm.GetStoryLock("story-1")
	lm.Cleanup(0)

	// 锁数量未超过上限时清理是空操作
	if lm.GetStoryLock("story-1") == nil {
		t.Error("少量锁不应被清理")
	}

	lm.globalLock.RLock()
	count := len(lm.storyLocks)
	lm.globalLock.RUnlock()
	if count != 1 {
		t.Errorf("锁数量不符: %d", count)
	}
}

func TestCleanupEvictsStaleLocksWhenOverLimit(t *testing.T) {
	lm := NewLockManager()

	for i := 0; i < 250; i++ {
		lm.GetStoryLock(fmt.Sprintf("story-%d", i))
	}

	lm.Cleanup(0)

	lm.globalLock.RLock()
	count := len(lm.storyLocks)
	lm.globalLock.RUnlock()
	if count != 0 {
		t.Errorf("超限后过期的锁应全部清理，剩余: %d", count)
	}
}
