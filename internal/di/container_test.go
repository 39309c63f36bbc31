// internal/di/container_test.go
package di

import (
	"sync"
	"testing"

	"github.com/Corphon/SeriesForgeMCP/internal/services"
)

func TestRegisterAndGet(t *testing.T) {
	c := NewContainer()

	c.Register("demo", 42)

	if got := c.Get("demo"); got != 42 {
		t.Errorf("取回的服务不符: %v", got)
	}
	if c.Get("missing") != nil {
		t.Error("未注册的服务应返回nil")
	}
	if !c.Has("demo") || c.Has("missing") {
		t.Error("Has 判断错误")
	}
}

func TestGetTypedDefault(t *testing.T) {
	c := NewContainer()

	if got := c.GetTyped("missing", "fallback"); got != "fallback" {
		t.Errorf("缺失服务应返回默认值: %v", got)
	}

	c.Register("key", "real")
	if got := c.GetTyped("key", "fallback"); got != "real" {
		t.Errorf("已注册服务应优先于默认值: %v", got)
	}
}

func TestRemoveAndClear(t *testing.T) {
	c := NewContainer()
	c.Register("a", 1)
	c.Register("b", 2)

	c.Remove("a")
	if c.Has("a") {
		t.Error("移除后不应存在")
	}

	c.Clear()
	if len(c.GetNames()) != 0 {
		t.Errorf("清空后不应有服务: %v", c.GetNames())
	}
}

func TestGetContainerSingleton(t *testing.T) {
	if GetContainer() != GetContainer() {
		t.Error("GetContainer 应返回同一个实例")
	}
}

// 类型化访问器在类型不匹配或缺失时返回nil而不是panic
func TestTypedAccessors(t *testing.T) {
	c := NewContainer()

	if c.ProgressService() != nil {
		t.Error("未注册时进度服务应为nil")
	}

	c.Register(ServiceProgress, "不是进度服务")
	if c.ProgressService() != nil {
		t.Error("类型不匹配时应为nil")
	}

	progress := services.NewProgressService()
	c.Register(ServiceProgress, progress)
	if c.ProgressService() != progress {
		t.Error("应取回注册的进度服务")
	}
}

func TestConcurrentRegisterGet(t *testing.T) {
	c := NewContainer()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Register("shared", 1)
		}()
		go func() {
			defer wg.Done()
			_ = c.Get("shared")
		}()
	}
	wg.Wait()

	if !c.Has("shared") {
		t.Error("并发注册后服务应存在")
	}
}
