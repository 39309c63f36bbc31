// internal/di/container.go
package di

import (
	"sync"
)

// Container 按名称注册服务实例的简单依赖注入容器。
// 服务在应用启动时一次性注册，之后只读访问。
type Container struct {
	mutex    sync.RWMutex
	services map[string]interface{}
}

var (
	globalContainer *Container
	once            sync.Once
)

// NewContainer 创建空容器
func NewContainer() *Container {
	return &Container{
		services: make(map[string]interface{}),
	}
}

// GetContainer 返回全局容器单例
func GetContainer() *Container {
	once.Do(func() {
		globalContainer = NewContainer()
	})
	return globalContainer
}

// Register 注册服务实例，同名覆盖
func (c *Container) Register(name string, service interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.services[name] = service
}

// Get 按名称取服务实例，未注册返回nil
func (c *Container) Get(name string) interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.services[name]
}

// GetTyped 按名称取服务实例，未注册时返回给定默认值
func (c *Container) GetTyped(name string, defaultVal interface{}) interface{} {
	if service := c.Get(name); service != nil {
		return service
	}
	return defaultVal
}

// Has 检查服务是否已注册
func (c *Container) Has(name string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	_, exists := c.services[name]
	return exists
}

// Remove 移除一个服务
func (c *Container) Remove(name string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.services, name)
}

// Clear 清空全部服务
func (c *Container) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.services = make(map[string]interface{})
}

// GetNames 返回所有已注册服务名
func (c *Container) GetNames() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	return names
}
