// cmd/server/main.go
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/Corphon/SeriesForgeMCP/internal/api"
	"github.com/Corphon/SeriesForgeMCP/internal/app"
	"github.com/Corphon/SeriesForgeMCP/internal/config"
	"github.com/Corphon/SeriesForgeMCP/internal/di"
)

func main() {
	log.Println("🚀 启动 SeriesForgeMCP 服务器...")

	// 1. 首先加载基础配置
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("✅ 基础配置加载完成，端口: %s", baseConfig.Port)

	// 2. 创建必要的目录
	createDirectories(baseConfig)
	log.Println("✅ 目录结构创建完成")

	// 3. 初始化应用（配置系统、日志和全部服务）
	a := app.GetApp()
	if err := a.Initialize(); err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	log.Println("✅ 应用初始化完成")

	// 4. 关键服务健康检查
	if err := performHealthCheck(); err != nil {
		log.Printf("⚠️ 服务健康检查警告: %v", err)
	}

	// 5. 设置路由
	router, err := api.SetupRouter()
	if err != nil {
		log.Fatalf("❌ 设置路由失败: %v", err)
	}
	a.SetRouter(router)
	log.Println("✅ 路由设置完成")

	// 6. 启动服务器并阻塞到优雅关闭完成
	log.Printf("🌐 服务器启动在端口 %s", baseConfig.Port)
	log.Printf("🔗 访问地址: http://localhost:%s/api", baseConfig.Port)

	if err := a.Run(); err != nil {
		log.Fatalf("❌ 服务器退出异常: %v", err)
	}
	log.Println("✅ 服务器优雅关闭完成")
}

// 健康检查函数
func performHealthCheck() error {
	container := di.GetContainer()

	// 检查关键服务是否已注册
	criticalServices := []string{
		di.ServiceBible,
		di.ServiceEpisode,
		di.ServicePreProduction,
		di.ServicePipeline,
		di.ServiceProgress,
	}

	for _, serviceName := range criticalServices {
		if service := container.Get(serviceName); service == nil {
			return fmt.Errorf("关键服务未注册: %s", serviceName)
		}
	}

	log.Println("✅ 服务健康检查通过")
	return nil
}

// createDirectories 创建应用所需的目录结构
func createDirectories(cfg *config.Config) {
	dirs := []string{
		cfg.DataDir,
		filepath.Join(cfg.DataDir, "stories"),
		cfg.LogDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Printf("⚠️ 创建目录失败 %s: %v", dir, err)
		}
	}
}
