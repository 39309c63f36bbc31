// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Corphon/SeriesForgeMCP/internal/config"
	"github.com/Corphon/SeriesForgeMCP/internal/di"
	"github.com/Corphon/SeriesForgeMCP/internal/engines"
	"github.com/Corphon/SeriesForgeMCP/internal/gateway"
	"github.com/Corphon/SeriesForgeMCP/internal/llm"
	"github.com/Corphon/SeriesForgeMCP/internal/services"
	"github.com/Corphon/SeriesForgeMCP/internal/storage"
	"github.com/Corphon/SeriesForgeMCP/internal/utils"

	// 注册生成后端提供商
	_ "github.com/Corphon/SeriesForgeMCP/internal/llm/providers/anthropic"
	_ "github.com/Corphon/SeriesForgeMCP/internal/llm/providers/google"
	_ "github.com/Corphon/SeriesForgeMCP/internal/llm/providers/openai"
)

// httpServer 抽象了http.Server中本应用用到的部分，便于测试替换
type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 应用程序实例
type App struct {
	config   *config.AppConfig
	router   http.Handler
	server   httpServer
	stopChan chan os.Signal
}

var (
	appInstance *App
	appOnce     sync.Once
)

// GetApp 返回应用程序单例
func GetApp() *App {
	appOnce.Do(func() {
		appInstance = &App{
			stopChan: make(chan os.Signal, 1),
		}
	})
	return appInstance
}

// Initialize 完成应用的完整初始化：配置、日志和服务注册
func (a *App) Initialize() error {
	if err := config.InitConfig(getDataDir()); err != nil {
		return fmt.Errorf("初始化配置失败: %w", err)
	}
	a.config = config.GetCurrentConfig()

	if err := initLogger(a.config.LogDir); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}

	if err := InitServices(); err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}

	return nil
}

// getDataDir 在配置系统可用之前确定数据目录
func getDataDir() string {
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		return dir
	}
	return "data"
}

// initLogger 初始化全局日志，日志文件按天命名
func initLogger(logDir string) error {
	logFile := filepath.Join(logDir, fmt.Sprintf("app_%s.log", time.Now().Format("2006-01-02")))
	if err := utils.InitLogger(logFile); err != nil {
		return err
	}

	if config.GetCurrentConfig().DebugMode {
		utils.GetLogger().SetLogLevel(utils.DEBUG)
	}

	return nil
}

// InitServices 构建生成流水线的完整服务图并注册到DI容器。
// 依赖顺序：提供商 → 网关 → 引擎 → 编排器/合成 → 流水线 → 领域服务。
func InitServices() error {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()

	settings, err := config.LoadPipelineSettings(cfg.PipelineFile)
	if err != nil {
		return err
	}

	primary, backup, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	gw := gateway.New(primary, backup, gatewayConfig(cfg, settings))

	engineSet := engines.Build(gw, enabledEngines(settings))
	orchestrator := services.NewOrchestratorService(engineSet, orchestratorConfig(settings))
	synthesis := services.NewSynthesisService(gw)
	progress := services.NewProgressService()
	pipeline := services.NewPipelineService(gw, orchestrator, synthesis, progress)

	fs, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("初始化文件存储失败: %w", err)
	}
	store := storage.NewStoryStore(fs)
	locks := services.NewLockManager()

	bible := services.NewBibleService(store, pipeline, gw, locks)
	episode := services.NewEpisodeService(store, pipeline, bible, locks)
	preproduction := services.NewPreProductionService(store, pipeline)

	container.Register(di.ServiceOrchestrator, orchestrator)
	container.Register(di.ServiceProgress, progress)
	container.Register(di.ServicePipeline, pipeline)
	container.Register(di.ServiceBible, bible)
	container.Register(di.ServiceEpisode, episode)
	container.Register(di.ServicePreProduction, preproduction)

	utils.GetLogger().Info("服务初始化完成", map[string]interface{}{
		"primary_backend": primary.GetName(),
		"backup_backend":  backup.GetName(),
		"engines":         len(engineSet),
	})

	return nil
}

// buildProviders 创建主备两个生成后端。某个后端的凭据缺失时
// 降级为用另一个后端同时充当主备，两边都不可用才算致命错误。
func buildProviders(cfg *config.AppConfig) (llm.Provider, llm.Provider, error) {
	primary, primaryErr := llm.GetProvider(cfg.PrimaryProvider, cfg.PrimaryConfig)
	backup, backupErr := llm.GetProvider(cfg.BackupProvider, cfg.BackupConfig)

	switch {
	case primaryErr == nil && backupErr == nil:
		return primary, backup, nil
	case primaryErr == nil:
		log.Printf("警告: 备份后端 %s 不可用，主后端将同时充当备份: %v", cfg.BackupProvider, backupErr)
		return primary, primary, nil
	case backupErr == nil:
		log.Printf("警告: 主后端 %s 不可用，备份后端将同时充当主后端: %v", cfg.PrimaryProvider, primaryErr)
		return backup, backup, nil
	default:
		return nil, nil, fmt.Errorf("没有可用的生成后端: 主后端(%s): %v; 备份后端(%s): %v",
			cfg.PrimaryProvider, primaryErr, cfg.BackupProvider, backupErr)
	}
}

// gatewayConfig 将流水线设置转换为网关配置
func gatewayConfig(cfg *config.AppConfig, settings *config.PipelineSettings) gateway.Config {
	gc := gateway.DefaultConfig()
	gc.PrimaryName = cfg.PrimaryProvider
	gc.BackupName = cfg.BackupProvider
	gc.PrimaryModel = settings.Gateway.PrimaryModel
	gc.BackupModel = settings.Gateway.BackupModel
	gc.Draft = gateway.Params{
		Temperature: settings.Gateway.Draft.Temperature,
		MaxTokens:   settings.Gateway.Draft.MaxTokens,
	}
	gc.Enhance = gateway.Params{
		Temperature: settings.Gateway.Enhance.Temperature,
		MaxTokens:   settings.Gateway.Enhance.MaxTokens,
	}
	gc.Synthesis = gateway.Params{
		Temperature: settings.Gateway.Synthesis.Temperature,
		MaxTokens:   settings.Gateway.Synthesis.MaxTokens,
	}
	gc.CallTimeout = time.Duration(settings.Gateway.CallTimeoutSeconds) * time.Second
	return gc
}

// orchestratorConfig 将流水线设置转换为编排器配置
func orchestratorConfig(settings *config.PipelineSettings) services.OrchestratorConfig {
	oc := services.DefaultOrchestratorConfig()
	oc.HealthThreshold = settings.Orchestrator.HealthThreshold
	oc.MaxConcurrent = settings.Orchestrator.MaxConcurrent
	if settings.Orchestrator.EngineTimeoutSeconds > 0 {
		oc.EngineTimeout = time.Duration(settings.Orchestrator.EngineTimeoutSeconds) * time.Second
	}
	return oc
}

// enabledEngines 将启用列表转换为集合，空列表表示全部启用
func enabledEngines(settings *config.PipelineSettings) map[string]bool {
	if len(settings.Engines.Enabled) == 0 {
		return nil
	}
	enabled := make(map[string]bool, len(settings.Engines.Enabled))
	for _, id := range settings.Engines.Enabled {
		enabled[id] = true
	}
	return enabled
}

// SetRouter 设置HTTP路由
func (a *App) SetRouter(router http.Handler) {
	a.router = router
}

// Run 启动HTTP服务器并阻塞到收到终止信号
func (a *App) Run() error {
	if a.config == nil {
		a.config = config.GetCurrentConfig()
	}
	if a.router == nil {
		return fmt.Errorf("路由未初始化")
	}

	if a.server == nil {
		a.server = &http.Server{
			Addr:    ":" + a.config.Port,
			Handler: a.router,
		}
	}

	errChan := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	signal.Notify(a.stopChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("服务器启动失败: %w", err)
	case sig := <-a.stopChan:
		utils.GetLogger().Info("收到终止信号，开始优雅关闭", map[string]interface{}{
			"signal": sig.String(),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("服务器关闭失败: %w", err)
	}

	a.cleanup()
	return nil
}

// cleanup 释放进程内资源
func (a *App) cleanup() {
	container := di.GetContainer()
	if progress := container.ProgressService(); progress != nil {
		progress.CleanupCompletedTasks(0)
	}
	utils.GetLogger().Info("应用已退出", nil)
}

// GetDIContainer 返回DI容器
func (a *App) GetDIContainer() *di.Container {
	return di.GetContainer()
}

// IsDebugMode 返回是否处于调试模式
func (a *App) IsDebugMode() bool {
	if a.config == nil {
		return config.GetCurrentConfig().DebugMode
	}
	return a.config.DebugMode
}
