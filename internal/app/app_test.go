// internal/app/app_test.go
package app

import (
	"context"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/Corphon/SeriesForgeMCP/internal/config"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockServer 替代真实HTTP服务器，记录生命周期调用
type mockServer struct {
	listenCalled   bool
	shutdownCalled bool
	blockChan      chan struct{}
}

func newMockServer() *mockServer {
	return &mockServer{blockChan: make(chan struct{})}
}

func (m *mockServer) ListenAndServe() error {
	m.listenCalled = true
	<-m.blockChan
	return http.ErrServerClosed
}

func (m *mockServer) Shutdown(ctx context.Context) error {
	m.shutdownCalled = true
	close(m.blockChan)
	return nil
}

func TestGetAppReturnsSingleton(t *testing.T) {
	first := GetApp()
	second := GetApp()
	if first != second {
		t.Error("GetApp 应返回同一个实例")
	}
	if first.stopChan == nil {
		t.Error("应用实例应初始化终止信号通道")
	}
}

func TestRunRequiresRouter(t *testing.T) {
	a := &App{
		config:   &config.AppConfig{Port: "0"},
		stopChan: make(chan os.Signal, 1),
	}
	if err := a.Run(); err == nil {
		t.Error("路由未初始化时应返回错误")
	}
}

func TestRunShutsDownOnSignal(t *testing.T) {
	server := newMockServer()
	a := &App{
		config:   &config.AppConfig{Port: "0"},
		router:   gin.New(),
		server:   server,
		stopChan: make(chan os.Signal, 1),
	}

	// 预置终止信号，Run 应完成优雅关闭后返回
	a.stopChan <- syscall.SIGTERM

	done := make(chan error, 1)
	go func() { done <- a.Run() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("优雅关闭不应报错: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run 未在收到信号后退出")
	}

	if !server.shutdownCalled {
		t.Error("收到信号后应调用服务器关闭")
	}
}

func TestGetDataDir(t *testing.T) {
	t.Setenv("DATA_DIR", "")
	if got := getDataDir(); got != "data" {
		t.Errorf("默认数据目录不符: %s", got)
	}

	t.Setenv("DATA_DIR", "/tmp/series-data")
	if got := getDataDir(); got != "/tmp/series-data" {
		t.Errorf("环境变量应覆盖数据目录: %s", got)
	}
}

func TestGatewayConfigConversion(t *testing.T) {
	cfg := &config.AppConfig{
		PrimaryProvider: "openai",
		BackupProvider:  "anthropic",
	}
	settings := config.DefaultPipelineSettings()
	settings.Gateway.PrimaryModel = "gpt-4o"
	settings.Gateway.BackupModel = "claude-sonnet"
	settings.Gateway.CallTimeoutSeconds = 90

	gc := gatewayConfig(cfg, settings)

	if gc.PrimaryName != "openai" || gc.BackupName != "anthropic" {
		t.Errorf("后端名称不符: %s/%s", gc.PrimaryName, gc.BackupName)
	}
	if gc.PrimaryModel != "gpt-4o" || gc.BackupModel != "claude-sonnet" {
		t.Errorf("模型不符: %s/%s", gc.PrimaryModel, gc.BackupModel)
	}
	if gc.CallTimeout != 90*time.Second {
		t.Errorf("调用超时不符: %v", gc.CallTimeout)
	}
	if gc.Synthesis.Temperature != settings.Gateway.Synthesis.Temperature {
		t.Errorf("合成采样不符: %v", gc.Synthesis.Temperature)
	}
}

func TestOrchestratorConfigConversion(t *testing.T) {
	settings := config.DefaultPipelineSettings()
	settings.Orchestrator.HealthThreshold = 0.9
	settings.Orchestrator.EngineTimeoutSeconds = 45
	settings.Orchestrator.MaxConcurrent = 2

	oc := orchestratorConfig(settings)

	if oc.HealthThreshold != 0.9 {
		t.Errorf("健康阈值不符: %v", oc.HealthThreshold)
	}
	if oc.EngineTimeout != 45*time.Second {
		t.Errorf("引擎超时不符: %v", oc.EngineTimeout)
	}
	if oc.MaxConcurrent != 2 {
		t.Errorf("并发上限不符: %d", oc.MaxConcurrent)
	}

	// 非法超时保留默认值
	settings.Orchestrator.EngineTimeoutSeconds = 0
	oc = orchestratorConfig(settings)
	if oc.EngineTimeout != 60*time.Second {
		t.Errorf("非法超时应保留默认值: %v", oc.EngineTimeout)
	}
}

func TestEnabledEnginesConversion(t *testing.T) {
	settings := config.DefaultPipelineSettings()

	if enabledEngines(settings) != nil {
		t.Error("空启用列表应返回nil（全部启用）")
	}

	settings.Engines.Enabled = []string{"structure", "cliffhanger"}
	enabled := enabledEngines(settings)
	if len(enabled) != 2 || !enabled["structure"] || !enabled["cliffhanger"] {
		t.Errorf("启用集合不符: %v", enabled)
	}
	if enabled["mystery-clues"] {
		t.Error("未列出的引擎不应启用")
	}
}
