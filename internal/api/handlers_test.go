// internal/api/handlers_test.go
package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/SeriesForgeMCP/internal/services"

	_ "github.com/Corphon/SeriesForgeMCP/internal/llm/providers/anthropic"
	_ "github.com/Corphon/SeriesForgeMCP/internal/llm/providers/google"
	_ "github.com/Corphon/SeriesForgeMCP/internal/llm/providers/openai"
)

func TestCancelTaskEndpoint(t *testing.T) {
	progress := services.NewProgressService()
	handler := NewHandler(nil, nil, nil, progress)

	r := gin.New()
	r.POST("/progress/:taskID/cancel", handler.CancelTask)

	// 不存在的任务
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/progress/unknown/cancel", nil))
	if w.Code != 404 {
		t.Errorf("不存在的任务应返回404，实际: %d", w.Code)
	}

	// 运行中的任务：取消成功并触发流水线上下文取消
	tracker := progress.CreateTracker("task-1")
	ctx, cancel := context.WithCancel(context.Background())
	tracker.SetCancel(cancel)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/progress/task-1/cancel", nil))
	if w.Code != 200 {
		t.Fatalf("取消运行中的任务应成功，实际: %d (%s)", w.Code, w.Body.String())
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("取消后流水线上下文应已关闭")
	}

	// 已结束的任务无法再次取消
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/progress/task-1/cancel", nil))
	if w.Code != 409 {
		t.Errorf("已结束的任务应返回409，实际: %d", w.Code)
	}
}

func TestGetProvidersEndpoint(t *testing.T) {
	handler := NewHandler(nil, nil, nil, services.NewProgressService())

	r := gin.New()
	r.GET("/providers", handler.GetProviders)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/providers", nil))
	if w.Code != 200 {
		t.Fatalf("查询后端目录应成功，实际: %d", w.Code)
	}

	body := w.Body.String()
	for _, name := range []string{"openai", "anthropic", "google"} {
		if !strings.Contains(body, name) {
			t.Errorf("后端目录缺少 %s: %s", name, body)
		}
	}
}
