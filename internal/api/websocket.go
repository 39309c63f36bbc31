// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/SeriesForgeMCP/internal/services"
	"github.com/Corphon/SeriesForgeMCP/internal/utils"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 在生产环境中应该进行更严格的检查
		return true
	},
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// 活跃连接计数，供状态端点查询
var (
	activeConnections int64
	connectionsByTask sync.Map // taskID -> int64 计数指针
)

// streamProgress 把任务进度通过WebSocket实时推送给客户端，
// 任务结束或客户端断开后退出。
func streamProgress(c *gin.Context, progressService *services.ProgressService) {
	taskID := c.Param("taskID")

	tracker, exists := progressService.GetTracker(taskID)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "任务不存在"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.GetLogger().Warn("WebSocket升级失败", map[string]interface{}{
			"task_id": taskID,
			"error":   err.Error(),
		})
		return
	}
	defer conn.Close()

	atomic.AddInt64(&activeConnections, 1)
	defer atomic.AddInt64(&activeConnections, -1)
	trackTaskConnection(taskID, 1)
	defer trackTaskConnection(taskID, -1)

	updates := tracker.Subscribe()
	defer tracker.Unsubscribe(updates)

	// 读协程只消费客户端的关闭信号
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := writeProgressUpdate(conn, update); err != nil {
				return
			}
			if update.Status == "completed" || update.Status == "failed" {
				// 最后补发一次带产物引用的终态消息
				writeProgressResult(conn, tracker)
				return
			}

		case <-tracker.Done:
			// 订阅前任务就已结束时直接发终态
			writeProgressResult(conn, tracker)
			return

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-clientGone:
			return
		}
	}
}

// writeProgressUpdate 发送一条进度消息
func writeProgressUpdate(conn *websocket.Conn, update services.ProgressUpdate) error {
	payload, err := json.Marshal(gin.H{
		"type":     "progress",
		"stage":    update.Stage,
		"progress": update.Progress,
		"message":  update.Message,
		"status":   update.Status,
	})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// writeProgressResult 发送带任务产物引用的终态消息
func writeProgressResult(conn *websocket.Conn, tracker *services.ProgressTracker) {
	payload, err := json.Marshal(gin.H{
		"type":   "result",
		"status": tracker.Status,
		"result": tracker.Result(),
	})
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	conn.WriteMessage(websocket.TextMessage, payload)
}

// trackTaskConnection 维护按任务的连接计数
func trackTaskConnection(taskID string, delta int64) {
	value, _ := connectionsByTask.LoadOrStore(taskID, new(int64))
	counter := value.(*int64)
	if atomic.AddInt64(counter, delta) <= 0 {
		connectionsByTask.Delete(taskID)
	}
}

// GetWebSocketStatus 返回WebSocket连接统计
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	perTask := make(map[string]int64)
	connectionsByTask.Range(func(key, value interface{}) bool {
		perTask[key.(string)] = atomic.LoadInt64(value.(*int64))
		return true
	})

	h.Response.Success(c, gin.H{
		"active_connections": atomic.LoadInt64(&activeConnections),
		"tasks":              perTask,
	})
}
