// internal/api/router.go
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Corphon/SeriesForgeMCP/internal/config"
	"github.com/Corphon/SeriesForgeMCP/internal/di"
)

// SetupRouter 配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	// 只从容器获取服务，不再创建新实例
	container := di.GetContainer()

	bibleService := container.BibleService()
	if bibleService == nil {
		return nil, fmt.Errorf("故事圣经服务未正确初始化")
	}
	episodeService := container.EpisodeService()
	if episodeService == nil {
		return nil, fmt.Errorf("剧集服务未正确初始化")
	}
	preProductionService := container.PreProductionService()
	if preProductionService == nil {
		return nil, fmt.Errorf("前期制作服务未正确初始化")
	}
	progressService := container.ProgressService()
	if progressService == nil {
		return nil, fmt.Errorf("进度服务未正确初始化")
	}

	handler := NewHandler(bibleService, episodeService, preProductionService, progressService)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	// 启用CORS
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	r.Use(RequestIDMiddleware())
	r.Use(MetricsMiddleware())

	// HTTPS重定向（生产环境）
	if !cfg.DebugMode {
		r.Use(func(c *gin.Context) {
			if c.Request.Header.Get("X-Forwarded-Proto") != "https" {
				c.Redirect(http.StatusPermanentRedirect,
					"https://"+c.Request.Host+c.Request.URL.Path)
				return
			}
			c.Next()
		})
	}

	// WebSocket 进度推送
	r.GET("/ws/progress/:taskID", handler.ProgressWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	api.Use(DefaultRateLimit())

	// 设置了签名密钥时启用令牌鉴权
	if cfg.AuthSecret != "" {
		api.Use(AuthMiddleware([]byte(cfg.AuthSecret)))
	}
	{
		// ===============================
		// 故事圣经相关路由
		// ===============================
		storiesGroup := api.Group("/stories")
		{
			storiesGroup.POST("", GenerationRateLimit(), handler.CreateStory)
			storiesGroup.GET("/:id", handler.GetStory)
			storiesGroup.PUT("/:id", handler.UpdateStory)
			storiesGroup.POST("/:id/regenerate", GenerationRateLimit(), handler.RegenerateStory)
			storiesGroup.POST("/:id/characters", handler.AddCharacter)
			storiesGroup.POST("/:id/assets", handler.ApplyAssets)
			storiesGroup.GET("/:id/lock", handler.GetLockState)
			storiesGroup.GET("/:id/versions", handler.GetVersions)

			// 剧集相关路由
			episodesGroup := storiesGroup.Group("/:id/episodes")
			{
				episodesGroup.POST("", GenerationRateLimit(), handler.GenerateEpisode)
				episodesGroup.GET("", handler.ListEpisodes)
				episodesGroup.GET("/:number", handler.GetEpisode)
				episodesGroup.POST("/:number/choice", handler.ChooseBranch)
				episodesGroup.PUT("/:number/scenes/:scene", handler.EditScene)

				// 前期制作文档
				episodesGroup.POST("/:number/preproduction", GenerationRateLimit(), handler.GeneratePreProduction)
				episodesGroup.GET("/:number/preproduction/:type", handler.GetPreProduction)
			}
		}

		// ===============================
		// 进度相关路由
		// ===============================
		api.GET("/progress/:taskID", handler.GetProgress)
		api.POST("/progress/:taskID/cancel", handler.CancelTask)

		// WebSocket 管理路由
		api.GET("/ws/status", handler.GetWebSocketStatus)

		// 运行指标快照
		api.GET("/metrics", handler.GetMetrics)

		// 生成后端目录
		api.GET("/providers", handler.GetProviders)
	}

	return r, nil
}
