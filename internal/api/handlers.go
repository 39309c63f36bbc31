// internal/api/handlers.go
package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/Corphon/SeriesForgeMCP/internal/errors"
	"github.com/Corphon/SeriesForgeMCP/internal/llm"
	"github.com/Corphon/SeriesForgeMCP/internal/models"
	"github.com/Corphon/SeriesForgeMCP/internal/services"
	"github.com/Corphon/SeriesForgeMCP/internal/utils"
)

// 异步生成任务的最长运行时间
const generationTaskTimeout = 15 * time.Minute

// Handler 处理API请求
type Handler struct {
	BibleService         *services.BibleService
	EpisodeService       *services.EpisodeService
	PreProductionService *services.PreProductionService
	ProgressService      *services.ProgressService
	Response             *ResponseHelper
}

// NewHandler 创建API处理器
func NewHandler(
	bibleService *services.BibleService,
	episodeService *services.EpisodeService,
	preProductionService *services.PreProductionService,
	progressService *services.ProgressService) *Handler {

	return &Handler{
		BibleService:         bibleService,
		EpisodeService:       episodeService,
		PreProductionService: preProductionService,
		ProgressService:      progressService,
		Response:             NewResponseHelper(),
	}
}

// APIResponse 标准响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// PaginationMeta 分页元数据
type PaginationMeta struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// PaginatedResponse 带分页的响应
type PaginatedResponse struct {
	*APIResponse
	Meta *PaginationMeta `json:"meta,omitempty"`
}

// ------------------------------------------------
// 故事圣经
// ------------------------------------------------

// CreateStoryRequest 创建故事圣经的请求体
type CreateStoryRequest struct {
	UserID  string `json:"user_id"`
	Title   string `json:"title"`
	Premise string `json:"premise" binding:"required"`
	Genre   string `json:"genre" binding:"required"`
	Tone    string `json:"tone"`
}

// CreateStory 启动故事圣经生成任务
func (h *Handler) CreateStory(c *gin.Context) {
	var req CreateStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式错误", err.Error())
		return
	}

	taskID := uuid.NewString()
	tracker := h.ProgressService.CreateTracker(taskID)

	ctx, cancel := context.WithTimeout(context.Background(), generationTaskTimeout)
	tracker.SetCancel(cancel)

	go func() {
		defer cancel()

		story, _, err := h.BibleService.CreateStoryBible(ctx, taskID, services.BiblePremise{
			UserID:  req.UserID,
			Title:   req.Title,
			Premise: req.Premise,
			Genre:   req.Genre,
			Tone:    req.Tone,
		})
		if err != nil {
			utils.GetLogger().Error("故事圣经生成任务失败", map[string]interface{}{
				"task_id": taskID,
				"error":   err.Error(),
			})
			tracker.Fail(err.Error())
			return
		}
		tracker.SetResult(gin.H{"story_id": story.ID})
	}()

	c.JSON(http.StatusAccepted, &APIResponse{
		Success:   true,
		Data:      gin.H{"task_id": taskID},
		Message:   "故事圣经生成已启动",
		Timestamp: time.Now(),
	})
}

// GetStory 获取故事圣经及其锁定状态
func (h *Handler) GetStory(c *gin.Context) {
	story, lockState, err := h.BibleService.GetStory(c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	remaining, err := h.BibleService.RegenerationRemaining(story.ID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.Response.Success(c, gin.H{
		"story":                  story,
		"lock_state":             lockState,
		"regeneration_remaining": remaining,
	})
}

// UpdateStoryRequest 编辑故事圣经的请求体
type UpdateStoryRequest struct {
	Story            models.StoryContext `json:"story" binding:"required"`
	ExpectedRevision int                 `json:"expected_revision"`
}

// UpdateStory 保存用户对故事圣经的编辑
func (h *Handler) UpdateStory(c *gin.Context) {
	var req UpdateStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式错误", err.Error())
		return
	}
	req.Story.ID = c.Param("id")

	saved, err := h.BibleService.UpdateStory(c.Request.Context(), &req.Story, req.ExpectedRevision)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.Response.Success(c, saved, "故事圣经已保存")
}

// RegenerateStory 启动故事圣经重新生成任务
func (h *Handler) RegenerateStory(c *gin.Context) {
	storyID := c.Param("id")

	// 预算和锁定在任务启动前同步校验，让调用方立即得到明确拒绝
	lockState, err := h.BibleService.LockState(storyID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	if lockState.IsLocked {
		h.respondServiceError(c, apperrors.NewContentLockedError("故事圣经已锁定，不允许整体重新生成"))
		return
	}
	remaining, err := h.BibleService.RegenerationRemaining(storyID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	if remaining <= 0 {
		h.respondServiceError(c, apperrors.NewRegenerationLimitError("重新生成次数已用尽"))
		return
	}

	taskID := uuid.NewString()
	tracker := h.ProgressService.CreateTracker(taskID)

	ctx, cancel := context.WithTimeout(context.Background(), generationTaskTimeout)
	tracker.SetCancel(cancel)

	go func() {
		defer cancel()

		story, _, err := h.BibleService.RegenerateStoryBible(ctx, taskID, storyID)
		if err != nil {
			utils.GetLogger().Error("故事圣经重新生成任务失败", map[string]interface{}{
				"task_id":  taskID,
				"story_id": storyID,
				"error":    err.Error(),
			})
			tracker.Fail(err.Error())
			return
		}
		tracker.SetResult(gin.H{"story_id": story.ID})
	}()

	c.JSON(http.StatusAccepted, &APIResponse{
		Success:   true,
		Data:      gin.H{"task_id": taskID},
		Message:   "故事圣经重新生成已启动",
		Timestamp: time.Now(),
	})
}

// AddCharacter 向故事圣经追加新角色
func (h *Handler) AddCharacter(c *gin.Context) {
	var character models.Character
	if err := c.ShouldBindJSON(&character); err != nil {
		h.Response.BadRequest(c, "请求格式错误", err.Error())
		return
	}

	saved, err := h.BibleService.AddCharacter(c.Request.Context(), c.Param("id"), character)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.Response.Created(c, saved, "角色已追加")
}

// ApplyAssets 为缺失素材的角色和地点生成视觉描述
func (h *Handler) ApplyAssets(c *gin.Context) {
	force := c.Query("force") == "true"

	saved, err := h.BibleService.ApplyGeneratedAssets(c.Request.Context(), c.Param("id"), force)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.Response.Success(c, saved, "视觉素材已补充")
}

// GetLockState 获取故事圣经的锁定状态
func (h *Handler) GetLockState(c *gin.Context) {
	lockState, err := h.BibleService.LockState(c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.Response.Success(c, lockState)
}

// GetVersions 列出故事圣经的历史版本
func (h *Handler) GetVersions(c *gin.Context) {
	versions, err := h.BibleService.ListVersions(c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.Response.Success(c, versions)
}

// ------------------------------------------------
// 剧集
// ------------------------------------------------

// GenerateEpisodeRequest 生成剧集的请求体
type GenerateEpisodeRequest struct {
	Number int `json:"number" binding:"required"`
}

// GenerateEpisode 启动剧集生成任务
func (h *Handler) GenerateEpisode(c *gin.Context) {
	var req GenerateEpisodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式错误", err.Error())
		return
	}
	storyID := c.Param("id")

	taskID := uuid.NewString()
	tracker := h.ProgressService.CreateTracker(taskID)

	ctx, cancel := context.WithTimeout(context.Background(), generationTaskTimeout)
	tracker.SetCancel(cancel)

	go func() {
		defer cancel()

		episode, err := h.EpisodeService.GenerateEpisode(ctx, taskID, storyID, req.Number)
		if err != nil {
			utils.GetLogger().Error("剧集生成任务失败", map[string]interface{}{
				"task_id":  taskID,
				"story_id": storyID,
				"number":   req.Number,
				"error":    err.Error(),
			})
			tracker.Fail(err.Error())
			return
		}
		tracker.SetResult(gin.H{"episode_id": episode.ID, "number": episode.Number})
	}()

	c.JSON(http.StatusAccepted, &APIResponse{
		Success:   true,
		Data:      gin.H{"task_id": taskID},
		Message:   "剧集生成已启动",
		Timestamp: time.Now(),
	})
}

// ListEpisodes 按编号顺序列出全部剧集
func (h *Handler) ListEpisodes(c *gin.Context) {
	episodes, err := h.EpisodeService.ListEpisodes(c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.Response.Success(c, episodes)
}

// GetEpisode 获取指定剧集
func (h *Handler) GetEpisode(c *gin.Context) {
	number, ok := h.episodeNumber(c)
	if !ok {
		return
	}
	episode, err := h.EpisodeService.GetEpisode(c.Param("id"), number)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.Response.Success(c, episode)
}

// ChooseBranchRequest 分支选择请求体
type ChooseBranchRequest struct {
	OptionID string `json:"option_id" binding:"required"`
}

// ChooseBranch 记录观众对剧集分支的选择
func (h *Handler) ChooseBranch(c *gin.Context) {
	number, ok := h.episodeNumber(c)
	if !ok {
		return
	}
	var req ChooseBranchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式错误", err.Error())
		return
	}

	episode, err := h.EpisodeService.ChooseBranch(c.Param("id"), number, req.OptionID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.Response.Success(c, episode, "分支选择已记录")
}

// EditSceneRequest 场景编辑请求体
type EditSceneRequest struct {
	Content string `json:"content" binding:"required"`
}

// EditScene 编辑剧集中的场景文本
func (h *Handler) EditScene(c *gin.Context) {
	number, ok := h.episodeNumber(c)
	if !ok {
		return
	}
	sceneIndex, err := strconv.Atoi(c.Param("scene"))
	if err != nil {
		h.Response.BadRequest(c, "场景序号格式错误", err.Error())
		return
	}
	var req EditSceneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式错误", err.Error())
		return
	}

	episode, err := h.EpisodeService.EditScene(c.Param("id"), number, sceneIndex, req.Content)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.Response.Success(c, episode, "场景已更新")
}

// ------------------------------------------------
// 前期制作
// ------------------------------------------------

// GeneratePreProductionRequest 前期制作文档生成请求体
type GeneratePreProductionRequest struct {
	Type string `json:"type" binding:"required"`
}

// GeneratePreProduction 启动前期制作文档生成任务
func (h *Handler) GeneratePreProduction(c *gin.Context) {
	number, ok := h.episodeNumber(c)
	if !ok {
		return
	}
	var req GeneratePreProductionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式错误", err.Error())
		return
	}
	docType, err := models.ParsePreProductionType(req.Type)
	if err != nil {
		h.Response.BadRequest(c, "文档类型无效", err.Error())
		return
	}
	storyID := c.Param("id")

	taskID := uuid.NewString()
	tracker := h.ProgressService.CreateTracker(taskID)

	ctx, cancel := context.WithTimeout(context.Background(), generationTaskTimeout)
	tracker.SetCancel(cancel)

	go func() {
		defer cancel()

		doc, err := h.PreProductionService.Generate(ctx, taskID, storyID, number, docType)
		if err != nil {
			utils.GetLogger().Error("前期制作文档生成任务失败", map[string]interface{}{
				"task_id":  taskID,
				"story_id": storyID,
				"number":   number,
				"type":     string(docType),
				"error":    err.Error(),
			})
			tracker.Fail(err.Error())
			return
		}
		tracker.SetResult(gin.H{"document_id": doc.ID, "type": string(doc.Type)})
	}()

	c.JSON(http.StatusAccepted, &APIResponse{
		Success:   true,
		Data:      gin.H{"task_id": taskID},
		Message:   "前期制作文档生成已启动",
		Timestamp: time.Now(),
	})
}

// GetPreProduction 获取已生成的前期制作文档
func (h *Handler) GetPreProduction(c *gin.Context) {
	number, ok := h.episodeNumber(c)
	if !ok {
		return
	}
	docType, err := models.ParsePreProductionType(c.Param("type"))
	if err != nil {
		h.Response.BadRequest(c, "文档类型无效", err.Error())
		return
	}

	doc, err := h.PreProductionService.Get(c.Param("id"), number, docType)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.Response.Success(c, doc)
}

// ------------------------------------------------
// 进度
// ------------------------------------------------

// GetProgress 获取生成任务的当前进度快照
func (h *Handler) GetProgress(c *gin.Context) {
	tracker, exists := h.ProgressService.GetTracker(c.Param("taskID"))
	if !exists {
		h.Response.NotFound(c, "任务")
		return
	}

	h.Response.Success(c, gin.H{
		"task_id":  tracker.TaskID,
		"stage":    tracker.Stage,
		"progress": tracker.Progress,
		"message":  tracker.Message,
		"status":   tracker.Status,
		"result":   tracker.Result(),
	})
}

// CancelTask 取消仍在运行的生成任务，丢弃未持久化的部分产物
func (h *Handler) CancelTask(c *gin.Context) {
	taskID := c.Param("taskID")
	tracker, exists := h.ProgressService.GetTracker(taskID)
	if !exists {
		h.Response.NotFound(c, "任务")
		return
	}

	if !tracker.Cancel() {
		h.Response.Error(c, http.StatusConflict, ErrorConflict, "任务已结束，无法取消")
		return
	}

	utils.GetLogger().Info("生成任务已被用户取消", map[string]interface{}{
		"task_id": taskID,
	})
	h.Response.Success(c, gin.H{"task_id": taskID}, "任务已取消")
}

// ProgressWebSocket 通过WebSocket流式推送任务进度
func (h *Handler) ProgressWebSocket(c *gin.Context) {
	streamProgress(c, h.ProgressService)
}

// ------------------------------------------------
// 辅助
// ------------------------------------------------

// episodeNumber 解析路径中的剧集编号
func (h *Handler) episodeNumber(c *gin.Context) (int, bool) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number <= 0 {
		h.Response.BadRequest(c, "剧集编号格式错误")
		return 0, false
	}
	return number, true
}

// GetMetrics 返回进程内运行指标快照
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, utils.GetMetricsCollector().GetMetrics())
}

// GetProviders 列出已注册的生成后端及各自支持的模型
func (h *Handler) GetProviders(c *gin.Context) {
	names := llm.ListProviders()
	sort.Strings(names)

	providers := make([]gin.H, 0, len(names))
	for _, name := range names {
		providers = append(providers, gin.H{
			"name":   name,
			"models": llm.GetSupportedModelsForProvider(name),
		})
	}
	h.Response.Success(c, providers)
}

// respondServiceError 把服务层错误映射为HTTP响应
func (h *Handler) respondServiceError(c *gin.Context, err error) {
	switch {
	case apperrors.IsNotFoundError(err):
		h.Response.Error(c, http.StatusNotFound, ErrorNotFound, err.Error())
	case apperrors.IsValidationError(err):
		h.Response.Error(c, http.StatusBadRequest, ErrorBadRequest, err.Error())
	case apperrors.IsConflictError(err):
		h.Response.Error(c, http.StatusConflict, ErrorConflict, err.Error())
	case apperrors.IsContentLockedError(err):
		h.Response.Error(c, http.StatusForbidden, ErrorContentLocked, err.Error())
	case apperrors.IsRegenerationLimitError(err):
		h.Response.Error(c, http.StatusTooManyRequests, ErrorRegenerationLimit, err.Error())
	case apperrors.IsAuthFailureError(err):
		h.Response.Error(c, http.StatusBadGateway, ErrorBackendAuthFailure, err.Error())
	case apperrors.IsDraftingFailedError(err):
		h.Response.Error(c, http.StatusBadGateway, ErrorDraftingFailed, err.Error())
	case apperrors.IsSynthesisFailedError(err):
		h.Response.Error(c, http.StatusBadGateway, ErrorSynthesisFailed, err.Error())
	default:
		h.Response.InternalError(c, err.Error())
	}
}
