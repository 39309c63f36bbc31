// internal/services/orchestrator_service.go
package services

import (
	"context"
	"sync"
	"time"

	"github.com/Corphon/SeriesForgeMCP/internal/engines"
	"github.com/Corphon/SeriesForgeMCP/internal/models"
	"github.com/Corphon/SeriesForgeMCP/internal/utils"
)

// OrchestratorConfig 增强编排配置
type OrchestratorConfig struct {
	// 成功率达到该阈值时运行结果标记为健康
	HealthThreshold float64 `json:"health_threshold" yaml:"health_threshold"`
	// 单个引擎的超时时间
	EngineTimeout time.Duration `json:"engine_timeout" yaml:"engine_timeout"`
	// 同时运行的引擎数量上限
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"`
}

// DefaultOrchestratorConfig 返回默认编排配置
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		HealthThreshold: 0.8,
		EngineTimeout:   60 * time.Second,
		MaxConcurrent:   5,
	}
}

// OrchestratorService 增强引擎编排器。
// 按声明的阶段分层运行引擎：同层并发，后层消费前层的全部意见。
// 单个引擎失败只损失该引擎的意见，不中断编排；
// 运行结束后给出成功率报告，由调用方决定是否采信。
type OrchestratorService struct {
	engines []engines.Engine
	cfg     OrchestratorConfig
}

// NewOrchestratorService 创建编排器
func NewOrchestratorService(set []engines.Engine, cfg OrchestratorConfig) *OrchestratorService {
	if cfg.HealthThreshold <= 0 {
		cfg.HealthThreshold = 0.8
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	return &OrchestratorService{engines: set, cfg: cfg}
}

// EngineCount 返回编排器持有的引擎总数
func (s *OrchestratorService) EngineCount() int {
	return len(s.engines)
}

// Run 对一份草稿运行全部适用引擎，返回收集到的意见和运行报告。
// 只有上下文取消会让整个编排失败，引擎自身的失败都被吸收进报告。
func (s *OrchestratorService) Run(ctx context.Context, draft *models.EpisodeDraft, story *models.StoryContext) ([]models.EnhancementNote, models.EngineReport, error) {
	byPhase := engines.ByPhase(s.engines)

	report := models.EngineReport{
		PerEngineStatus: make(map[string]bool),
	}
	var notes []models.EnhancementNote

	for _, stage := range engines.Stages {
		if ctx.Err() != nil {
			return nil, report, ctx.Err()
		}

		// 收集本层的适用引擎
		var stageEngines []engines.Engine
		for _, phase := range stage {
			for _, e := range byPhase[phase] {
				if e.AppliesTo(story) {
					stageEngines = append(stageEngines, e)
				}
			}
		}
		if len(stageEngines) == 0 {
			continue
		}

		// 前层已收集的意见快照，本层所有引擎读取同一份
		prior := successfulNotes(notes)

		stageNotes := s.runStage(ctx, stageEngines, draft, story, prior)
		for _, note := range stageNotes {
			report.TotalRun++
			report.PerEngineStatus[note.EngineID] = note.Success
			utils.NewPipelineMetrics().RecordEngineRun(note.EngineID, note.Success)
			if note.Success {
				report.Successful++
				notes = append(notes, note)
			} else {
				report.Failed++
			}
		}
	}

	if ctx.Err() != nil {
		return nil, report, ctx.Err()
	}

	report.Healthy = report.TotalRun > 0 && report.SuccessRate() >= s.cfg.HealthThreshold
	if !report.Healthy {
		utils.GetLogger().Warn("增强引擎成功率低于阈值", map[string]interface{}{
			"total":      report.TotalRun,
			"successful": report.Successful,
			"threshold":  s.cfg.HealthThreshold,
		})
	}

	return notes, report, nil
}

// runStage 并发运行同一层的引擎，信号量限制并发数
func (s *OrchestratorService) runStage(ctx context.Context, stageEngines []engines.Engine, draft *models.EpisodeDraft, story *models.StoryContext, prior []models.EnhancementNote) []models.EnhancementNote {
	results := make([]models.EnhancementNote, len(stageEngines))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, s.cfg.MaxConcurrent)

	for i, engine := range stageEngines {
		wg.Add(1)
		go func(idx int, e engines.Engine) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			engineCtx := ctx
			if s.cfg.EngineTimeout > 0 {
				var cancel context.CancelFunc
				engineCtx, cancel = context.WithTimeout(ctx, s.cfg.EngineTimeout)
				defer cancel()
			}

			note, err := e.Enhance(engineCtx, draft, story, prior)
			if err != nil {
				utils.GetLogger().Warn("增强引擎失败", map[string]interface{}{
					"engine": e.ID(),
					"phase":  string(e.Phase()),
					"error":  err.Error(),
				})
				results[idx] = models.EnhancementNote{
					EngineID: e.ID(),
					Phase:    string(e.Phase()),
					Success:  false,
				}
				return
			}
			note.Success = true
			results[idx] = note
		}(i, engine)
	}

	wg.Wait()
	return results
}

func successfulNotes(notes []models.EnhancementNote) []models.EnhancementNote {
	filtered := make([]models.EnhancementNote, 0, len(notes))
	for _, note := range notes {
		if note.Success {
			filtered = append(filtered, note)
		}
	}
	return filtered
}
