// internal/di/accessors.go
package di

import (
	"github.com/Corphon/SeriesForgeMCP/internal/services"
)

// 容器中的服务注册名
const (
	ServiceBible         = "bible_service"
	ServiceEpisode       = "episode_service"
	ServicePreProduction = "preproduction_service"
	ServicePipeline      = "pipeline_service"
	ServiceProgress      = "progress_service"
	ServiceOrchestrator  = "orchestrator_service"
)

// BibleService 获取故事圣经服务
func (c *Container) BibleService() *services.BibleService {
	if s, ok := c.Get(ServiceBible).(*services.BibleService); ok {
		return s
	}
	return nil
}

// EpisodeService 获取剧集服务
func (c *Container) EpisodeService() *services.EpisodeService {
	if s, ok := c.Get(ServiceEpisode).(*services.EpisodeService); ok {
		return s
	}
	return nil
}

// PreProductionService 获取前期制作服务
func (c *Container) PreProductionService() *services.PreProductionService {
	if s, ok := c.Get(ServicePreProduction).(*services.PreProductionService); ok {
		return s
	}
	return nil
}

// PipelineService 获取流水线服务
func (c *Container) PipelineService() *services.PipelineService {
	if s, ok := c.Get(ServicePipeline).(*services.PipelineService); ok {
		return s
	}
	return nil
}

// ProgressService 获取进度服务
func (c *Container) ProgressService() *services.ProgressService {
	if s, ok := c.Get(ServiceProgress).(*services.ProgressService); ok {
		return s
	}
	return nil
}
