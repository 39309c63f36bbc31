// internal/services/preproduction_service.go
package services

import (
	"context"

	"github.com/Corphon/SeriesForgeMCP/internal/models"
	"github.com/Corphon/SeriesForgeMCP/internal/storage"
)

// PreProductionService 前期制作服务：为已生成的剧集产出拍摄脚本、
// 分镜表、选角建议和营销素材。
type PreProductionService struct {
	store    *storage.StoryStore
	pipeline *PipelineService
}

// NewPreProductionService 创建前期制作服务
func NewPreProductionService(store *storage.StoryStore, pipeline *PipelineService) *PreProductionService {
	return &PreProductionService{store: store, pipeline: pipeline}
}

// Generate 为指定剧集生成一类前期制作文档并持久化
func (s *PreProductionService) Generate(ctx context.Context, taskID, storyID string, episodeNumber int, docType models.PreProductionType) (*models.PreProductionDocument, error) {
	story, err := s.store.Get(storyID)
	if err != nil {
		return nil, err
	}
	episode, err := s.store.GetEpisode(storyID, episodeNumber)
	if err != nil {
		return nil, err
	}

	doc, err := s.pipeline.RunPreProductionPipeline(ctx, taskID, story, episode, docType)
	if err != nil {
		return nil, err
	}

	if err := s.store.SavePreProduction(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Get 读取已生成的前期制作文档
func (s *PreProductionService) Get(storyID string, episodeNumber int, docType models.PreProductionType) (*models.PreProductionDocument, error) {
	return s.store.GetPreProduction(storyID, episodeNumber, docType)
}

// preProductionFocus 返回各文档类型的合成指令
func preProductionFocus(docType models.PreProductionType, isEnglish bool) string {
	if isEnglish {
		switch docType {
		case models.PreProductionScript:
			return "Produce a shooting script: scene headings, action lines, dialogue with speaker names, and camera notes where essential."
		case models.PreProductionStoryboard:
			return "Produce a storyboard breakdown: one section per shot with framing, movement and what the audience sees."
		case models.PreProductionCasting:
			return "Produce casting guidance: for each speaking role describe age range, physicality, acting demands and reference archetypes."
		case models.PreProductionMarketing:
			return "Produce marketing material: episode taglines, a teaser outline and three social media hooks."
		}
		return "Produce a pre-production document for this episode."
	}

	switch docType {
	case models.PreProductionScript:
		return "产出拍摄脚本：场景标题、动作描述、带说话人的台词，以及必要的镜头提示。"
	case models.PreProductionStoryboard:
		return "产出分镜表：每个镜头一个小节，说明构图、运镜和观众所见内容。"
	case models.PreProductionCasting:
		return "产出选角建议：为每个有台词的角色描述年龄段、形体特征、表演要求和参考原型。"
	case models.PreProductionMarketing:
		return "产出营销素材：剧集宣传语、预告片概要和三条社交媒体话题点。"
	}
	return "为这一集产出前期制作文档。"
}
