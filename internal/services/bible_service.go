// internal/services/bible_service.go
package services

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/SeriesForgeMCP/internal/errors"
	"github.com/Corphon/SeriesForgeMCP/internal/gateway"
	"github.com/Corphon/SeriesForgeMCP/internal/models"
	"github.com/Corphon/SeriesForgeMCP/internal/storage"
	"github.com/Corphon/SeriesForgeMCP/internal/utils"
)

// MaxRegenerationAttempts 单个故事圣经允许的完整流水线重新生成次数。
// 失败的尝试同样计入，防止对生成后端的无限重试。
const MaxRegenerationAttempts = 5

// BibleService 故事圣经服务：创建、编辑、锁定、版本化与剧集回写。
// 锁定状态完全由剧集数量派生，不单独存储，因此天然幂等。
type BibleService struct {
	store    *storage.StoryStore
	pipeline *PipelineService
	gw       *gateway.Gateway
	locks    *LockManager
}

// NewBibleService 创建故事圣经服务
func NewBibleService(store *storage.StoryStore, pipeline *PipelineService, gw *gateway.Gateway, locks *LockManager) *BibleService {
	return &BibleService{
		store:    store,
		pipeline: pipeline,
		gw:       gw,
		locks:    locks,
	}
}

// CreateStoryBible 从用户前提生成并持久化一份新的故事圣经
func (s *BibleService) CreateStoryBible(ctx context.Context, taskID string, premise BiblePremise) (*models.StoryContext, models.EngineReport, error) {
	if strings.TrimSpace(premise.Premise) == "" {
		return nil, models.EngineReport{}, apperrors.NewValidationError("故事前提不能为空", nil)
	}
	if strings.TrimSpace(premise.Genre) == "" {
		return nil, models.EngineReport{}, apperrors.NewValidationError("故事类型不能为空", nil)
	}

	story, report, err := s.pipeline.RunBiblePipeline(ctx, taskID, premise)
	if err != nil {
		return nil, report, err
	}

	if err := s.store.Put(story, -1); err != nil {
		return nil, report, err
	}
	s.snapshotVersion(story, "初始生成")

	return story, report, nil
}

// RegenerateStoryBible 对既有故事圣经重新运行完整生成流水线。
// 已锁定（存在剧集）的故事圣经不允许整体重新生成；
// 每次尝试消耗一次生成预算，失败的尝试同样计入。
func (s *BibleService) RegenerateStoryBible(ctx context.Context, taskID, storyID string) (*models.StoryContext, models.EngineReport, error) {
	var story *models.StoryContext
	var report models.EngineReport

	err := s.locks.ExecuteWithStoryLock(storyID, func() error {
		current, err := s.store.Get(storyID)
		if err != nil {
			return err
		}

		lockState, err := s.LockState(storyID)
		if err != nil {
			return err
		}
		if lockState.IsLocked {
			return apperrors.NewContentLockedError(
				fmt.Sprintf("故事圣经已锁定（已有 %d 集），不允许整体重新生成", lockState.EpisodeCount))
		}

		count, err := s.store.RegenerationCount(storyID)
		if err != nil {
			return err
		}
		if count >= MaxRegenerationAttempts {
			return apperrors.NewRegenerationLimitError(
				fmt.Sprintf("重新生成次数已用尽（上限 %d 次）", MaxRegenerationAttempts))
		}
		if _, err := s.store.IncrementRegeneration(storyID); err != nil {
			return err
		}

		premise := BiblePremise{
			UserID:  current.UserID,
			Title:   current.Title,
			Premise: current.Synopsis,
			Genre:   current.Genre,
			Tone:    current.Tone,
		}

		regenerated, pipelineReport, err := s.pipeline.RunBiblePipeline(ctx, taskID, premise)
		report = pipelineReport
		if err != nil {
			return err
		}

		// 重新生成的内容沿用既有身份
		regenerated.ID = current.ID
		regenerated.UserID = current.UserID
		regenerated.CreatedAt = current.CreatedAt

		s.snapshotVersion(current, "重新生成前的快照")
		if err := s.store.Put(regenerated, current.Revision); err != nil {
			return err
		}

		story = regenerated
		return nil
	})
	if err != nil {
		return nil, report, err
	}
	return story, report, nil
}

// GetStory 读取故事圣经及其锁定状态
func (s *BibleService) GetStory(storyID string) (*models.StoryContext, models.LockState, error) {
	story, err := s.store.Get(storyID)
	if err != nil {
		return nil, models.LockState{}, err
	}
	lockState, err := s.LockState(storyID)
	if err != nil {
		return nil, models.LockState{}, err
	}
	return story, lockState, nil
}

// LockState 由已持久化的剧集数量派生锁定状态
func (s *BibleService) LockState(storyID string) (models.LockState, error) {
	count, err := s.store.EpisodeCount(storyID)
	if err != nil {
		return models.LockState{}, err
	}
	return models.NewLockState(count), nil
}

// UpdateStory 保存用户对故事圣经的编辑。
// 未锁定时任意编辑；锁定后既有内容只读，仅允许追加全新角色。
func (s *BibleService) UpdateStory(ctx context.Context, updated *models.StoryContext, expectedRevision int) (*models.StoryContext, error) {
	var saved *models.StoryContext

	err := s.locks.ExecuteWithStoryLock(updated.ID, func() error {
		current, err := s.store.Get(updated.ID)
		if err != nil {
			return err
		}

		lockState, err := s.LockState(updated.ID)
		if err != nil {
			return err
		}
		if lockState.IsLocked {
			if err := validateLockedUpdate(current, updated); err != nil {
				return err
			}
		}

		// 用户新增的角色标记为显式来源
		now := time.Now()
		for i := range updated.Characters {
			if !current.HasCharacter(updated.Characters[i].Name) {
				updated.Characters[i].Source = models.SourceExplicit
				updated.Characters[i].CreatedAt = now
			}
		}

		s.snapshotVersion(current, "用户编辑前的快照")
		if err := s.store.Put(updated, expectedRevision); err != nil {
			return err
		}
		saved = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// AddCharacter 向故事圣经追加一个全新角色。锁定后依然允许。
func (s *BibleService) AddCharacter(ctx context.Context, storyID string, character models.Character) (*models.StoryContext, error) {
	if strings.TrimSpace(character.Name) == "" {
		return nil, apperrors.NewValidationError("角色名称不能为空", nil)
	}

	var saved *models.StoryContext

	err := s.locks.ExecuteWithStoryLock(storyID, func() error {
		current, err := s.store.Get(storyID)
		if err != nil {
			return err
		}
		if current.HasCharacter(character.Name) {
			return apperrors.NewConflictError(fmt.Sprintf("角色已存在: %s", character.Name), nil)
		}

		character.Source = models.SourceExplicit
		character.CreatedAt = time.Now()
		current.Characters = append(current.Characters, character)

		s.snapshotVersion(current, fmt.Sprintf("追加角色 %s 前的快照", character.Name))
		if err := s.store.Put(current, current.Revision); err != nil {
			return err
		}
		saved = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// ApplyGeneratedAssets 为缺失视觉素材的角色和地点生成描述。
// 默认只填充空缺字段，force 为真时覆盖已有生成内容，
// 但用户显式编辑过的内容永远不被覆盖。
func (s *BibleService) ApplyGeneratedAssets(ctx context.Context, storyID string, force bool) (*models.StoryContext, error) {
	var saved *models.StoryContext

	err := s.locks.ExecuteWithStoryLock(storyID, func() error {
		current, err := s.store.Get(storyID)
		if err != nil {
			return err
		}

		// 收集需要补充素材的目标
		var wantPortraits []string
		for _, ch := range current.Characters {
			if ch.PortraitPrompt == "" || (force && ch.Source != models.SourceExplicit) {
				wantPortraits = append(wantPortraits, ch.Name)
			}
		}
		var wantLocations []string
		for _, loc := range current.World.Locations {
			if loc.Description == "" || (force && loc.Source != models.SourceExplicit) {
				wantLocations = append(wantLocations, loc.Name)
			}
		}
		if len(wantPortraits) == 0 && len(wantLocations) == 0 {
			saved = current
			return nil
		}

		assets, err := s.generateAssets(ctx, current, wantPortraits, wantLocations)
		if err != nil {
			return err
		}

		for i := range current.Characters {
			prompt, ok := assets.portraits[strings.ToLower(current.Characters[i].Name)]
			if !ok || prompt == "" {
				continue
			}
			if current.Characters[i].PortraitPrompt == "" || (force && current.Characters[i].Source != models.SourceExplicit) {
				current.Characters[i].PortraitPrompt = prompt
			}
		}
		for i := range current.World.Locations {
			desc, ok := assets.locations[strings.ToLower(current.World.Locations[i].Name)]
			if !ok || desc == "" {
				continue
			}
			if current.World.Locations[i].Description == "" || (force && current.World.Locations[i].Source != models.SourceExplicit) {
				current.World.Locations[i].Description = desc
			}
		}

		if err := s.store.Put(current, current.Revision); err != nil {
			return err
		}
		saved = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// ReflectEpisode 剧集回写：从成片中提取新登场的角色和地点追加到故事圣经。
// 尽力而为，任何失败只记录日志，不影响已持久化的剧集。
func (s *BibleService) ReflectEpisode(ctx context.Context, storyID string, episode *models.Episode) {
	err := s.locks.ExecuteWithStoryLock(storyID, func() error {
		current, err := s.store.Get(storyID)
		if err != nil {
			return err
		}

		extracted, err := s.extractNewEntities(ctx, current, episode)
		if err != nil {
			return err
		}

		changed := false
		now := time.Now()
		for _, ch := range extracted.characters {
			if ch.Name == "" || current.HasCharacter(ch.Name) {
				continue
			}
			ch.Source = models.SourceReflection
			ch.CreatedAt = now
			current.Characters = append(current.Characters, ch)
			changed = true
		}
		for _, loc := range extracted.locations {
			if loc.Name == "" || current.HasLocation(loc.Name) {
				continue
			}
			loc.Source = models.SourceReflection
			current.World.Locations = append(current.World.Locations, loc)
			changed = true
		}

		if !changed {
			return nil
		}
		return s.store.Put(current, current.Revision)
	})
	if err != nil {
		utils.GetLogger().Warn("剧集回写失败", map[string]interface{}{
			"story_id": storyID,
			"episode":  episode.Number,
			"error":    err.Error(),
		})
	}
}

// ListVersions 列出故事圣经的历史版本快照
func (s *BibleService) ListVersions(storyID string) ([]models.Version, error) {
	return s.store.ListVersions(storyID)
}

// RegenerationRemaining 返回剩余的重新生成次数
func (s *BibleService) RegenerationRemaining(storyID string) (int, error) {
	count, err := s.store.RegenerationCount(storyID)
	if err != nil {
		return 0, err
	}
	remaining := MaxRegenerationAttempts - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// snapshotVersion 保存版本快照。快照失败不阻断主流程，只记录日志。
func (s *BibleService) snapshotVersion(story *models.StoryContext, description string) {
	version := &models.Version{
		ID:                uuid.NewString(),
		StoryContextID:    story.ID,
		ChangeDescription: description,
		Snapshot:          *story,
		CreatedAt:         time.Now(),
	}
	if err := s.store.SaveVersion(version); err != nil {
		utils.GetLogger().Warn("保存版本快照失败", map[string]interface{}{
			"story_id": story.ID,
			"error":    err.Error(),
		})
	}
}

type generatedAssets struct {
	portraits map[string]string // 角色名(小写) -> 头像描述
	locations map[string]string // 地点名(小写) -> 地点描述
}

// generateAssets 为指定角色和地点批量生成视觉描述
func (s *BibleService) generateAssets(ctx context.Context, story *models.StoryContext, characterNames, locationNames []string) (*generatedAssets, error) {
	isEnglish := isEnglishText(story.Synopsis)

	var systemPrompt string
	if isEnglish {
		systemPrompt = `Generate concise visual descriptions for the requested characters and locations of a web series, suitable as image generation prompts. Stay faithful to the story bible.

Output schema:
{"portraits": [{"name": "", "prompt": ""}], "locations": [{"name": "", "description": ""}]}`
	} else {
		systemPrompt = `为网络短剧的指定角色和地点生成简洁的视觉描述，可直接用作图像生成提示词。必须忠实于故事圣经。

输出JSON格式：
{"portraits": [{"name": "", "prompt": ""}], "locations": [{"name": "", "description": ""}]}`
	}

	var b strings.Builder
	b.WriteString(s.pipeline.synthesis.storyBibleContext(story, isEnglish))
	if len(characterNames) > 0 {
		fmt.Fprintf(&b, "\nCharacters needing portrait prompts: %s\n", strings.Join(characterNames, ", "))
	}
	if len(locationNames) > 0 {
		fmt.Fprintf(&b, "Locations needing descriptions: %s\n", strings.Join(locationNames, ", "))
	}

	params := s.gw.Config().Enhance
	var payload struct {
		Portraits []struct {
			Name   string `json:"name"`
			Prompt string `json:"prompt"`
		} `json:"portraits"`
		Locations []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"locations"`
	}

	if _, err := s.gw.GenerateStructured(ctx, gateway.Request{
		SystemPrompt: systemPrompt,
		Prompt:       b.String(),
		Temperature:  params.Temperature,
		MaxTokens:    params.MaxTokens,
	}, &payload); err != nil {
		return nil, apperrors.NewProcessingError("生成视觉素材失败", err)
	}

	assets := &generatedAssets{
		portraits: make(map[string]string),
		locations: make(map[string]string),
	}
	for _, p := range payload.Portraits {
		assets.portraits[strings.ToLower(strings.TrimSpace(p.Name))] = strings.TrimSpace(p.Prompt)
	}
	for _, l := range payload.Locations {
		assets.locations[strings.ToLower(strings.TrimSpace(l.Name))] = strings.TrimSpace(l.Description)
	}
	return assets, nil
}

type extractedEntities struct {
	characters []models.Character
	locations  []models.WorldLocation
}

// extractNewEntities 从剧集正文中提取故事圣经尚未收录的角色和地点
func (s *BibleService) extractNewEntities(ctx context.Context, story *models.StoryContext, episode *models.Episode) (*extractedEntities, error) {
	isEnglish := isEnglishText(story.Synopsis)

	var systemPrompt string
	if isEnglish {
		systemPrompt = `Identify characters and locations that appear in the episode text but are NOT yet listed in the story bible. Only report genuinely new, named entities.

Output schema:
{"characters": [{"name": "", "archetype": "", "description": ""}], "locations": [{"name": "", "description": ""}]}`
	} else {
		systemPrompt = `找出剧集正文中出现、但故事圣经尚未收录的角色和地点。只报告确有名字的全新实体。

输出JSON格式：
{"characters": [{"name": "", "archetype": "", "description": ""}], "locations": [{"name": "", "description": ""}]}`
	}

	var b strings.Builder
	b.WriteString(s.pipeline.synthesis.storyBibleContext(story, isEnglish))
	if isEnglish {
		fmt.Fprintf(&b, "\nEpisode %d text:\n", episode.Number)
	} else {
		fmt.Fprintf(&b, "\n第%d集正文：\n", episode.Number)
	}
	for _, scene := range episode.Scenes {
		b.WriteString(scene.Content)
		b.WriteString("\n\n")
	}

	params := s.gw.Config().Enhance
	var payload struct {
		Characters []models.Character     `json:"characters"`
		Locations  []models.WorldLocation `json:"locations"`
	}

	if _, err := s.gw.GenerateStructured(ctx, gateway.Request{
		SystemPrompt: systemPrompt,
		Prompt:       b.String(),
		Temperature:  params.Temperature,
		MaxTokens:    params.MaxTokens,
	}, &payload); err != nil {
		return nil, err
	}

	return &extractedEntities{
		characters: payload.Characters,
		locations:  payload.Locations,
	}, nil
}

// validateLockedUpdate 校验锁定状态下的编辑：既有内容只读，仅允许追加全新角色
func validateLockedUpdate(current, updated *models.StoryContext) error {
	if updated.Title != current.Title ||
		updated.Synopsis != current.Synopsis ||
		updated.Theme != current.Theme ||
		updated.Genre != current.Genre ||
		updated.Tone != current.Tone {
		return apperrors.NewContentLockedError("故事圣经已锁定，不允许修改基础设定")
	}

	if !reflect.DeepEqual(updated.Arcs, current.Arcs) {
		return apperrors.NewContentLockedError("故事圣经已锁定，不允许修改叙事弧")
	}
	if !reflect.DeepEqual(updated.World, current.World) {
		return apperrors.NewContentLockedError("故事圣经已锁定，不允许修改世界观设定")
	}

	// 既有角色必须逐一保持原样，新角色只能追加在末尾
	if len(updated.Characters) < len(current.Characters) {
		return apperrors.NewContentLockedError("故事圣经已锁定，不允许删除角色")
	}
	for i, ch := range current.Characters {
		if !reflect.DeepEqual(updated.Characters[i], ch) {
			return apperrors.NewContentLockedError(
				fmt.Sprintf("故事圣经已锁定，不允许修改既有角色: %s", ch.Name))
		}
	}
	for _, ch := range updated.Characters[len(current.Characters):] {
		if current.HasCharacter(ch.Name) {
			return apperrors.NewContentLockedError(
				fmt.Sprintf("故事圣经已锁定，不允许以新增方式覆盖既有角色: %s", ch.Name))
		}
	}

	return nil
}
