// internal/services/synthesis_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/SeriesForgeMCP/internal/errors"
	"github.com/Corphon/SeriesForgeMCP/internal/gateway"
	"github.com/Corphon/SeriesForgeMCP/internal/models"
	"github.com/Corphon/SeriesForgeMCP/internal/utils"
)

// SynthesisService 合成阶段：把草稿和全部增强意见融合成最终产物。
// 提示词携带完整的故事圣经上下文，任何部分都不做截断——
// 丢失角色或世界观细节会让成片偏离既定设定，比提示词变长的代价大得多。
type SynthesisService struct {
	gw *gateway.Gateway
}

// NewSynthesisService 创建合成服务
func NewSynthesisService(gw *gateway.Gateway) *SynthesisService {
	return &SynthesisService{gw: gw}
}

// 合成阶段JSON解析失败时追加的强化指令
const strictJSONReminder = "Previous response could not be parsed. Respond with ONLY a single valid JSON object matching the schema. No markdown fences, no commentary, no trailing text."

// SynthesizeEpisode 将剧集草稿与增强意见合成为最终剧集。
// 结构化输出解析失败时带强化指令重试一次，仍失败则上报合成失败。
func (s *SynthesisService) SynthesizeEpisode(ctx context.Context, story *models.StoryContext, draft *models.EpisodeDraft, notes []models.EnhancementNote) (*models.Episode, error) {
	isEnglish := isEnglishText(story.Synopsis + " " + draft.Text())

	var systemPrompt string
	if isEnglish {
		systemPrompt = `You are the head writer of a serialized web series. Fuse the episode draft with every enhancement note into one polished final episode. Honor the story bible exactly: never contradict established characters, world rules or prior events. The episode must end with exactly 3 branching options for the audience, exactly one of them marked canonical.

Output schema:
{
  "title": "episode title",
  "synopsis": "2-3 sentence episode synopsis",
  "scenes": [{"content": "full scene text"}],
  "options": [{"text": "branching option text", "canonical": true|false}]
}`
	} else {
		systemPrompt = `你是连载网络短剧的总编剧。把剧集草稿和全部增强意见融合成一集成稿。严格遵守故事圣经：不得与既有角色、世界观规则或先前剧情矛盾。每集结尾必须给出恰好3个分支选项，其中恰好1个标记为规范延续。

输出JSON格式：
{
  "title": "剧集标题",
  "synopsis": "2-3句剧集简介",
  "scenes": [{"content": "完整场景文本"}],
  "options": [{"text": "分支选项文本", "canonical": true|false}]
}`
	}

	prompt := s.buildEpisodePrompt(story, draft, notes, isEnglish)
	params := s.gw.Config().Synthesis
	req := gateway.Request{
		SystemPrompt: systemPrompt,
		Prompt:       prompt,
		Temperature:  params.Temperature,
		MaxTokens:    params.MaxTokens,
	}

	var payload struct {
		Title    string `json:"title"`
		Synopsis string `json:"synopsis"`
		Scenes   []struct {
			Content string `json:"content"`
		} `json:"scenes"`
		Options []struct {
			Text      string `json:"text"`
			Canonical bool   `json:"canonical"`
		} `json:"options"`
	}

	result, err := s.generateStrict(ctx, req, &payload)
	if err != nil {
		return nil, err
	}

	scenes := make([]models.Scene, 0, len(payload.Scenes))
	for _, sc := range payload.Scenes {
		if strings.TrimSpace(sc.Content) == "" {
			continue
		}
		scenes = append(scenes, models.Scene{Content: sc.Content})
	}
	if len(scenes) == 0 {
		return nil, apperrors.NewSynthesisFailedError("合成结果不包含任何场景", nil)
	}

	rawOptions := make([]models.BranchingOption, 0, len(payload.Options))
	for _, opt := range payload.Options {
		if strings.TrimSpace(opt.Text) == "" {
			continue
		}
		rawOptions = append(rawOptions, models.BranchingOption{
			ID:        uuid.NewString(),
			Text:      strings.TrimSpace(opt.Text),
			Canonical: opt.Canonical,
		})
	}
	options, err := normalizeOptions(rawOptions)
	if err != nil {
		return nil, apperrors.NewSynthesisFailedError("合成结果的分支选项不合规", err)
	}

	title := strings.TrimSpace(payload.Title)
	if title == "" {
		title = draft.Title
	}

	episode := &models.Episode{
		ID:             uuid.NewString(),
		StoryContextID: story.ID,
		Number:         draft.Number,
		Title:          title,
		Synopsis:       strings.TrimSpace(payload.Synopsis),
		Scenes:         scenes,
		Options:        options,
		Backend:        result.Backend,
		Source:         models.SourceGenerated,
		CreatedAt:      time.Now(),
	}

	if err := episode.Validate(); err != nil {
		return nil, apperrors.NewSynthesisFailedError("合成的剧集未通过校验", err)
	}
	return episode, nil
}

// SynthesizeStoryBible 将故事圣经草稿与增强意见合成为最终故事圣经
func (s *SynthesisService) SynthesizeStoryBible(ctx context.Context, draft *models.StoryContext, notes []models.EnhancementNote) (*models.StoryContext, error) {
	isEnglish := isEnglishText(draft.Synopsis + " " + draft.Title)

	var systemPrompt string
	if isEnglish {
		systemPrompt = `You are the showrunner of a serialized web series. Refine the draft story bible using every enhancement note. Decide yourself how many main characters the story needs. Keep episode numbers globally unique across arcs.

Output schema:
{
  "title": "series title",
  "synopsis": "series synopsis",
  "theme": "central theme",
  "tone": "overall tone",
  "characters": [{"name": "", "archetype": "", "description": "", "arc": "", "motivation": "", "voice": "", "relationships": {"other name": "relation"}, "portrait_prompt": "visual description for portrait generation"}],
  "arcs": [{"title": "", "summary": "", "episodes": [{"number": 1, "title": "", "summary": ""}]}],
  "world": {"setting": "", "rules": [""], "time_period": "", "cultural_context": "", "locations": [{"name": "", "description": ""}]}
}`
	} else {
		systemPrompt = `你是连载网络短剧的制片总监。根据全部增强意见完善故事圣经草稿。主要角色的数量由你根据故事需要决定。剧集编号在所有叙事弧之间必须全局唯一。

输出JSON格式：
{
  "title": "系列标题",
  "synopsis": "系列简介",
  "theme": "核心主题",
  "tone": "整体基调",
  "characters": [{"name": "", "archetype": "", "description": "", "arc": "", "motivation": "", "voice": "", "relationships": {"角色名": "关系"}, "portrait_prompt": "用于生成头像的视觉描述"}],
  "arcs": [{"title": "", "summary": "", "episodes": [{"number": 1, "title": "", "summary": ""}]}],
  "world": {"setting": "", "rules": [""], "time_period": "", "cultural_context": "", "locations": [{"name": "", "description": ""}]}
}`
	}

	prompt := s.buildBiblePrompt(draft, notes, isEnglish)
	params := s.gw.Config().Synthesis
	req := gateway.Request{
		SystemPrompt: systemPrompt,
		Prompt:       prompt,
		Temperature:  params.Temperature,
		MaxTokens:    params.MaxTokens,
	}

	var payload struct {
		Title      string                `json:"title"`
		Synopsis   string                `json:"synopsis"`
		Theme      string                `json:"theme"`
		Tone       string                `json:"tone"`
		Characters []models.Character    `json:"characters"`
		Arcs       []models.NarrativeArc `json:"arcs"`
		World      models.WorldBuilding  `json:"world"`
	}

	if _, err := s.generateStrict(ctx, req, &payload); err != nil {
		return nil, err
	}

	now := time.Now()
	for i := range payload.Characters {
		payload.Characters[i].Source = models.SourceGenerated
		payload.Characters[i].CreatedAt = now
	}
	for i := range payload.World.Locations {
		payload.World.Locations[i].Source = models.SourceGenerated
	}

	refined := &models.StoryContext{
		ID:          draft.ID,
		UserID:      draft.UserID,
		Title:       strings.TrimSpace(payload.Title),
		Synopsis:    strings.TrimSpace(payload.Synopsis),
		Theme:       strings.TrimSpace(payload.Theme),
		Genre:       draft.Genre, // 类型是用户前提的一部分，合成不得改写
		Tone:        strings.TrimSpace(payload.Tone),
		Characters:  payload.Characters,
		Arcs:        payload.Arcs,
		World:       payload.World,
		CreatedAt:   draft.CreatedAt,
		LastUpdated: now,
	}
	if refined.Title == "" {
		refined.Title = draft.Title
	}

	if err := refined.Validate(); err != nil {
		return nil, apperrors.NewSynthesisFailedError("合成的故事圣经未通过校验", err)
	}
	return refined, nil
}

// SynthesizePreProduction 为指定剧集合成前期制作文档
func (s *SynthesisService) SynthesizePreProduction(ctx context.Context, story *models.StoryContext, episode *models.Episode, docType models.PreProductionType, notes []models.EnhancementNote) (*models.PreProductionDocument, error) {
	isEnglish := isEnglishText(story.Synopsis)

	focus := preProductionFocus(docType, isEnglish)

	var systemPrompt string
	if isEnglish {
		systemPrompt = fmt.Sprintf(`You are a pre-production supervisor for a web series. %s Base everything strictly on the episode content and the story bible.

Output schema:
{
  "title": "document title",
  "summary": "1-2 sentence overview",
  "sections": [{"heading": "", "content": ""}]
}`, focus)
	} else {
		systemPrompt = fmt.Sprintf(`你是网络短剧的前期制作统筹。%s所有内容必须严格基于剧集正文和故事圣经。

输出JSON格式：
{
  "title": "文档标题",
  "summary": "1-2句概述",
  "sections": [{"heading": "", "content": ""}]
}`, focus)
	}

	var b strings.Builder
	b.WriteString(s.storyBibleContext(story, isEnglish))
	if isEnglish {
		fmt.Fprintf(&b, "\nEpisode %d: %s\n%s\n\nFull episode text:\n", episode.Number, episode.Title, episode.Synopsis)
	} else {
		fmt.Fprintf(&b, "\n第%d集：%s\n%s\n\n剧集全文：\n", episode.Number, episode.Title, episode.Synopsis)
	}
	for _, scene := range episode.Scenes {
		b.WriteString(scene.Content)
		b.WriteString("\n\n")
	}
	appendNotes(&b, notes, isEnglish)

	params := s.gw.Config().Synthesis
	req := gateway.Request{
		SystemPrompt: systemPrompt,
		Prompt:       b.String(),
		Temperature:  params.Temperature,
		MaxTokens:    params.MaxTokens,
	}

	var payload struct {
		Title    string                   `json:"title"`
		Summary  string                   `json:"summary"`
		Sections []models.DocumentSection `json:"sections"`
	}

	if _, err := s.generateStrict(ctx, req, &payload); err != nil {
		return nil, err
	}
	if len(payload.Sections) == 0 {
		return nil, apperrors.NewSynthesisFailedError("前期制作文档不包含任何小节", nil)
	}

	return &models.PreProductionDocument{
		ID:             uuid.NewString(),
		StoryContextID: story.ID,
		EpisodeNumber:  episode.Number,
		Type:           docType,
		Title:          strings.TrimSpace(payload.Title),
		Summary:        strings.TrimSpace(payload.Summary),
		Sections:       payload.Sections,
		CreatedAt:      time.Now(),
	}, nil
}

// generateStrict 发起结构化生成，格式失败时带强化指令重试一次
func (s *SynthesisService) generateStrict(ctx context.Context, req gateway.Request, out interface{}) (*gateway.Result, error) {
	result, err := s.gw.GenerateStructured(ctx, req, out)
	if err == nil {
		return result, nil
	}

	if gateway.IsKind(err, gateway.KindMalformedResponse) && ctx.Err() == nil {
		utils.GetLogger().Warn("合成输出格式异常，带强化指令重试", map[string]interface{}{
			"error": err.Error(),
		})
		retryReq := req
		retryReq.SystemPrompt = req.SystemPrompt + "\n\n" + strictJSONReminder
		result, err = s.gw.GenerateStructured(ctx, retryReq, out)
		if err == nil {
			return result, nil
		}
	}

	if gateway.IsKind(err, gateway.KindAuthFailure) {
		return nil, apperrors.NewAuthFailureError("生成后端认证失败", err)
	}
	return nil, apperrors.NewSynthesisFailedError("合成阶段生成失败", err)
}

// buildEpisodePrompt 组装剧集合成提示词，故事圣经全量注入
func (s *SynthesisService) buildEpisodePrompt(story *models.StoryContext, draft *models.EpisodeDraft, notes []models.EnhancementNote, isEnglish bool) string {
	var b strings.Builder
	b.WriteString(s.storyBibleContext(story, isEnglish))

	if isEnglish {
		fmt.Fprintf(&b, "\nEpisode %d draft", draft.Number)
		if draft.Title != "" {
			fmt.Fprintf(&b, " %q", draft.Title)
		}
		b.WriteString(":\n")
	} else {
		fmt.Fprintf(&b, "\n第%d集草稿", draft.Number)
		if draft.Title != "" {
			fmt.Fprintf(&b, "《%s》", draft.Title)
		}
		b.WriteString("：\n")
	}
	b.WriteString(draft.Text())
	b.WriteString("\n")

	if draft.PreviousChoice != "" {
		if isEnglish {
			fmt.Fprintf(&b, "\nThe audience chose this continuation after the previous episode: %s\n", draft.PreviousChoice)
		} else {
			fmt.Fprintf(&b, "\n观众在上一集结尾选择的延续方向：%s\n", draft.PreviousChoice)
		}
	}

	appendNotes(&b, notes, isEnglish)
	return b.String()
}

// buildBiblePrompt 组装故事圣经合成提示词
func (s *SynthesisService) buildBiblePrompt(draft *models.StoryContext, notes []models.EnhancementNote, isEnglish bool) string {
	var b strings.Builder
	if isEnglish {
		b.WriteString("Draft story bible to refine:\n\n")
	} else {
		b.WriteString("待完善的故事圣经草稿：\n\n")
	}
	b.WriteString(s.storyBibleContext(draft, isEnglish))
	appendNotes(&b, notes, isEnglish)
	return b.String()
}

// storyBibleContext 渲染完整的故事圣经上下文。
// 所有角色的全部字段、全部叙事弧和世界观设定都原样写入，绝不截断。
func (s *SynthesisService) storyBibleContext(story *models.StoryContext, isEnglish bool) string {
	var b strings.Builder

	if isEnglish {
		fmt.Fprintf(&b, "Series: %s\nGenre: %s\nTone: %s\nTheme: %s\nSynopsis: %s\n", story.Title, story.Genre, story.Tone, story.Theme, story.Synopsis)
	} else {
		fmt.Fprintf(&b, "系列：%s\n类型：%s\n基调：%s\n主题：%s\n简介：%s\n", story.Title, story.Genre, story.Tone, story.Theme, story.Synopsis)
	}

	if len(story.Characters) > 0 {
		if isEnglish {
			b.WriteString("\nFull cast:\n")
		} else {
			b.WriteString("\n完整角色表：\n")
		}
		for _, ch := range story.Characters {
			fmt.Fprintf(&b, "- %s (%s)\n", ch.Name, ch.Archetype)
			if ch.Description != "" {
				fmt.Fprintf(&b, "  Description: %s\n", ch.Description)
			}
			if ch.Arc != "" {
				fmt.Fprintf(&b, "  Arc: %s\n", ch.Arc)
			}
			if ch.Motivation != "" {
				fmt.Fprintf(&b, "  Motivation: %s\n", ch.Motivation)
			}
			if ch.Voice != "" {
				fmt.Fprintf(&b, "  Voice: %s\n", ch.Voice)
			}
			for other, relation := range ch.Relationships {
				fmt.Fprintf(&b, "  Relationship with %s: %s\n", other, relation)
			}
		}
	}

	if len(story.Arcs) > 0 {
		if isEnglish {
			b.WriteString("\nNarrative arcs:\n")
		} else {
			b.WriteString("\n叙事弧：\n")
		}
		for _, arc := range story.Arcs {
			fmt.Fprintf(&b, "- %s: %s\n", arc.Title, arc.Summary)
			for _, stub := range arc.Episodes {
				fmt.Fprintf(&b, "  Episode %d: %s — %s\n", stub.Number, stub.Title, stub.Summary)
			}
		}
	}

	if isEnglish {
		b.WriteString("\nWorld:\n")
	} else {
		b.WriteString("\n世界观：\n")
	}
	fmt.Fprintf(&b, "Setting: %s\nTime period: %s\nCultural context: %s\n", story.World.Setting, story.World.TimePeriod, story.World.CulturalContext)
	for _, rule := range story.World.Rules {
		fmt.Fprintf(&b, "Rule: %s\n", rule)
	}
	for _, loc := range story.World.Locations {
		fmt.Fprintf(&b, "Location %s: %s\n", loc.Name, loc.Description)
	}

	return b.String()
}

// appendNotes 把增强意见追加到提示词
func appendNotes(b *strings.Builder, notes []models.EnhancementNote, isEnglish bool) {
	successful := successfulNotes(notes)
	if len(successful) == 0 {
		return
	}
	if isEnglish {
		b.WriteString("\nEnhancement notes to incorporate:\n")
	} else {
		b.WriteString("\n需要融合的增强意见：\n")
	}
	for _, note := range successful {
		fmt.Fprintf(b, "- [%s/%s] %s\n", note.Phase, note.EngineID, note.Guidance)
	}
}

// normalizeOptions 把生成的分支选项规整为固定数量、恰好一个规范延续。
// 数量不足是格式失败，多余的截断，规范标记缺失或重复时取第一个。
func normalizeOptions(options []models.BranchingOption) ([]models.BranchingOption, error) {
	if len(options) < models.BranchingOptionCount {
		return nil, fmt.Errorf("分支选项数量不足: 期望 %d，实际 %d", models.BranchingOptionCount, len(options))
	}
	options = options[:models.BranchingOptionCount]

	canonicalSeen := false
	for i := range options {
		if options[i].Canonical {
			if canonicalSeen {
				options[i].Canonical = false
			}
			canonicalSeen = true
		}
	}
	if !canonicalSeen {
		options[0].Canonical = true
	}
	return options, nil
}
