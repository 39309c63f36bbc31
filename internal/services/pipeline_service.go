// internal/services/pipeline_service.go
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

// PipelineState 生成流水线的状态。
// 状态只能沿 drafting → enhancing → synthesizing → done 单向推进，
// 任一阶段的致命失败转入 failed，不存在回退。
type PipelineState string

const (
	StateDrafting     PipelineState = "drafting"
	StateEnhancing    PipelineState = "enhancing"
	StateSynthesizing PipelineState = "synthesizing"
	StateDone         PipelineState = "done"
	StateFailed       PipelineState = "failed"
)

// BiblePremise 用户提供的故事前提，流水线据此生成完整故事圣经
type BiblePremise struct {
	UserID  string `json:"user_id,omitempty"`
	Title   string `json:"title,omitempty"`
	Premise string `json:"premise"`
	Genre   string `json:"genre"`
	Tone    string `json:"tone,omitempty"`
}

// PipelineService 多阶段生成流水线：草稿、增强、合成。
// 草稿阶段失败对本次运行是致命的；增强阶段容忍部分引擎失败；
// 合成阶段失败同样致命。每个阶段的进入都通过进度跟踪器对外广播。
type PipelineService struct {
	gw           *gateway.Gateway
	orchestrator *OrchestratorService
	synthesis    *SynthesisService
	progress     *ProgressService
}

// NewPipelineService 创建流水线服务
func NewPipelineService(gw *gateway.Gateway, orchestrator *OrchestratorService, synthesis *SynthesisService, progress *ProgressService) *PipelineService {
	return &PipelineService{
		gw:           gw,
		orchestrator: orchestrator,
		synthesis:    synthesis,
		progress:     progress,
	}
}

// RunBiblePipeline 从用户前提生成完整故事圣经
func (s *PipelineService) RunBiblePipeline(ctx context.Context, taskID string, premise BiblePremise) (*models.StoryContext, models.EngineReport, error) {
	tracker := s.progress.CreateTracker(taskID)

	start := time.Now()
	finalState := StateFailed
	defer func() {
		utils.NewPipelineMetrics().RecordPipelineRun("bible", string(finalState), time.Since(start))
	}()

	// 草稿阶段
	tracker.EnterStage(string(StateDrafting), 10, "正在起草故事圣经...")
	draft, err := s.draftStoryBible(ctx, premise)
	if err != nil {
		tracker.Fail(err.Error())
		return nil, models.EngineReport{}, err
	}

	// 增强阶段：把圣经草稿包装成引擎可读的工作草稿
	tracker.EnterStage(string(StateEnhancing), 40, "增强引擎审阅中...")
	workingDraft := bibleWorkingDraft(draft)
	notes, report, err := s.orchestrator.Run(ctx, workingDraft, draft)
	if err != nil {
		tracker.Fail(err.Error())
		return nil, report, apperrors.NewProcessingError("增强编排被中断", err)
	}

	// 合成阶段
	tracker.EnterStage(string(StateSynthesizing), 75, "正在合成最终故事圣经...")
	refined, err := s.synthesis.SynthesizeStoryBible(ctx, draft, notes)
	if err != nil {
		tracker.Fail(err.Error())
		return nil, report, err
	}

	finalState = StateDone
	tracker.Complete("故事圣经生成完成")
	return refined, report, nil
}

// RunEpisodePipeline 为故事圣经生成一集。
// previousChoice 为上一集观众选定（或规范）分支的文本，第一集为空。
func (s *PipelineService) RunEpisodePipeline(ctx context.Context, taskID string, story *models.StoryContext, number int, previousChoice string) (*models.Episode, error) {
	tracker := s.progress.CreateTracker(taskID)

	start := time.Now()
	finalState := StateFailed
	defer func() {
		utils.NewPipelineMetrics().RecordPipelineRun("episode", string(finalState), time.Since(start))
	}()

	tracker.EnterStage(string(StateDrafting), 10, fmt.Sprintf("正在起草第%d集...", number))
	draft, err := s.draftEpisode(ctx, story, number, previousChoice)
	if err != nil {
		tracker.Fail(err.Error())
		return nil, err
	}

	tracker.EnterStage(string(StateEnhancing), 40, "增强引擎审阅中...")
	notes, report, err := s.orchestrator.Run(ctx, draft, story)
	if err != nil {
		tracker.Fail(err.Error())
		return nil, apperrors.NewProcessingError("增强编排被中断", err)
	}

	tracker.EnterStage(string(StateSynthesizing), 75, "正在合成最终剧集...")
	episode, err := s.synthesis.SynthesizeEpisode(ctx, story, draft, notes)
	if err != nil {
		tracker.Fail(err.Error())
		return nil, err
	}
	episode.EngineReport = report

	finalState = StateDone
	tracker.Complete(fmt.Sprintf("第%d集生成完成", number))
	return episode, nil
}

// RunPreProductionPipeline 为已生成的剧集生成前期制作文档
func (s *PipelineService) RunPreProductionPipeline(ctx context.Context, taskID string, story *models.StoryContext, episode *models.Episode, docType models.PreProductionType) (*models.PreProductionDocument, error) {
	tracker := s.progress.CreateTracker(taskID)

	start := time.Now()
	finalState := StateFailed
	defer func() {
		utils.NewPipelineMetrics().RecordPipelineRun("preproduction", string(finalState), time.Since(start))
	}()

	// 前期制作复用剧集正文作为工作草稿，不再单独起草
	draft := &models.EpisodeDraft{
		StoryContextID: story.ID,
		Number:         episode.Number,
		Title:          episode.Title,
		Synopsis:       episode.Synopsis,
		Scenes:         episode.Scenes,
	}

	tracker.EnterStage(string(StateEnhancing), 30, "增强引擎审阅中...")
	notes, report, err := s.orchestrator.Run(ctx, draft, story)
	if err != nil {
		tracker.Fail(err.Error())
		return nil, apperrors.NewProcessingError("增强编排被中断", err)
	}

	tracker.EnterStage(string(StateSynthesizing), 70, "正在合成前期制作文档...")
	doc, err := s.synthesis.SynthesizePreProduction(ctx, story, episode, docType, notes)
	if err != nil {
		tracker.Fail(err.Error())
		return nil, err
	}
	doc.EngineReport = report

	finalState = StateDone
	tracker.Complete("前期制作文档生成完成")
	return doc, nil
}

// draftStoryBible 草稿阶段：从前提生成故事圣经初稿
func (s *PipelineService) draftStoryBible(ctx context.Context, premise BiblePremise) (*models.StoryContext, error) {
	isEnglish := isEnglishText(premise.Premise)

	var systemPrompt, prompt string
	if isEnglish {
		systemPrompt = `You are a story architect for serialized web series. From the user's premise, draft a story bible: title, synopsis, theme, tone, main characters (you decide how many the story needs), narrative arcs with planned episodes, and world building. Episode numbers must be globally unique across arcs.

Output schema:
{
  "title": "", "synopsis": "", "theme": "", "tone": "",
  "characters": [{"name": "", "archetype": "", "description": "", "arc": "", "motivation": "", "voice": "", "relationships": {}, "portrait_prompt": ""}],
  "arcs": [{"title": "", "summary": "", "episodes": [{"number": 1, "title": "", "summary": ""}]}],
  "world": {"setting": "", "rules": [], "time_period": "", "cultural_context": "", "locations": [{"name": "", "description": ""}]}
}`
		prompt = fmt.Sprintf("Premise: %s\nGenre: %s", premise.Premise, premise.Genre)
		if premise.Title != "" {
			prompt += fmt.Sprintf("\nWorking title: %s", premise.Title)
		}
		if premise.Tone != "" {
			prompt += fmt.Sprintf("\nDesired tone: %s", premise.Tone)
		}
	} else {
		systemPrompt = `你是连载网络短剧的故事架构师。根据用户提供的前提起草故事圣经：标题、简介、主题、基调、主要角色（数量由你根据故事需要决定）、带剧集规划的叙事弧、世界观设定。剧集编号在所有叙事弧之间必须全局唯一。

输出JSON格式：
{
  "title": "", "synopsis": "", "theme": "", "tone": "",
  "characters": [{"name": "", "archetype": "", "description": "", "arc": "", "motivation": "", "voice": "", "relationships": {}, "portrait_prompt": ""}],
  "arcs": [{"title": "", "summary": "", "episodes": [{"number": 1, "title": "", "summary": ""}]}],
  "world": {"setting": "", "rules": [], "time_period": "", "cultural_context": "", "locations": [{"name": "", "description": ""}]}
}`
		prompt = fmt.Sprintf("故事前提：%s\n类型：%s", premise.Premise, premise.Genre)
		if premise.Title != "" {
			prompt += fmt.Sprintf("\n暂定标题：%s", premise.Title)
		}
		if premise.Tone != "" {
			prompt += fmt.Sprintf("\n期望基调：%s", premise.Tone)
		}
	}

	params := s.gw.Config().Draft
	var payload struct {
		Title      string                `json:"title"`
		Synopsis   string                `json:"synopsis"`
		Theme      string                `json:"theme"`
		Tone       string                `json:"tone"`
		Characters []models.Character    `json:"characters"`
		Arcs       []models.NarrativeArc `json:"arcs"`
		World      models.WorldBuilding  `json:"world"`
	}

	_, err := s.gw.GenerateStructured(ctx, gateway.Request{
		SystemPrompt: systemPrompt,
		Prompt:       prompt,
		Temperature:  params.Temperature,
		MaxTokens:    params.MaxTokens,
	}, &payload)
	if err != nil {
		return nil, classifyFatal(err, "故事圣经草稿生成失败")
	}

	now := time.Now()
	draft := &models.StoryContext{
		ID:          uuid.NewString(),
		UserID:      premise.UserID,
		Title:       strings.TrimSpace(payload.Title),
		Synopsis:    strings.TrimSpace(payload.Synopsis),
		Theme:       strings.TrimSpace(payload.Theme),
		Genre:       premise.Genre,
		Tone:        strings.TrimSpace(payload.Tone),
		Characters:  payload.Characters,
		Arcs:        payload.Arcs,
		World:       payload.World,
		CreatedAt:   now,
		LastUpdated: now,
	}
	if draft.Title == "" {
		draft.Title = premise.Title
	}
	if err := draft.Validate(); err != nil {
		return nil, apperrors.NewDraftingFailedError("故事圣经草稿未通过校验", err)
	}
	return draft, nil
}

// draftEpisode 草稿阶段：生成剧集初稿
func (s *PipelineService) draftEpisode(ctx context.Context, story *models.StoryContext, number int, previousChoice string) (*models.EpisodeDraft, error) {
	isEnglish := isEnglishText(story.Synopsis)

	var systemPrompt string
	if isEnglish {
		systemPrompt = `You are an episode writer for a serialized web series. Draft the requested episode as a sequence of scenes. Follow the story bible exactly and continue from the audience's previous choice when given.

Output schema:
{"title": "", "synopsis": "", "scenes": [{"content": "full scene text"}]}`
	} else {
		systemPrompt = `你是连载网络短剧的编剧。把指定的一集起草为若干场景。严格遵循故事圣经，并在给出上一集观众选择时从该方向延续。

输出JSON格式：
{"title": "", "synopsis": "", "scenes": [{"content": "完整场景文本"}]}`
	}

	var b strings.Builder
	b.WriteString(s.synthesis.storyBibleContext(story, isEnglish))
	if stub, ok := story.FindEpisodeStub(number); ok {
		if isEnglish {
			fmt.Fprintf(&b, "\nDraft episode %d, planned as %q: %s\n", number, stub.Title, stub.Summary)
		} else {
			fmt.Fprintf(&b, "\n请起草第%d集，规划标题《%s》：%s\n", number, stub.Title, stub.Summary)
		}
	} else {
		if isEnglish {
			fmt.Fprintf(&b, "\nDraft episode %d, continuing the series naturally.\n", number)
		} else {
			fmt.Fprintf(&b, "\n请起草第%d集，自然延续系列剧情。\n", number)
		}
	}
	if previousChoice != "" {
		if isEnglish {
			fmt.Fprintf(&b, "The audience chose this continuation after the previous episode: %s\n", previousChoice)
		} else {
			fmt.Fprintf(&b, "观众在上一集结尾选择的延续方向：%s\n", previousChoice)
		}
	}

	params := s.gw.Config().Draft
	var payload struct {
		Title    string `json:"title"`
		Synopsis string `json:"synopsis"`
		Scenes   []struct {
			Content string `json:"content"`
		} `json:"scenes"`
	}

	_, err := s.gw.GenerateStructured(ctx, gateway.Request{
		SystemPrompt: systemPrompt,
		Prompt:       b.String(),
		Temperature:  params.Temperature,
		MaxTokens:    params.MaxTokens,
	}, &payload)
	if err != nil {
		return nil, classifyFatal(err, fmt.Sprintf("第%d集草稿生成失败", number))
	}

	scenes := make([]models.Scene, 0, len(payload.Scenes))
	for _, sc := range payload.Scenes {
		if strings.TrimSpace(sc.Content) == "" {
			continue
		}
		scenes = append(scenes, models.Scene{Content: sc.Content})
	}
	if len(scenes) == 0 {
		return nil, apperrors.NewDraftingFailedError(fmt.Sprintf("第%d集草稿不包含任何场景", number), nil)
	}

	return &models.EpisodeDraft{
		StoryContextID: story.ID,
		Number:         number,
		Title:          strings.TrimSpace(payload.Title),
		Synopsis:       strings.TrimSpace(payload.Synopsis),
		Scenes:         scenes,
		PreviousChoice: previousChoice,
	}, nil
}

// bibleWorkingDraft 把故事圣经草稿包装成增强引擎可读的工作草稿
func bibleWorkingDraft(draft *models.StoryContext) *models.EpisodeDraft {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n%s", draft.Synopsis, draft.Theme)
	for _, arc := range draft.Arcs {
		fmt.Fprintf(&b, "\n\n%s: %s", arc.Title, arc.Summary)
	}
	return &models.EpisodeDraft{
		StoryContextID: draft.ID,
		Number:         0,
		Title:          draft.Title,
		Scenes:         []models.Scene{{Content: b.String()}},
	}
}

// classifyFatal 把网关错误映射为流水线的致命草稿错误。
// 双后端认证失败单独归类，调用方据此决定是否停止后续任务。
func classifyFatal(err error, message string) error {
	gerr, ok := gateway.AsGenerationError(err)
	if !ok {
		return apperrors.NewDraftingFailedError(message, err)
	}

	switch gerr.Kind {
	case gateway.KindAuthFailure:
		return apperrors.NewAuthFailureError("生成后端认证失败", err)
	case gateway.KindContentRejected:
		utils.GetLogger().Warn("草稿内容被生成策略拒绝", map[string]interface{}{
			"backend": gerr.Backend,
			"error":   gerr.Error(),
		})
	}
	return apperrors.NewDraftingFailedError(message, err)
}
