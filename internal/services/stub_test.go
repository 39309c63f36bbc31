// internal/services/stub_test.go
package services

import (
	"context"
	"testing"
	"time"

	"github.com/Corphon/SeriesForgeMCP/internal/gateway"
	"github.com/Corphon/SeriesForgeMCP/internal/llm"
	"github.com/Corphon/SeriesForgeMCP/internal/models"
	"github.com/Corphon/SeriesForgeMCP/internal/storage"
)

// scriptedProvider 按预设序列逐次返回响应，并记录收到的每个请求。
// 响应序列耗尽后重复返回最后一条。
type scriptedProvider struct {
	name      string
	responses []scriptedResponse
	calls     int
	requests  []llm.CompletionRequest
}

type scriptedResponse struct {
	text string
	err  error
}

func (p *scriptedProvider) Initialize(config map[string]string) error { return nil }
func (p *scriptedProvider) GetName() string                           { return p.name }
func (p *scriptedProvider) GetSupportedModels() []string              { return nil }

func (p *scriptedProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.requests = append(p.requests, req)

	if len(p.responses) == 0 {
		return nil, &llm.ProviderError{Provider: p.name, StatusCode: 500, Message: "无预设响应"}
	}
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++

	resp := p.responses[idx]
	if resp.err != nil {
		return nil, resp.err
	}
	return &llm.CompletionResponse{Text: resp.text, ModelName: "stub-model", TokensUsed: 10}, nil
}

// testEnv 组装完整的服务栈：脚本化后端、空引擎编排器、临时目录存储
type testEnv struct {
	primary       *scriptedProvider
	backup        *scriptedProvider
	gw            *gateway.Gateway
	store         *storage.StoryStore
	progress      *ProgressService
	pipeline      *PipelineService
	bible         *BibleService
	episodes      *EpisodeService
	preproduction *PreProductionService
}

func newTestEnv(t *testing.T, primaryResponses, backupResponses []scriptedResponse) *testEnv {
	t.Helper()

	primary := &scriptedProvider{name: "openai", responses: primaryResponses}
	backup := &scriptedProvider{name: "anthropic", responses: backupResponses}
	gw := gateway.New(primary, backup, gateway.DefaultConfig())

	fs, err := storage.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建测试存储失败: %v", err)
	}
	store := storage.NewStoryStore(fs)

	orchestrator := NewOrchestratorService(nil, DefaultOrchestratorConfig())
	synthesis := NewSynthesisService(gw)
	progress := NewProgressService()
	pipeline := NewPipelineService(gw, orchestrator, synthesis, progress)
	locks := NewLockManager()
	bible := NewBibleService(store, pipeline, gw, locks)
	episodes := NewEpisodeService(store, pipeline, bible, locks)
	preproduction := NewPreProductionService(store, pipeline)

	return &testEnv{
		primary:       primary,
		backup:        backup,
		gw:            gw,
		store:         store,
		progress:      progress,
		pipeline:      pipeline,
		bible:         bible,
		episodes:      episodes,
		preproduction: preproduction,
	}
}

// 有效的故事圣经JSON，草稿与合成阶段通用
const bibleJSON = `{
	"title": "迷雾之城",
	"synopsis": "小镇侦探追查一连串离奇失踪案",
	"theme": "真相的代价",
	"tone": "阴郁悬疑",
	"characters": [
		{"name": "林晚", "archetype": "侦探", "description": "观察力过人的刑警", "arc": "从怀疑到坚定", "motivation": "寻找失踪的妹妹", "voice": "冷静克制", "relationships": {"陈默": "搭档"}},
		{"name": "陈默", "archetype": "法医", "description": "沉默寡言的技术派"}
	],
	"arcs": [
		{"title": "第一季", "summary": "失踪案浮出水面", "episodes": [
			{"number": 1, "title": "雾起", "summary": "第一位失踪者"},
			{"number": 2, "title": "线索", "summary": "发现录像带"}
		]}
	],
	"world": {
		"setting": "多雾的南方小镇",
		"rules": ["没有人在夜里出门"],
		"time_period": "现代",
		"cultural_context": "闭塞的熟人社会",
		"locations": [{"name": "旧码头", "description": "案件的起点"}]
	}
}`

// 有效的剧集草稿JSON
const episodeDraftJSON = `{
	"title": "雾起",
	"synopsis": "第一位失踪者消失的那个夜晚",
	"scenes": [
		{"content": "深夜的旧码头，雾气从江面涌上岸。"},
		{"content": "林晚接到报案电话，抓起外套出门。"}
	]
}`

// 有效的剧集合成JSON，恰好3个分支选项、1个规范延续
const episodeSynthJSON = `{
	"title": "雾起",
	"synopsis": "第一位失踪者消失，林晚接手调查。",
	"scenes": [
		{"content": "深夜的旧码头，雾气从江面涌上岸。"},
		{"content": "林晚蹲下身，捡起半枚被踩进泥里的袖扣。"}
	],
	"options": [
		{"text": "跟踪可疑的货车", "canonical": true},
		{"text": "先回警局调档案", "canonical": false},
		{"text": "连夜走访失踪者家属", "canonical": false}
	]
}`

// 剧集回写：没有新实体
const reflectEmptyJSON = `{"characters": [], "locations": []}`

// 有效的前期制作文档JSON
const preproductionJSON = `{
	"title": "第1集拍摄脚本",
	"summary": "旧码头夜戏为主的两场戏。",
	"sections": [
		{"heading": "场景一 旧码头 夜 外", "content": "雾气弥漫，远处传来汽笛声。"},
		{"heading": "场景二 林晚公寓 夜 内", "content": "电话铃声划破寂静。"}
	]
}`

// sampleStory 构造一份可通过校验的完整故事圣经
func sampleStory() *models.StoryContext {
	now := time.Now()
	return &models.StoryContext{
		ID:       "story-test",
		UserID:   "user-1",
		Title:    "迷雾之城",
		Synopsis: "小镇侦探追查一连串离奇失踪案",
		Theme:    "真相的代价",
		Genre:    "悬疑推理",
		Tone:     "阴郁悬疑",
		Characters: []models.Character{
			{
				Name:          "林晚",
				Archetype:     "侦探",
				Description:   "观察力过人的刑警",
				Arc:           "从怀疑到坚定",
				Motivation:    "寻找失踪的妹妹",
				Voice:         "冷静克制",
				Relationships: map[string]string{"陈默": "搭档"},
				Source:        models.SourceGenerated,
			},
			{
				Name:      "陈默",
				Archetype: "法医",
				Source:    models.SourceGenerated,
			},
		},
		Arcs: []models.NarrativeArc{
			{
				Title:   "第一季",
				Summary: "失踪案浮出水面",
				Episodes: []models.EpisodeStub{
					{Number: 1, Title: "雾起", Summary: "第一位失踪者"},
					{Number: 2, Title: "线索", Summary: "发现录像带"},
				},
			},
		},
		World: models.WorldBuilding{
			Setting:         "多雾的南方小镇",
			Rules:           []string{"没有人在夜里出门"},
			TimePeriod:      "现代",
			CulturalContext: "闭塞的熟人社会",
			Locations: []models.WorldLocation{
				{Name: "旧码头", Description: "案件的起点", Source: models.SourceGenerated},
			},
		},
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// sampleEpisode 构造一集可通过校验的剧集，选项ID固定为 a/b/c，a 为规范延续
func sampleEpisode(storyID string, number int) *models.Episode {
	return &models.Episode{
		ID:             "ep-test",
		StoryContextID: storyID,
		Number:         number,
		Title:          "雾起",
		Synopsis:       "第一位失踪者消失的那个夜晚",
		Scenes: []models.Scene{
			{Content: "深夜的旧码头，雾气弥漫。"},
			{Content: "林晚接到报案电话。"},
		},
		Options: []models.BranchingOption{
			{ID: "a", Text: "跟踪可疑的货车", Canonical: true},
			{ID: "b", Text: "先回警局调档案"},
			{ID: "c", Text: "连夜走访失踪者家属"},
		},
		Source:    models.SourceGenerated,
		CreatedAt: time.Now(),
	}
}

// ok 返回一条正常文本响应
func ok(text string) scriptedResponse {
	return scriptedResponse{text: text}
}

// apiErr 返回一条带状态码的提供商错误响应
func apiErr(name string, status int) scriptedResponse {
	return scriptedResponse{err: &llm.ProviderError{Provider: name, StatusCode: status, Message: "stub error"}}
}
