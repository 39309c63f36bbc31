// internal/services/synthesis_service_test.go
package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	apperrors "github.com/Corphon/SeriesForgeMCP/internal/errors"
	"github.com/Corphon/SeriesForgeMCP/internal/models"
)

func TestSynthesizeEpisode_PromptCarriesFullBible(t *testing.T) {
	env := newTestEnv(t, []scriptedResponse{ok(episodeSynthJSON)}, nil)
	synthesis := NewSynthesisService(env.gw)

	story := sampleStory()
	draft := &models.EpisodeDraft{
		StoryContextID: story.ID,
		Number:         2,
		Title:          "线索",
		Scenes: []models.Scene{
			{Content: "物证科的灯亮了一整夜。"},
		},
		PreviousChoice: "跟踪可疑的货车",
	}
	notes := []models.EnhancementNote{
		{EngineID: "pacing", Phase: "narrative", Guidance: "第二场转折来得太晚", Success: true},
		{EngineID: "dialogue-polish", Phase: "dialogue", Guidance: "不应出现在提示词中", Success: false},
	}

	episode, err := synthesis.SynthesizeEpisode(context.Background(), story, draft, notes)
	if err != nil {
		t.Fatalf("合成剧集失败: %v", err)
	}
	if episode.Number != 2 {
		t.Errorf("剧集编号应取自草稿，实际: %d", episode.Number)
	}
	if episode.Backend != "openai" {
		t.Errorf("应记录实际提供服务的后端，实际: %s", episode.Backend)
	}
	if episode.Source != models.SourceGenerated {
		t.Errorf("合成产物来源应为 generated，实际: %s", episode.Source)
	}

	if len(env.primary.requests) != 1 {
		t.Fatalf("应只发起一次生成调用，实际: %d", len(env.primary.requests))
	}
	prompt := env.primary.requests[0].Prompt

	// 故事圣经上下文必须全量注入：角色全字段、叙事弧、世界观
	for _, want := range []string{
		"林晚", "陈默", "搭档", "寻找失踪的妹妹", "冷静克制",
		"第一季", "失踪案浮出水面",
		"没有人在夜里出门", "旧码头",
		"物证科的灯亮了一整夜",
		"跟踪可疑的货车",
		"第二场转折来得太晚",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("合成提示词缺少内容: %q", want)
		}
	}
	if strings.Contains(prompt, "不应出现在提示词中") {
		t.Error("失败引擎的意见不应进入合成提示词")
	}
}

func TestSynthesizeEpisode_NormalizesOptionCount(t *testing.T) {
	// 4个选项且全部未标记规范延续
	payload := `{
		"title": "雾起",
		"synopsis": "简介",
		"scenes": [{"content": "场景"}],
		"options": [
			{"text": "选项一", "canonical": false},
			{"text": "选项二", "canonical": false},
			{"text": "选项三", "canonical": false},
			{"text": "选项四", "canonical": false}
		]
	}`
	env := newTestEnv(t, []scriptedResponse{ok(payload)}, nil)
	synthesis := NewSynthesisService(env.gw)

	episode, err := synthesis.SynthesizeEpisode(context.Background(), sampleStory(), &models.EpisodeDraft{Number: 1, Title: "雾起"}, nil)
	if err != nil {
		t.Fatalf("选项过多应被截断而非失败: %v", err)
	}
	if len(episode.Options) != models.BranchingOptionCount {
		t.Fatalf("选项应被截断为 %d 个，实际: %d", models.BranchingOptionCount, len(episode.Options))
	}
	if !episode.Options[0].Canonical {
		t.Error("无规范标记时第一个选项应被标记为规范延续")
	}
	if episode.Options[0].Text != "选项一" {
		t.Errorf("截断应保留前三个选项，实际第一个: %s", episode.Options[0].Text)
	}
}

func TestSynthesizeEpisode_RejectsTooFewOptions(t *testing.T) {
	payload := `{
		"title": "雾起",
		"synopsis": "简介",
		"scenes": [{"content": "场景"}],
		"options": [
			{"text": "选项一", "canonical": true},
			{"text": "选项二", "canonical": false}
		]
	}`
	// 两个后端返回同样的残缺选项，确保重试路径也失败
	env := newTestEnv(t, []scriptedResponse{ok(payload)}, []scriptedResponse{ok(payload)})
	synthesis := NewSynthesisService(env.gw)

	_, err := synthesis.SynthesizeEpisode(context.Background(), sampleStory(), &models.EpisodeDraft{Number: 1}, nil)
	if !apperrors.IsSynthesisFailedError(err) {
		t.Fatalf("选项不足应上报合成失败，实际: %v", err)
	}
}

func TestSynthesizeEpisode_StrictRetryOnMalformed(t *testing.T) {
	// 第一轮：主后端产出无法解析，网关透明替换备份后端，备份同样失败；
	// 第二轮：带强化指令重试，主后端给出合法JSON。
	env := newTestEnv(t,
		[]scriptedResponse{ok("这不是JSON"), ok(episodeSynthJSON)},
		[]scriptedResponse{ok("备份也不是JSON")},
	)
	synthesis := NewSynthesisService(env.gw)

	episode, err := synthesis.SynthesizeEpisode(context.Background(), sampleStory(), &models.EpisodeDraft{Number: 1, Title: "雾起"}, nil)
	if err != nil {
		t.Fatalf("强化指令重试应成功: %v", err)
	}
	if episode.Title != "雾起" {
		t.Errorf("重试结果未生效，标题: %s", episode.Title)
	}

	if env.primary.calls != 2 {
		t.Fatalf("主后端应被调用两次，实际: %d", env.primary.calls)
	}
	retrySystem := env.primary.requests[1].SystemPrompt
	if !strings.Contains(retrySystem, "Respond with ONLY a single valid JSON object") {
		t.Error("重试请求应携带强化JSON指令")
	}
}

func TestSynthesizeEpisode_AuthFailure(t *testing.T) {
	env := newTestEnv(t,
		[]scriptedResponse{apiErr("openai", 401)},
		[]scriptedResponse{apiErr("anthropic", 401)},
	)
	synthesis := NewSynthesisService(env.gw)

	_, err := synthesis.SynthesizeEpisode(context.Background(), sampleStory(), &models.EpisodeDraft{Number: 1}, nil)
	if !apperrors.IsAuthFailureError(err) {
		t.Fatalf("双后端认证失败应单独归类，实际: %v", err)
	}
}

func TestSynthesizeStoryBible_PreservesUserPremise(t *testing.T) {
	env := newTestEnv(t, []scriptedResponse{ok(bibleJSON)}, nil)
	synthesis := NewSynthesisService(env.gw)

	draft := sampleStory()
	draft.Genre = "都市爱情" // 用户前提中的类型，合成输出不包含该字段

	refined, err := synthesis.SynthesizeStoryBible(context.Background(), draft, nil)
	if err != nil {
		t.Fatalf("合成故事圣经失败: %v", err)
	}

	if refined.Genre != "都市爱情" {
		t.Errorf("类型属于用户前提，合成不得改写，实际: %s", refined.Genre)
	}
	if refined.ID != draft.ID || refined.UserID != draft.UserID {
		t.Error("合成应沿用草稿的身份字段")
	}
	if !refined.CreatedAt.Equal(draft.CreatedAt) {
		t.Error("合成应保留草稿的创建时间")
	}
	for _, ch := range refined.Characters {
		if ch.Source != models.SourceGenerated {
			t.Errorf("合成角色来源应为 generated，角色 %s 实际: %s", ch.Name, ch.Source)
		}
	}
	for _, loc := range refined.World.Locations {
		if loc.Source != models.SourceGenerated {
			t.Errorf("合成地点来源应为 generated，地点 %s 实际: %s", loc.Name, loc.Source)
		}
	}
}

func TestSynthesizePreProduction_BuildsDocument(t *testing.T) {
	env := newTestEnv(t, []scriptedResponse{ok(preproductionJSON)}, nil)
	synthesis := NewSynthesisService(env.gw)

	story := sampleStory()
	episode := sampleEpisode(story.ID, 1)

	doc, err := synthesis.SynthesizePreProduction(context.Background(), story, episode, models.PreProductionScript, nil)
	if err != nil {
		t.Fatalf("合成前期制作文档失败: %v", err)
	}
	if doc.Type != models.PreProductionScript {
		t.Errorf("文档类型应为拍摄脚本，实际: %s", doc.Type)
	}
	if doc.EpisodeNumber != 1 || doc.StoryContextID != story.ID {
		t.Error("文档应记录所属剧集与故事圣经")
	}
	if len(doc.Sections) != 2 {
		t.Errorf("文档小节数量不符，实际: %d", len(doc.Sections))
	}

	prompt := env.primary.requests[0].Prompt
	if !strings.Contains(prompt, "林晚接到报案电话") {
		t.Error("提示词应包含剧集全文")
	}
}

func TestSynthesizePreProduction_RejectsEmptySections(t *testing.T) {
	payload := `{"title": "空文档", "summary": "没有内容", "sections": []}`
	env := newTestEnv(t, []scriptedResponse{ok(payload)}, []scriptedResponse{ok(payload)})
	synthesis := NewSynthesisService(env.gw)

	_, err := synthesis.SynthesizePreProduction(context.Background(), sampleStory(), sampleEpisode("story-test", 1), models.PreProductionCasting, nil)
	if !apperrors.IsSynthesisFailedError(err) {
		t.Fatalf("空文档应上报合成失败，实际: %v", err)
	}
}

func TestNormalizeOptions(t *testing.T) {
	mk := func(n int, canonical ...int) []models.BranchingOption {
		isCanonical := make(map[int]bool)
		for _, idx := range canonical {
			isCanonical[idx] = true
		}
		options := make([]models.BranchingOption, n)
		for i := range options {
			options[i] = models.BranchingOption{
				ID:        fmt.Sprintf("opt-%d", i),
				Text:      fmt.Sprintf("选项%d", i),
				Canonical: isCanonical[i],
			}
		}
		return options
	}

	t.Run("数量不足", func(t *testing.T) {
		if _, err := normalizeOptions(mk(2, 0)); err == nil {
			t.Fatal("两个选项应判定为格式失败")
		}
	})

	t.Run("多余截断", func(t *testing.T) {
		options, err := normalizeOptions(mk(5, 1))
		if err != nil {
			t.Fatalf("截断不应失败: %v", err)
		}
		if len(options) != models.BranchingOptionCount {
			t.Fatalf("应截断为 %d 个，实际: %d", models.BranchingOptionCount, len(options))
		}
	})

	t.Run("规范标记重复取第一个", func(t *testing.T) {
		options, err := normalizeOptions(mk(3, 0, 2))
		if err != nil {
			t.Fatalf("规整失败: %v", err)
		}
		if !options[0].Canonical || options[2].Canonical {
			t.Error("重复的规范标记应只保留第一个")
		}
	})

	t.Run("规范标记缺失取第一个", func(t *testing.T) {
		options, err := normalizeOptions(mk(3))
		if err != nil {
			t.Fatalf("规整失败: %v", err)
		}
		if !options[0].Canonical {
			t.Error("缺失规范标记时第一个选项应被标记")
		}
	})
}
