package models

import (
	"testing"
)

func validEpisode() *Episode {
	return &Episode{
		ID:     "ep-1",
		Number: 1,
		Title:  "第一集",
		Scenes: []Scene{{Content: "开场"}},
		Options: []BranchingOption{
			{ID: "a", Text: "选项A", Canonical: true},
			{ID: "b", Text: "选项B"},
			{ID: "c", Text: "选项C"},
		},
	}
}

func TestEpisodeValidate(t *testing.T) {
	episode := validEpisode()
	if err := episode.Validate(); err != nil {
		t.Fatalf("合法剧集不应校验失败: %v", err)
	}
}

func TestEpisodeValidate_OptionCount(t *testing.T) {
	episode := validEpisode()
	episode.Options = episode.Options[:2]

	if err := episode.Validate(); err == nil {
		t.Fatal("只有两个分支选项的剧集应该校验失败")
	}
}

func TestEpisodeValidate_CanonicalCount(t *testing.T) {
	episode := validEpisode()
	episode.Options[1].Canonical = true
	if err := episode.Validate(); err == nil {
		t.Fatal("两个规范分支的剧集应该校验失败")
	}

	episode = validEpisode()
	episode.Options[0].Canonical = false
	if err := episode.Validate(); err == nil {
		t.Fatal("没有规范分支的剧集应该校验失败")
	}
}

func TestEpisodeValidate_RequiresScenes(t *testing.T) {
	episode := validEpisode()
	episode.Scenes = nil
	if err := episode.Validate(); err == nil {
		t.Fatal("没有场景的剧集应该校验失败")
	}
}

func TestEpisodeChosenOption(t *testing.T) {
	episode := validEpisode()

	if _, ok := episode.ChosenOption(); ok {
		t.Fatal("未做选择时不应返回选定分支")
	}

	episode.ChosenOptionID = "b"
	opt, ok := episode.ChosenOption()
	if !ok {
		t.Fatal("应该返回选定的分支")
	}
	if opt.Text != "选项B" {
		t.Errorf("选定分支文本错误: %s", opt.Text)
	}

	episode.ChosenOptionID = "不存在"
	if _, ok := episode.ChosenOption(); ok {
		t.Fatal("不存在的选项ID不应返回分支")
	}
}

func TestEpisodeCanonicalOption(t *testing.T) {
	episode := validEpisode()

	opt, ok := episode.CanonicalOption()
	if !ok {
		t.Fatal("应该找到规范分支")
	}
	if opt.ID != "a" {
		t.Errorf("规范分支应为a，实际: %s", opt.ID)
	}
}

func TestEpisodeDraftText(t *testing.T) {
	draft := &EpisodeDraft{
		Scenes: []Scene{{Content: "第一场"}, {Content: "第二场"}},
	}

	text := draft.Text()
	if text != "第一场\n\n第二场" {
		t.Errorf("草稿文本拼接错误: %q", text)
	}
}
