// internal/services/scenario_test.go
package services

import (
	"context"
	"testing"

	apperrors "github.com/Corphon/SeriesForgeMCP/internal/errors"
	"github.com/Corphon/SeriesForgeMCP/internal/models"
)

// 完整用户路径：生成故事圣经 → 生成第1集 → 圣经锁定且分支结构正确
// → 锁定后编辑既有内容被拒绝 → 追加新角色仍然允许
func TestBibleToEpisodeScenario(t *testing.T) {
	env := newTestEnv(t, []scriptedResponse{
		ok(bibleJSON),        // 圣经草稿
		ok(bibleJSON),        // 圣经合成
		ok(episodeDraftJSON), // 剧集草稿
		ok(episodeSynthJSON), // 剧集合成
		ok(reflectEmptyJSON), // 剧集回写
	}, nil)
	ctx := context.Background()

	story, _, err := env.bible.CreateStoryBible(ctx, "task-bible", BiblePremise{
		UserID:  "user-1",
		Premise: "退休侦探被卷入小镇连环失踪案",
		Genre:   "悬疑推理",
		Tone:    "阴郁",
	})
	if err != nil {
		t.Fatalf("生成故事圣经失败: %v", err)
	}

	lockState, err := env.bible.LockState(story.ID)
	if err != nil {
		t.Fatalf("查询锁定状态失败: %v", err)
	}
	if lockState.IsLocked {
		t.Fatal("尚未生成剧集，故事圣经不应锁定")
	}

	episode, err := env.episodes.GenerateEpisode(ctx, "task-ep1", story.ID, 1)
	if err != nil {
		t.Fatalf("生成第1集失败: %v", err)
	}

	if len(episode.Options) != 3 {
		t.Fatalf("分支选项数量应为3，实际: %d", len(episode.Options))
	}
	canonical := 0
	for _, option := range episode.Options {
		if option.Canonical {
			canonical++
		}
	}
	if canonical != 1 {
		t.Errorf("规范延续应恰好1个，实际: %d", canonical)
	}

	// 第1集落库后故事圣经进入锁定状态
	current, lockState, err := env.bible.GetStory(story.ID)
	if err != nil {
		t.Fatalf("读取故事圣经失败: %v", err)
	}
	if !lockState.IsLocked {
		t.Fatal("第1集持久化后故事圣经应锁定")
	}

	// 锁定后修改既有角色被拒绝
	edited := copyStory(t, current)
	edited.Characters[0].Description = "改写后的描述"
	if _, err := env.bible.UpdateStory(ctx, edited, current.Revision); !apperrors.IsContentLockedError(err) {
		t.Fatalf("锁定后修改既有角色应被拒绝，实际: %v", err)
	}

	// 追加全新角色始终允许
	saved, err := env.bible.AddCharacter(ctx, story.ID, models.Character{
		Name:      "周青",
		Archetype: "线人",
	})
	if err != nil {
		t.Fatalf("锁定后追加新角色应被允许: %v", err)
	}
	if !saved.HasCharacter("周青") {
		t.Error("新角色未持久化")
	}
}
