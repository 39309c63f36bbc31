// internal/services/bible_service_test.go
package services

import (
	"context"
	"encoding/json"
	"testing"

	apperrors "github.com/Corphon/SeriesForgeMCP/internal/errors"
	"github.com/Corphon/SeriesForgeMCP/internal/models"
)

// copyStory 深拷贝故事圣经，避免测试内的编辑互相串扰
func copyStory(t *testing.T, story *models.StoryContext) *models.StoryContext {
	t.Helper()
	data, err := json.Marshal(story)
	if err != nil {
		t.Fatalf("序列化故事圣经失败: %v", err)
	}
	var clone models.StoryContext
	if err := json.Unmarshal(data, &clone); err != nil {
		t.Fatalf("反序列化故事圣经失败: %v", err)
	}
	return &clone
}

func TestCreateStoryBible_RequiresPremiseAndGenre(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	_, _, err := env.bible.CreateStoryBible(context.Background(), "task-1", BiblePremise{Genre: "悬疑推理"})
	if !apperrors.IsValidationError(err) {
		t.Errorf("空前提应返回校验错误，实际: %v", err)
	}

	_, _, err = env.bible.CreateStoryBible(context.Background(), "task-2", BiblePremise{Premise: "小镇连环失踪案"})
	if !apperrors.IsValidationError(err) {
		t.Errorf("空类型应返回校验错误，实际: %v", err)
	}
}

func TestCreateStoryBible_PersistsAndSnapshots(t *testing.T) {
	// 草稿 + 合成各一次调用
	env := newTestEnv(t, []scriptedResponse{ok(bibleJSON), ok(bibleJSON)}, nil)

	story, _, err := env.bible.CreateStoryBible(context.Background(), "task-1", BiblePremise{
		UserID:  "user-1",
		Premise: "小镇侦探追查连环失踪案",
		Genre:   "悬疑推理",
	})
	if err != nil {
		t.Fatalf("生成故事圣经失败: %v", err)
	}

	if story.Title != "迷雾之城" {
		t.Errorf("标题不符: %s", story.Title)
	}
	if story.Genre != "悬疑推理" {
		t.Errorf("类型应沿用用户前提，实际: %s", story.Genre)
	}

	saved, err := env.store.Get(story.ID)
	if err != nil {
		t.Fatalf("故事圣经应已持久化: %v", err)
	}
	if saved.Revision != 1 {
		t.Errorf("首次保存后版本号应为1，实际: %d", saved.Revision)
	}

	versions, err := env.bible.ListVersions(story.ID)
	if err != nil {
		t.Fatalf("读取版本快照失败: %v", err)
	}
	if len(versions) != 1 || versions[0].ChangeDescription != "初始生成" {
		t.Errorf("初始生成应留下一个版本快照: %+v", versions)
	}
}

func TestRegenerateStoryBible_RejectedWhenLocked(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	story := sampleStory()
	if err := env.store.Put(story, -1); err != nil {
		t.Fatalf("保存故事圣经失败: %v", err)
	}
	if err := env.store.AppendEpisode(story.ID, sampleEpisode(story.ID, 1)); err != nil {
		t.Fatalf("保存剧集失败: %v", err)
	}

	_, _, err := env.bible.RegenerateStoryBible(context.Background(), "task-1", story.ID)
	if !apperrors.IsContentLockedError(err) {
		t.Fatalf("锁定后不应允许整体重新生成，实际: %v", err)
	}

	// 锁定检查在预算扣减之前，不应消耗预算
	remaining, err := env.bible.RegenerationRemaining(story.ID)
	if err != nil {
		t.Fatalf("查询剩余次数失败: %v", err)
	}
	if remaining != MaxRegenerationAttempts {
		t.Errorf("锁定拒绝不应消耗预算，剩余: %d", remaining)
	}
}

func TestRegenerateStoryBible_BudgetExhausted(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	story := sampleStory()
	if err := env.store.Put(story, -1); err != nil {
		t.Fatalf("保存故事圣经失败: %v", err)
	}

	for i := 0; i < MaxRegenerationAttempts; i++ {
		if _, err := env.store.IncrementRegeneration(story.ID); err != nil {
			t.Fatalf("预置重新生成计数失败: %v", err)
		}
	}

	_, _, err := env.bible.RegenerateStoryBible(context.Background(), "task-1", story.ID)
	if !apperrors.IsRegenerationLimitError(err) {
		t.Fatalf("预算用尽应被拒绝，实际: %v", err)
	}
}

func TestRegenerateStoryBible_FailedAttemptConsumesBudget(t *testing.T) {
	// 双后端都持续500，草稿阶段必然失败
	env := newTestEnv(t,
		[]scriptedResponse{apiErr("openai", 500)},
		[]scriptedResponse{apiErr("anthropic", 500)},
	)
	story := sampleStory()
	if err := env.store.Put(story, -1); err != nil {
		t.Fatalf("保存故事圣经失败: %v", err)
	}

	_, _, err := env.bible.RegenerateStoryBible(context.Background(), "task-1", story.ID)
	if !apperrors.IsDraftingFailedError(err) {
		t.Fatalf("草稿失败应上报草稿错误，实际: %v", err)
	}

	remaining, err := env.bible.RegenerationRemaining(story.ID)
	if err != nil {
		t.Fatalf("查询剩余次数失败: %v", err)
	}
	if remaining != MaxRegenerationAttempts-1 {
		t.Errorf("失败的尝试同样计入预算，剩余: %d", remaining)
	}
}

func TestRegenerateStoryBible_KeepsIdentity(t *testing.T) {
	env := newTestEnv(t, []scriptedResponse{ok(bibleJSON), ok(bibleJSON)}, nil)
	original := sampleStory()
	if err := env.store.Put(original, -1); err != nil {
		t.Fatalf("保存故事圣经失败: %v", err)
	}

	regenerated, _, err := env.bible.RegenerateStoryBible(context.Background(), "task-1", original.ID)
	if err != nil {
		t.Fatalf("重新生成失败: %v", err)
	}

	if regenerated.ID != original.ID || regenerated.UserID != original.UserID {
		t.Error("重新生成的内容应沿用既有身份")
	}
	if !regenerated.CreatedAt.Equal(original.CreatedAt) {
		t.Error("重新生成应保留原创建时间")
	}

	saved, err := env.store.Get(original.ID)
	if err != nil {
		t.Fatalf("读取故事圣经失败: %v", err)
	}
	if saved.Revision != 2 {
		t.Errorf("重新生成后版本号应递增到2，实际: %d", saved.Revision)
	}

	versions, err := env.bible.ListVersions(original.ID)
	if err != nil {
		t.Fatalf("读取版本快照失败: %v", err)
	}
	if len(versions) != 1 || versions[0].ChangeDescription != "重新生成前的快照" {
		t.Errorf("重新生成前应保存旧内容快照: %+v", versions)
	}
}

func TestUpdateStory_LockedContentIsReadOnly(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	story := sampleStory()
	if err := env.store.Put(story, -1); err != nil {
		t.Fatalf("保存故事圣经失败: %v", err)
	}
	if err := env.store.AppendEpisode(story.ID, sampleEpisode(story.ID, 1)); err != nil {
		t.Fatalf("保存剧集失败: %v", err)
	}

	current, err := env.store.Get(story.ID)
	if err != nil {
		t.Fatalf("读取故事圣经失败: %v", err)
	}

	// 修改基础设定被拒绝
	edited := copyStory(t, current)
	edited.Synopsis = "改写后的简介"
	if _, err := env.bible.UpdateStory(context.Background(), edited, current.Revision); !apperrors.IsContentLockedError(err) {
		t.Errorf("锁定后修改简介应被拒绝，实际: %v", err)
	}

	// 删除角色被拒绝
	edited = copyStory(t, current)
	edited.Characters = edited.Characters[:1]
	if _, err := env.bible.UpdateStory(context.Background(), edited, current.Revision); !apperrors.IsContentLockedError(err) {
		t.Errorf("锁定后删除角色应被拒绝，实际: %v", err)
	}

	// 修改既有角色被拒绝
	edited = copyStory(t, current)
	edited.Characters[0].Motivation = "改写后的动机"
	if _, err := env.bible.UpdateStory(context.Background(), edited, current.Revision); !apperrors.IsContentLockedError(err) {
		t.Errorf("锁定后修改既有角色应被拒绝，实际: %v", err)
	}
}

func TestUpdateStory_LockedAllowsAppendingNewCharacter(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	story := sampleStory()
	if err := env.store.Put(story, -1); err != nil {
		t.Fatalf("保存故事圣经失败: %v", err)
	}
	if err := env.store.AppendEpisode(story.ID, sampleEpisode(story.ID, 1)); err != nil {
		t.Fatalf("保存剧集失败: %v", err)
	}

	current, err := env.store.Get(story.ID)
	if err != nil {
		t.Fatalf("读取故事圣经失败: %v", err)
	}

	edited := copyStory(t, current)
	edited.Characters = append(edited.Characters, models.Character{Name: "周青", Archetype: "记者"})

	saved, err := env.bible.UpdateStory(context.Background(), edited, current.Revision)
	if err != nil {
		t.Fatalf("锁定后追加全新角色应被允许: %v", err)
	}

	var added *models.Character
	for i := range saved.Characters {
		if saved.Characters[i].Name == "周青" {
			added = &saved.Characters[i]
		}
	}
	if added == nil {
		t.Fatal("新角色未被保存")
	}
	if added.Source != models.SourceExplicit {
		t.Errorf("用户新增的角色来源应为 explicit，实际: %s", added.Source)
	}
}

func TestUpdateStory_RevisionConflict(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	story := sampleStory()
	if err := env.store.Put(story, -1); err != nil {
		t.Fatalf("保存故事圣经失败: %v", err)
	}

	current, err := env.store.Get(story.ID)
	if err != nil {
		t.Fatalf("读取故事圣经失败: %v", err)
	}

	stale := copyStory(t, current)
	stale.Tone = "过期的编辑"

	// 另一个编辑先行提交
	fresh := copyStory(t, current)
	fresh.Tone = "先行的编辑"
	if _, err := env.bible.UpdateStory(context.Background(), fresh, current.Revision); err != nil {
		t.Fatalf("先行编辑应成功: %v", err)
	}

	if _, err := env.bible.UpdateStory(context.Background(), stale, current.Revision); !apperrors.IsConflictError(err) {
		t.Errorf("过期版本号的编辑应返回冲突，实际: %v", err)
	}
}

func TestAddCharacter(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	story := sampleStory()
	if err := env.store.Put(story, -1); err != nil {
		t.Fatalf("保存故事圣经失败: %v", err)
	}

	if _, err := env.bible.AddCharacter(context.Background(), story.ID, models.Character{Name: "  "}); !apperrors.IsValidationError(err) {
		t.Errorf("空角色名应返回校验错误，实际: %v", err)
	}

	if _, err := env.bible.AddCharacter(context.Background(), story.ID, models.Character{Name: "林晚"}); !apperrors.IsConflictError(err) {
		t.Errorf("重复角色应返回冲突，实际: %v", err)
	}

	saved, err := env.bible.AddCharacter(context.Background(), story.ID, models.Character{Name: "周青", Archetype: "记者"})
	if err != nil {
		t.Fatalf("追加角色失败: %v", err)
	}
	if !saved.HasCharacter("周青") {
		t.Error("新角色未出现在故事圣经中")
	}

	persisted, err := env.store.Get(story.ID)
	if err != nil {
		t.Fatalf("读取故事圣经失败: %v", err)
	}
	if !persisted.HasCharacter("周青") {
		t.Error("新角色未被持久化")
	}
}

func TestApplyGeneratedAssets_FillsOnlyMissing(t *testing.T) {
	assetsJSON := `{
		"portraits": [
			{"name": "林晚", "prompt": "雨衣下神情冷峻的女刑警"},
			{"name": "陈默", "prompt": "不应覆盖已有内容"}
		],
		"locations": [{"name": "旧码头", "description": "浓雾笼罩的废弃码头"}]
	}`
	env := newTestEnv(t, []scriptedResponse{ok(assetsJSON)}, nil)

	story := sampleStory()
	story.Characters[1].PortraitPrompt = "已有的头像描述"
	story.World.Locations[0].Description = ""
	if err := env.store.Put(story, -1); err != nil {
		t.Fatalf("保存故事圣经失败: %v", err)
	}

	saved, err := env.bible.ApplyGeneratedAssets(context.Background(), story.ID, false)
	if err != nil {
		t.Fatalf("补充视觉素材失败: %v", err)
	}

	if saved.Characters[0].PortraitPrompt != "雨衣下神情冷峻的女刑警" {
		t.Errorf("空缺的头像描述应被填充，实际: %s", saved.Characters[0].PortraitPrompt)
	}
	if saved.Characters[1].PortraitPrompt != "已有的头像描述" {
		t.Errorf("非强制模式不应覆盖已有内容，实际: %s", saved.Characters[1].PortraitPrompt)
	}
	if saved.World.Locations[0].Description != "浓雾笼罩的废弃码头" {
		t.Errorf("空缺的地点描述应被填充，实际: %s", saved.World.Locations[0].Description)
	}
}

func TestApplyGeneratedAssets_ForceNeverTouchesExplicitContent(t *testing.T) {
	assetsJSON := `{
		"portraits": [{"name": "林晚", "prompt": "生成的新描述"}],
		"locations": []
	}`
	env := newTestEnv(t, []scriptedResponse{ok(assetsJSON)}, nil)

	story := sampleStory()
	story.Characters[0].PortraitPrompt = "用户亲手写的描述"
	story.Characters[0].Source = models.SourceExplicit
	if err := env.store.Put(story, -1); err != nil {
		t.Fatalf("保存故事圣经失败: %v", err)
	}

	saved, err := env.bible.ApplyGeneratedAssets(context.Background(), story.ID, true)
	if err != nil {
		t.Fatalf("补充视觉素材失败: %v", err)
	}
	if saved.Characters[0].PortraitPrompt != "用户亲手写的描述" {
		t.Errorf("用户显式编辑的内容永远不被覆盖，实际: %s", saved.Characters[0].PortraitPrompt)
	}
}

func TestApplyGeneratedAssets_NoOpWhenComplete(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	story := sampleStory()
	story.Characters[0].PortraitPrompt = "已有"
	story.Characters[1].PortraitPrompt = "已有"
	story.Characters[0].Source = models.SourceExplicit
	story.Characters[1].Source = models.SourceExplicit
	story.World.Locations[0].Source = models.SourceExplicit
	if err := env.store.Put(story, -1); err != nil {
		t.Fatalf("保存故事圣经失败: %v", err)
	}

	if _, err := env.bible.ApplyGeneratedAssets(context.Background(), story.ID, true); err != nil {
		t.Fatalf("素材齐全时应直接返回: %v", err)
	}
	if env.primary.calls != 0 {
		t.Errorf("素材齐全时不应调用生成后端，实际调用: %d", env.primary.calls)
	}
}

func TestReflectEpisode_AppendsOnlyNewEntities(t *testing.T) {
	reflectJSON := `{
		"characters": [
			{"name": "神秘老人", "archetype": "目击者", "description": "总在码头出现"},
			{"name": "林晚", "archetype": "侦探"}
		],
		"locations": [{"name": "灯塔", "description": "废弃多年的旧灯塔"}]
	}`
	env := newTestEnv(t, []scriptedResponse{ok(reflectJSON)}, nil)

	story := sampleStory()
	if err := env.store.Put(story, -1); err != nil {
		t.Fatalf("保存故事圣经失败: %v", err)
	}

	env.bible.ReflectEpisode(context.Background(), story.ID, sampleEpisode(story.ID, 1))

	saved, err := env.store.Get(story.ID)
	if err != nil {
		t.Fatalf("读取故事圣经失败: %v", err)
	}

	if !saved.HasCharacter("神秘老人") {
		t.Error("新登场角色应被追加到故事圣经")
	}
	if len(saved.Characters) != 3 {
		t.Errorf("既有角色不应被重复追加，角色总数: %d", len(saved.Characters))
	}
	for _, ch := range saved.Characters {
		if ch.Name == "神秘老人" && ch.Source != models.SourceReflection {
			t.Errorf("回写角色来源应为 reflection，实际: %s", ch.Source)
		}
	}
	if !saved.HasLocation("灯塔") {
		t.Error("新地点应被追加到世界观")
	}
}

func TestReflectEpisode_FailureDoesNotPropagate(t *testing.T) {
	env := newTestEnv(t,
		[]scriptedResponse{apiErr("openai", 500)},
		[]scriptedResponse{apiErr("anthropic", 500)},
	)

	story := sampleStory()
	if err := env.store.Put(story, -1); err != nil {
		t.Fatalf("保存故事圣经失败: %v", err)
	}

	// 回写是尽力而为的，失败只记录日志
	env.bible.ReflectEpisode(context.Background(), story.ID, sampleEpisode(story.ID, 1))

	saved, err := env.store.Get(story.ID)
	if err != nil {
		t.Fatalf("读取故事圣经失败: %v", err)
	}
	if len(saved.Characters) != 2 {
		t.Errorf("回写失败不应改动故事圣经，角色数: %d", len(saved.Characters))
	}
}

func TestGetStoryReportsLockState(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	story := sampleStory()
	if err := env.store.Put(story, -1); err != nil {
		t.Fatalf("保存故事圣经失败: %v", err)
	}

	_, lockState, err := env.bible.GetStory(story.ID)
	if err != nil {
		t.Fatalf("读取故事失败: %v", err)
	}
	if lockState.IsLocked {
		t.Error("没有剧集时不应锁定")
	}

	if err := env.store.AppendEpisode(story.ID, sampleEpisode(story.ID, 1)); err != nil {
		t.Fatalf("保存剧集失败: %v", err)
	}

	_, lockState, err = env.bible.GetStory(story.ID)
	if err != nil {
		t.Fatalf("读取故事失败: %v", err)
	}
	if !lockState.IsLocked || lockState.EpisodeCount != 1 {
		t.Errorf("第一集落盘后应立即锁定: %+v", lockState)
	}
}
