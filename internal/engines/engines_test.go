package engines

import (
	"testing"

	"github.com/Corphon/SeriesForgeMCP/internal/models"
)

func TestCatalogRegistration(t *testing.T) {
	ids := IDs()
	if len(ids) != 17 {
		t.Errorf("引擎目录应包含17个引擎，实际 %d 个: %v", len(ids), ids)
	}

	seen := make(map[string]bool)
	for _, id := range ids {
		if seen[id] {
			t.Errorf("引擎标识重复: %s", id)
		}
		seen[id] = true
	}

	for _, required := range []string{"structure", "cliffhanger", "choice-quality", "mystery-clues"} {
		if !seen[required] {
			t.Errorf("目录中缺少引擎: %s", required)
		}
	}
}

func TestBuildAll(t *testing.T) {
	set := Build(nil, nil)
	if len(set) != 17 {
		t.Errorf("全量构建应得到17个引擎，实际 %d 个", len(set))
	}
}

func TestBuildEnabledSubset(t *testing.T) {
	enabled := map[string]bool{"structure": true, "pacing": true}
	set := Build(nil, enabled)

	if len(set) != 2 {
		t.Fatalf("只启用两个引擎时应构建2个，实际 %d 个", len(set))
	}
	for _, e := range set {
		if !enabled[e.ID()] {
			t.Errorf("构建了未启用的引擎: %s", e.ID())
		}
	}
}

func TestByPhase(t *testing.T) {
	set := Build(nil, nil)
	grouped := ByPhase(set)

	if len(grouped[PhaseNarrative]) != 4 {
		t.Errorf("叙事阶段应有4个引擎，实际 %d 个", len(grouped[PhaseNarrative]))
	}
	if len(grouped[PhaseGenre]) != 5 {
		t.Errorf("类型阶段应有5个引擎，实际 %d 个", len(grouped[PhaseGenre]))
	}
}

func TestStagesOrdering(t *testing.T) {
	// 格式与类型引擎消费前序阶段的意见，必须排在后一层
	if len(Stages) != 2 {
		t.Fatalf("应声明两个执行层，实际 %d 个", len(Stages))
	}

	firstLayer := map[Phase]bool{}
	for _, phase := range Stages[0] {
		firstLayer[phase] = true
	}
	if !firstLayer[PhaseNarrative] || !firstLayer[PhaseDialogue] || !firstLayer[PhaseWorld] {
		t.Error("第一层应包含叙事、对白、世界观阶段")
	}

	secondLayer := map[Phase]bool{}
	for _, phase := range Stages[1] {
		secondLayer[phase] = true
	}
	if !secondLayer[PhaseFormat] || !secondLayer[PhaseGenre] {
		t.Error("第二层应包含格式与类型阶段")
	}
}

func TestGenreGating(t *testing.T) {
	set := Build(nil, map[string]bool{"mystery-clues": true, "structure": true})

	mysteryStory := &models.StoryContext{Title: "迷雾", Genre: "悬疑推理"}
	comedyStory := &models.StoryContext{Title: "笑料", Genre: "喜剧"}

	for _, e := range set {
		switch e.ID() {
		case "mystery-clues":
			if !e.AppliesTo(mysteryStory) {
				t.Error("悬疑引擎应适用于悬疑故事")
			}
			if e.AppliesTo(comedyStory) {
				t.Error("悬疑引擎不应适用于喜剧故事")
			}
		case "structure":
			if !e.AppliesTo(mysteryStory) || !e.AppliesTo(comedyStory) {
				t.Error("通用引擎应适用于所有故事")
			}
		}
	}
}

func TestGenreGating_EnglishCaseInsensitive(t *testing.T) {
	set := Build(nil, map[string]bool{"scifi-consistency": true})
	if len(set) != 1 {
		t.Fatal("应构建出科幻引擎")
	}

	story := &models.StoryContext{Title: "Star Drift", Genre: "Science Fiction"}
	if !set[0].AppliesTo(story) {
		t.Error("类型匹配应忽略大小写")
	}
}
