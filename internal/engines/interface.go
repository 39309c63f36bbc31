// internal/engines/interface.go
package engines

import (
	"context"
	"sort"

	"github.com/Corphon/SeriesForgeMCP/internal/gateway"
	"github.com/Corphon/SeriesForgeMCP/internal/models"
)

// Phase 增强引擎所属的关注阶段
type Phase string

const (
	PhaseNarrative Phase = "narrative"
	PhaseDialogue  Phase = "dialogue"
	PhaseWorld     Phase = "world"
	PhaseFormat    Phase = "format"
	PhaseGenre     Phase = "genre"
)

// Stages 阶段的声明执行分层：同一层内的阶段相互独立可并发执行，
// 后一层的引擎提示词消费前一层的全部意见，因此必须串行在其之后。
var Stages = [][]Phase{
	{PhaseNarrative, PhaseDialogue, PhaseWorld},
	{PhaseFormat, PhaseGenre},
}

// Engine 定义一个增强引擎：针对单一叙事关注点给出改进意见。
// 引擎对其输入是纯函数式的：除读取草稿与故事圣经外不依赖也不修改任何外部状态，
// 单个引擎失败不影响其它引擎。
type Engine interface {
	// 引擎唯一标识
	ID() string

	// 所属阶段
	Phase() Phase

	// 是否适用于给定的故事圣经（类型专属引擎只在类型匹配时运行）
	AppliesTo(story *models.StoryContext) bool

	// 生成改进意见。prior 为已完成阶段的全部意见，供依赖前序阶段的引擎参考。
	Enhance(ctx context.Context, draft *models.EpisodeDraft, story *models.StoryContext, prior []models.EnhancementNote) (models.EnhancementNote, error)
}

// engineSpec 引擎目录条目，启动时静态注册
type engineSpec struct {
	id     string
	phase  Phase
	genres []string // 为空表示通用引擎，始终运行
	system string
	focus  string
}

var catalog []engineSpec

// register 向静态目录追加一个引擎定义（catalog各文件的init中调用）
func register(spec engineSpec) {
	catalog = append(catalog, spec)
}

// IDs 返回目录中全部引擎标识（按注册顺序不稳定时排序，便于枚举）
func IDs() []string {
	ids := make([]string, 0, len(catalog))
	for _, spec := range catalog {
		ids = append(ids, spec.id)
	}
	sort.Strings(ids)
	return ids
}

// Build 基于静态目录实例化引擎集合。
// enabled 为空表示全部启用；否则只实例化启用集中的引擎。
func Build(gw *gateway.Gateway, enabled map[string]bool) []Engine {
	result := make([]Engine, 0, len(catalog))
	for _, spec := range catalog {
		if enabled != nil && !enabled[spec.id] {
			continue
		}
		result = append(result, &promptEngine{spec: spec, gw: gw})
	}
	return result
}

// ByPhase 将引擎集合按阶段分组
func ByPhase(set []Engine) map[Phase][]Engine {
	grouped := make(map[Phase][]Engine)
	for _, e := range set {
		grouped[e.Phase()] = append(grouped[e.Phase()], e)
	}
	return grouped
}
