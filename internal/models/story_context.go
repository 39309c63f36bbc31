// internal/models/story_context.go
package models

import (
	"fmt"
	"strings"
	"time"
)

// ContentSourceType 表示内容来源的类型
type ContentSourceType string

const (
	// SourceExplicit 表示用户显式编辑的内容
	SourceExplicit ContentSourceType = "EXPLICIT"
	// SourceGenerated 表示AI流水线生成的内容
	SourceGenerated ContentSourceType = "GENERATED"
	// SourceReflection 表示剧集回写过程补充的内容
	SourceReflection ContentSourceType = "REFLECTION"
)

// Character 表示故事圣经中的一个角色
type Character struct {
	Name           string            `json:"name"`
	Archetype      string            `json:"archetype"`
	Description    string            `json:"description"`
	Arc            string            `json:"arc"`
	Motivation     string            `json:"motivation"`
	Voice          string            `json:"voice"`
	Relationships  map[string]string `json:"relationships,omitempty"`
	PortraitPrompt string            `json:"portrait_prompt,omitempty"` // 生成头像用的视觉描述，仅在为空时填充
	Source         ContentSourceType `json:"source,omitempty"`
	CreatedAt      time.Time         `json:"created_at,omitempty"`
}

// EpisodeStub 表示叙事弧中规划的一集
type EpisodeStub struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// NarrativeArc 表示一条叙事弧及其规划的剧集
type NarrativeArc struct {
	Title    string        `json:"title"`
	Summary  string        `json:"summary"`
	Episodes []EpisodeStub `json:"episodes"`
}

// WorldBuilding 表示故事世界观设定
type WorldBuilding struct {
	Setting         string          `json:"setting"`
	Rules           []string        `json:"rules,omitempty"`
	TimePeriod      string          `json:"time_period"`
	CulturalContext string          `json:"cultural_context"`
	Locations       []WorldLocation `json:"locations,omitempty"`
}

// WorldLocation 表示世界观中的一个地点
type WorldLocation struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Source      ContentSourceType `json:"source,omitempty"`
}

// StoryContext 表示一部剧集系列的故事圣经，是所有生成流程的共享叙事基准
type StoryContext struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id,omitempty"`
	Title       string         `json:"title"`
	Synopsis    string         `json:"synopsis"`
	Theme       string         `json:"theme"`
	Genre       string         `json:"genre"`
	Tone        string         `json:"tone"`
	Characters  []Character    `json:"characters"`
	Arcs        []NarrativeArc `json:"arcs"`
	World       WorldBuilding  `json:"world"`
	Revision    int            `json:"revision"` // 存储层乐观并发版本号
	CreatedAt   time.Time      `json:"created_at"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Validate 校验故事圣经的结构不变量
func (s *StoryContext) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("故事圣经缺少标题")
	}

	// 角色名称在同一故事圣经内必须唯一
	seen := make(map[string]bool, len(s.Characters))
	for _, ch := range s.Characters {
		name := strings.TrimSpace(ch.Name)
		if name == "" {
			return fmt.Errorf("存在未命名的角色")
		}
		key := strings.ToLower(name)
		if seen[key] {
			return fmt.Errorf("角色名称重复: %s", ch.Name)
		}
		seen[key] = true
	}

	// 每个剧集编号在所有叙事弧中全局唯一
	numbers := make(map[int]string)
	for _, arc := range s.Arcs {
		for _, stub := range arc.Episodes {
			if stub.Number <= 0 {
				return fmt.Errorf("叙事弧 %q 中存在非法剧集编号 %d", arc.Title, stub.Number)
			}
			if prev, exists := numbers[stub.Number]; exists {
				return fmt.Errorf("剧集编号 %d 同时出现在 %q 和 %q", stub.Number, prev, arc.Title)
			}
			numbers[stub.Number] = arc.Title
		}
	}

	return nil
}

// HasCharacter 判断是否已存在同名角色（忽略大小写）
func (s *StoryContext) HasCharacter(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, ch := range s.Characters {
		if strings.ToLower(strings.TrimSpace(ch.Name)) == name {
			return true
		}
	}
	return false
}

// HasLocation 判断世界观中是否已存在同名地点
func (s *StoryContext) HasLocation(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, loc := range s.World.Locations {
		if strings.ToLower(strings.TrimSpace(loc.Name)) == name {
			return true
		}
	}
	return false
}

// FindEpisodeStub 按编号查找规划中的剧集
func (s *StoryContext) FindEpisodeStub(number int) (EpisodeStub, bool) {
	for _, arc := range s.Arcs {
		for _, stub := range arc.Episodes {
			if stub.Number == number {
				return stub, true
			}
		}
	}
	return EpisodeStub{}, false
}

// LockState 表示故事圣经的锁定状态，由剧集数量派生，不独立存储
type LockState struct {
	IsLocked     bool `json:"is_locked"`
	EpisodeCount int  `json:"episode_count"`
}

// NewLockState 由剧集数量派生锁定状态
func NewLockState(episodeCount int) LockState {
	return LockState{
		IsLocked:     episodeCount > 0,
		EpisodeCount: episodeCount,
	}
}

// CanEditExistingContent 是否允许编辑既有角色/叙事弧/世界观内容
func (l LockState) CanEditExistingContent() bool {
	return !l.IsLocked
}

// CanAddCharacter 是否允许追加全新角色（锁定后依然允许）
func (l LockState) CanAddCharacter() bool {
	return true
}

// CanAddLocationManually 是否允许用户手动添加地点（锁定后仅剧集回写可追加）
func (l LockState) CanAddLocationManually() bool {
	return !l.IsLocked
}
