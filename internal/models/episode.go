// internal/models/episode.go
package models

import (
	"fmt"
	"time"
)

// BranchingOptionCount 每集固定的分支选项数量
const BranchingOptionCount = 3

// Scene 表示剧集中的一个场景
type Scene struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// BranchingOption 表示剧集结尾的一个分支选项
type BranchingOption struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Canonical bool   `json:"canonical"` // 恰好一个选项为规范延续
}

// EpisodeDraft 表示流水线的工作草稿，增强引擎的输入
type EpisodeDraft struct {
	StoryContextID string  `json:"story_context_id"`
	Number         int     `json:"number"`
	Title          string  `json:"title"`
	Synopsis       string  `json:"synopsis"`
	Scenes         []Scene `json:"scenes"`
	PreviousChoice string  `json:"previous_choice,omitempty"` // 上一集用户选定的分支文本
}

// Text 拼接草稿全部场景内容，供增强引擎阅读
func (d *EpisodeDraft) Text() string {
	text := ""
	for i, scene := range d.Scenes {
		if i > 0 {
			text += "\n\n"
		}
		text += scene.Content
	}
	return text
}

// Episode 表示一个已生成的剧集
type Episode struct {
	ID             string            `json:"id"`
	StoryContextID string            `json:"story_context_id"`
	Number         int               `json:"number"`
	Title          string            `json:"title"`
	Synopsis       string            `json:"synopsis"`
	Scenes         []Scene           `json:"scenes"`
	Options        []BranchingOption `json:"options"`
	ChosenOptionID string            `json:"chosen_option_id,omitempty"` // 用户选定后写入，驱动下一集
	EngineReport   EngineReport      `json:"engine_report"`
	Backend        string            `json:"backend,omitempty"` // 实际提供生成服务的后端
	Source         ContentSourceType `json:"source,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Validate 校验剧集的结构不变量
func (e *Episode) Validate() error {
	if e.Number <= 0 {
		return fmt.Errorf("剧集编号必须为正数: %d", e.Number)
	}
	if len(e.Options) != BranchingOptionCount {
		return fmt.Errorf("剧集必须恰好包含 %d 个分支选项，实际 %d 个", BranchingOptionCount, len(e.Options))
	}

	canonical := 0
	for _, opt := range e.Options {
		if opt.Canonical {
			canonical++
		}
	}
	if canonical != 1 {
		return fmt.Errorf("必须恰好有一个规范分支选项，实际 %d 个", canonical)
	}

	if len(e.Scenes) == 0 {
		return fmt.Errorf("剧集不能没有场景内容")
	}

	return nil
}

// ChosenOption 返回用户已选定的分支选项
func (e *Episode) ChosenOption() (BranchingOption, bool) {
	if e.ChosenOptionID == "" {
		return BranchingOption{}, false
	}
	for _, opt := range e.Options {
		if opt.ID == e.ChosenOptionID {
			return opt, true
		}
	}
	return BranchingOption{}, false
}

// CanonicalOption 返回规范分支选项
func (e *Episode) CanonicalOption() (BranchingOption, bool) {
	for _, opt := range e.Options {
		if opt.Canonical {
			return opt, true
		}
	}
	return BranchingOption{}, false
}
