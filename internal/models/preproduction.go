// internal/models/preproduction.go
package models

import (
	"fmt"
	"time"
)

// PreProductionType 表示前期制作文档的类型
type PreProductionType string

const (
	// PreProductionScript 拍摄脚本
	PreProductionScript PreProductionType = "script"
	// PreProductionStoryboard 分镜表
	PreProductionStoryboard PreProductionType = "storyboard"
	// PreProductionCasting 选角建议
	PreProductionCasting PreProductionType = "casting"
	// PreProductionMarketing 营销素材
	PreProductionMarketing PreProductionType = "marketing"
)

// ParsePreProductionType 解析并校验文档类型
func ParsePreProductionType(raw string) (PreProductionType, error) {
	switch PreProductionType(raw) {
	case PreProductionScript, PreProductionStoryboard, PreProductionCasting, PreProductionMarketing:
		return PreProductionType(raw), nil
	}
	return "", fmt.Errorf("未知的前期制作文档类型: %s", raw)
}

// DocumentSection 表示前期制作文档中的一个小节
type DocumentSection struct {
	Heading string `json:"heading"`
	Content string `json:"content"`
}

// PreProductionDocument 表示为某一集生成的前期制作文档
type PreProductionDocument struct {
	ID             string            `json:"id"`
	StoryContextID string            `json:"story_context_id"`
	EpisodeNumber  int               `json:"episode_number"`
	Type           PreProductionType `json:"type"`
	Title          string            `json:"title"`
	Summary        string            `json:"summary,omitempty"`
	Sections       []DocumentSection `json:"sections"`
	EngineReport   EngineReport      `json:"engine_report"`
	CreatedAt      time.Time         `json:"created_at"`
}
