// internal/models/version.go
package models

import "time"

// Version 表示故事圣经在某个时间点的不可变快照。
// 每次重要保存都会生成一条，故事圣经从不硬删除，只会被新版本取代。
type Version struct {
	ID                string       `json:"id"`
	StoryContextID    string       `json:"story_context_id"`
	ChangeDescription string       `json:"change_description"`
	Snapshot          StoryContext `json:"snapshot"`
	CreatedAt         time.Time    `json:"created_at"`
}
