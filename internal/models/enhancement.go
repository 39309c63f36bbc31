// internal/models/enhancement.go
package models

// EnhancementNote 表示一个增强引擎针对一次生成请求给出的改进意见。
// 只在一次流水线调用内存活，合成阶段消费后即丢弃，不独立持久化。
type EnhancementNote struct {
	EngineID string `json:"engine_id"`
	Phase    string `json:"phase"`
	Guidance string `json:"guidance"`
	Success  bool   `json:"success"`
}

// EngineReport 表示一次增强编排的轻量运行元数据，随最终产物持久化
type EngineReport struct {
	TotalRun        int             `json:"total_run"`
	Successful      int             `json:"successful"`
	Failed          int             `json:"failed"`
	Healthy         bool            `json:"healthy"` // 成功率是否达到配置阈值
	PerEngineStatus map[string]bool `json:"per_engine_status,omitempty"`
}

// SuccessRate 返回引擎成功率（0-1）
func (r EngineReport) SuccessRate() float64 {
	if r.TotalRun == 0 {
		return 0
	}
	return float64(r.Successful) / float64(r.TotalRun)
}
