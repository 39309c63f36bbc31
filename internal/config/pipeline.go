// internal/config/pipeline.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SamplingSettings 一组生成采样参数
type SamplingSettings struct {
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// GatewaySettings 网关的流水线侧配置
type GatewaySettings struct {
	PrimaryModel       string           `yaml:"primary_model"`
	BackupModel        string           `yaml:"backup_model"`
	Draft              SamplingSettings `yaml:"draft"`
	Enhance            SamplingSettings `yaml:"enhance"`
	Synthesis          SamplingSettings `yaml:"synthesis"`
	CallTimeoutSeconds int              `yaml:"call_timeout_seconds"`
}

// OrchestratorSettings 增强编排配置
type OrchestratorSettings struct {
	HealthThreshold      float64 `yaml:"health_threshold"`
	EngineTimeoutSeconds int     `yaml:"engine_timeout_seconds"`
	MaxConcurrent        int     `yaml:"max_concurrent"`
}

// EngineSettings 引擎启用配置，Enabled为空表示启用目录中的全部引擎
type EngineSettings struct {
	Enabled []string `yaml:"enabled"`
}

// PipelineSettings 生成流水线的完整设置，从YAML文件加载
type PipelineSettings struct {
	Gateway      GatewaySettings      `yaml:"gateway"`
	Orchestrator OrchestratorSettings `yaml:"orchestrator"`
	Engines      EngineSettings       `yaml:"engines"`
}

// DefaultPipelineSettings 返回默认流水线设置
func DefaultPipelineSettings() *PipelineSettings {
	return &PipelineSettings{
		Gateway: GatewaySettings{
			Draft:     SamplingSettings{Temperature: 0.7, MaxTokens: 4096},
			Enhance:   SamplingSettings{Temperature: 0.6, MaxTokens: 1024},
			Synthesis: SamplingSettings{Temperature: 0.95, MaxTokens: 8192},

			CallTimeoutSeconds: 120,
		},
		Orchestrator: OrchestratorSettings{
			HealthThreshold:      0.8,
			EngineTimeoutSeconds: 60,
			MaxConcurrent:        5,
		},
	}
}

// LoadPipelineSettings 从YAML文件加载流水线设置。
// 路径为空或文件不存在时使用默认设置。
func LoadPipelineSettings(path string) (*PipelineSettings, error) {
	settings := DefaultPipelineSettings()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, fmt.Errorf("读取流水线设置失败: %w", err)
	}

	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("解析流水线设置失败: %w", err)
	}

	// 非法值回退到默认
	defaults := DefaultPipelineSettings()
	if settings.Orchestrator.HealthThreshold <= 0 || settings.Orchestrator.HealthThreshold > 1 {
		settings.Orchestrator.HealthThreshold = defaults.Orchestrator.HealthThreshold
	}
	if settings.Orchestrator.MaxConcurrent <= 0 {
		settings.Orchestrator.MaxConcurrent = defaults.Orchestrator.MaxConcurrent
	}
	if settings.Gateway.CallTimeoutSeconds <= 0 {
		settings.Gateway.CallTimeoutSeconds = defaults.Gateway.CallTimeoutSeconds
	}

	return settings, nil
}
