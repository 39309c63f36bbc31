// internal/gateway/gateway.go
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Corphon/SeriesForgeMCP/internal/llm"
	"github.com/Corphon/SeriesForgeMCP/internal/utils"
)

// ResponseFormat 期望的响应格式
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
)

// Params 单次调用的采样参数预设
type Params struct {
	Temperature float32 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
}

// Config 网关的不可变配置。进程启动时构造一次，此后只读，
// 模型名称与温度预设都在这里，不依赖任何全局可变状态。
type Config struct {
	PrimaryName  string        `json:"primary_name" yaml:"primary_name"`
	PrimaryModel string        `json:"primary_model" yaml:"primary_model"`
	BackupName   string        `json:"backup_name" yaml:"backup_name"`
	BackupModel  string        `json:"backup_model" yaml:"backup_model"`
	Draft        Params        `json:"draft" yaml:"draft"`
	Enhance      Params        `json:"enhance" yaml:"enhance"`
	Synthesis    Params        `json:"synthesis" yaml:"synthesis"`
	CallTimeout  time.Duration `json:"call_timeout" yaml:"call_timeout"`
}

// DefaultConfig 返回默认网关配置
func DefaultConfig() Config {
	return Config{
		PrimaryName: "openai",
		BackupName:  "anthropic",
		Draft:       Params{Temperature: 0.7, MaxTokens: 4096},
		Enhance:     Params{Temperature: 0.6, MaxTokens: 1024},
		// 合成阶段刻意使用比草稿更高的创造性采样
		Synthesis:   Params{Temperature: 0.95, MaxTokens: 8192},
		CallTimeout: 120 * time.Second,
	}
}

// Request 一次生成请求
type Request struct {
	SystemPrompt string
	Prompt       string
	Temperature  float32
	MaxTokens    int
	Format       ResponseFormat
	ModelHint    string // 可指定偏好后端（primary/backup名称），网关仍可在失败时透明替换
}

// Result 一次生成的结果，Backend 记录实际提供服务的后端
type Result struct {
	Text       string
	Backend    string
	Model      string
	TokensUsed int
}

type backend struct {
	name     string
	model    string
	provider llm.Provider
}

// Gateway 统一的文本生成网关：主后端失败时自动降级到备份后端，
// 除了对外调用本身不产生任何副作用，不修改共享状态。
type Gateway struct {
	primary backend
	backup  backend
	cfg     Config
}

// New 创建网关。primary/backup 两个后端在构造时注入。
func New(primary, backup llm.Provider, cfg Config) *Gateway {
	return &Gateway{
		primary: backend{name: cfg.PrimaryName, model: cfg.PrimaryModel, provider: primary},
		backup:  backend{name: cfg.BackupName, model: cfg.BackupModel, provider: backup},
		cfg:     cfg,
	}
}

// Config 返回网关的只读配置副本
func (g *Gateway) Config() Config {
	return g.cfg
}

// backendOrder 根据调用方提示决定后端尝试顺序
func (g *Gateway) backendOrder(hint string) []backend {
	if hint != "" && hint == g.backup.name {
		return []backend{g.backup, g.primary}
	}
	return []backend{g.primary, g.backup}
}

// Generate 发送一次生成请求。
// 瞬时失败（超时、限流、5xx级别）在同一后端上自动重试一次；
// 仍失败、认证失败或空响应则降级到备份后端；
// 内容策略拒绝不重试也不降级，直接上报。
func (g *Gateway) Generate(ctx context.Context, req Request) (*Result, error) {
	var lastErr *GenerationError

	for _, b := range g.backendOrder(req.ModelHint) {
		if b.provider == nil {
			continue
		}

		res, gerr := g.attempt(ctx, b, req)
		if gerr == nil {
			return res, nil
		}
		if gerr.Kind == KindContentRejected {
			return nil, gerr
		}

		if gerr.Transient() && ctx.Err() == nil {
			utils.GetLogger().Warn("LLM backend transient failure, retrying once", map[string]interface{}{
				"backend": b.name,
				"kind":    string(gerr.Kind),
			})
			res, gerr = g.attempt(ctx, b, req)
			if gerr == nil {
				return res, nil
			}
			if gerr.Kind == KindContentRejected {
				return nil, gerr
			}
		}

		// 用户取消时立即停止，不再降级
		if ctx.Err() != nil {
			return nil, &GenerationError{
				Kind:    KindTimeout,
				Backend: b.name,
				Message: "生成请求已取消",
				Err:     ctx.Err(),
			}
		}

		lastErr = gerr
		utils.GetLogger().Warn("LLM backend failed, falling back", map[string]interface{}{
			"backend": b.name,
			"kind":    string(gerr.Kind),
		})
	}

	if lastErr == nil {
		lastErr = &GenerationError{Kind: KindMalformedResponse, Message: "没有可用的生成后端"}
	}
	return nil, lastErr
}

// GenerateStructured 请求JSON格式输出并解析到 out。
// 解析失败被视为该后端的格式失败：主后端解析失败时改用备份后端再试一次。
func (g *Gateway) GenerateStructured(ctx context.Context, req Request, out interface{}) (*Result, error) {
	req.Format = FormatJSON

	res, err := g.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	if parseErr := json.Unmarshal([]byte(CleanJSONResponse(res.Text)), out); parseErr == nil {
		return res, nil
	} else if res.Backend == g.primary.name && req.ModelHint != g.backup.name {
		// 主后端产出无法解析，透明替换为备份后端
		utils.GetLogger().Warn("structured output unparsable, substituting backup backend", map[string]interface{}{
			"backend": res.Backend,
		})
		retryReq := req
		retryReq.ModelHint = g.backup.name
		backupRes, backupErr := g.Generate(ctx, retryReq)
		if backupErr != nil {
			return nil, backupErr
		}
		if parseErr2 := json.Unmarshal([]byte(CleanJSONResponse(backupRes.Text)), out); parseErr2 == nil {
			return backupRes, nil
		}
		return nil, &GenerationError{
			Kind:    KindMalformedResponse,
			Backend: backupRes.Backend,
			Message: "结构化输出无法解析为JSON",
			Err:     parseErr,
		}
	} else {
		return nil, &GenerationError{
			Kind:    KindMalformedResponse,
			Backend: res.Backend,
			Message: "结构化输出无法解析为JSON",
			Err:     parseErr,
		}
	}
}

// attempt 对单个后端发起一次调用
func (g *Gateway) attempt(ctx context.Context, b backend, req Request) (*Result, *GenerationError) {
	callCtx := ctx
	if g.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
	}

	systemPrompt := req.SystemPrompt
	if req.Format == FormatJSON {
		if systemPrompt != "" {
			systemPrompt += "\n\n"
		}
		systemPrompt += "Return your response in valid JSON format, following the provided output schema, without adding explanations or preambles."
	}

	start := time.Now()
	resp, err := b.provider.CompleteText(callCtx, llm.CompletionRequest{
		Prompt:       req.Prompt,
		SystemPrompt: systemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		Model:        b.model,
	})
	if err != nil {
		utils.NewPipelineMetrics().RecordError("backend_call", "gateway")
		return nil, classify(b.name, err)
	}
	utils.NewPipelineMetrics().RecordLLMRequest(b.name, resp.ModelName, resp.TokensUsed, time.Since(start))

	if strings.TrimSpace(resp.Text) == "" {
		return nil, &GenerationError{
			Kind:    KindMalformedResponse,
			Backend: b.name,
			Message: "后端返回了空响应",
		}
	}

	return &Result{
		Text:       resp.Text,
		Backend:    b.name,
		Model:      resp.ModelName,
		TokensUsed: resp.TokensUsed,
	}, nil
}

// 内容策略拒绝在各家API错误信息中的标记
var contentPolicyMarkers = []string{
	"content_policy",
	"content_filter",
	"content management policy",
	"moderation",
	"PROHIBITED_CONTENT",
	"安全策略",
}

// classify 将提供商错误归类为网关错误
func classify(backendName string, err error) *GenerationError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &GenerationError{Kind: KindTimeout, Backend: backendName, Message: "生成请求超时", Err: err}
	}

	var perr *llm.ProviderError
	if errors.As(err, &perr) {
		for _, marker := range contentPolicyMarkers {
			if strings.Contains(perr.Message, marker) {
				return &GenerationError{Kind: KindContentRejected, Backend: backendName, Message: "内容被生成策略拒绝", Err: err}
			}
		}
		switch {
		case perr.AuthFailed():
			return &GenerationError{Kind: KindAuthFailure, Backend: backendName, Message: "后端认证失败", Err: err}
		case perr.StatusCode == 429:
			return &GenerationError{Kind: KindRateLimited, Backend: backendName, Message: "后端限流", Err: err}
		case perr.StatusCode >= 500:
			return &GenerationError{Kind: KindTimeout, Backend: backendName, Message: fmt.Sprintf("后端服务不可用(%d)", perr.StatusCode), Err: err}
		default:
			return &GenerationError{Kind: KindMalformedResponse, Backend: backendName, Message: "后端拒绝了请求", Err: err}
		}
	}

	if errors.Is(err, llm.ErrEmptyCompletion) {
		return &GenerationError{Kind: KindMalformedResponse, Backend: backendName, Message: "后端返回了空的生成结果", Err: err}
	}

	// 网络级错误按瞬时超时处理
	return &GenerationError{Kind: KindTimeout, Backend: backendName, Message: "调用后端失败", Err: err}
}
