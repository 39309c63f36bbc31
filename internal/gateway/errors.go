// internal/gateway/errors.go
package gateway

import (
	"errors"
	"fmt"
)

// ErrorKind 网关错误分类
type ErrorKind string

const (
	// KindAuthFailure 认证失败。两个后端都认证失败时对流水线是致命的。
	KindAuthFailure ErrorKind = "auth_failure"
	// KindTimeout 超时或后端暂时不可用
	KindTimeout ErrorKind = "timeout"
	// KindRateLimited 后端限流
	KindRateLimited ErrorKind = "rate_limited"
	// KindMalformedResponse 请求了结构化输出但得到无法解析的内容，或响应为空
	KindMalformedResponse ErrorKind = "malformed_response"
	// KindContentRejected 内容策略拒绝，不重试也不降级
	KindContentRejected ErrorKind = "content_rejected"
)

// GenerationError 网关的类型化失败结果，沿层级边界以值传递而非异常
type GenerationError struct {
	Kind    ErrorKind
	Backend string
	Message string
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Backend, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Backend, e.Kind, e.Message)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Transient 是否为可在同一后端重试的瞬时失败
func (e *GenerationError) Transient() bool {
	return e.Kind == KindTimeout || e.Kind == KindRateLimited
}

// IsKind 判断错误是否为指定分类的网关错误
func IsKind(err error, kind ErrorKind) bool {
	var gerr *GenerationError
	if errors.As(err, &gerr) {
		return gerr.Kind == kind
	}
	return false
}

// AsGenerationError 提取网关错误
func AsGenerationError(err error) (*GenerationError, bool) {
	var gerr *GenerationError
	if errors.As(err, &gerr) {
		return gerr, true
	}
	return nil, false
}
