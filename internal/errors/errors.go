// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	// 通用错误类型
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeError      ErrorType = "processing_error"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeTimeout    ErrorType = "timeout"

	// 生成流水线相关错误类型
	ErrorTypeContentLocked     ErrorType = "content_locked"
	ErrorTypeRegenerationLimit ErrorType = "regeneration_limit_exceeded"
	ErrorTypeDraftingFailed    ErrorType = "drafting_failed"
	ErrorTypeSynthesisFailed   ErrorType = "synthesis_failed"
	ErrorTypeAuthFailure       ErrorType = "auth_failure"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // 用户友好的错误代码
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewProcessingError 创建处理错误
func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

// NewConflictError 创建冲突错误
func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// NewContentLockedError 创建内容锁定错误（故事圣经已锁定，拒绝编辑既有内容）
func NewContentLockedError(message string) *AppError {
	return NewAppError(ErrorTypeContentLocked, message, nil)
}

// NewRegenerationLimitError 创建重新生成次数耗尽错误
func NewRegenerationLimitError(message string) *AppError {
	return NewAppError(ErrorTypeRegenerationLimit, message, nil)
}

// NewDraftingFailedError 创建草稿阶段失败错误（流水线致命）
func NewDraftingFailedError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeDraftingFailed, message, originalError)
}

// NewSynthesisFailedError 创建合成阶段失败错误
func NewSynthesisFailedError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeSynthesisFailed, message, originalError)
}

// NewAuthFailureError 创建认证失败错误（致命，不可恢复）
func NewAuthFailureError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeAuthFailure, message, originalError)
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsConflictError 检查是否为冲突错误
func IsConflictError(err error) bool {
	return hasType(err, ErrorTypeConflict)
}

// IsContentLockedError 检查是否为内容锁定错误
func IsContentLockedError(err error) bool {
	return hasType(err, ErrorTypeContentLocked)
}

// IsRegenerationLimitError 检查是否为重新生成次数耗尽错误
func IsRegenerationLimitError(err error) bool {
	return hasType(err, ErrorTypeRegenerationLimit)
}

// IsDraftingFailedError 检查是否为草稿阶段失败错误
func IsDraftingFailedError(err error) bool {
	return hasType(err, ErrorTypeDraftingFailed)
}

// IsSynthesisFailedError 检查是否为合成阶段失败错误
func IsSynthesisFailedError(err error) bool {
	return hasType(err, ErrorTypeSynthesisFailed)
}

// IsAuthFailureError 检查是否为认证失败错误
func IsAuthFailureError(err error) bool {
	return hasType(err, ErrorTypeAuthFailure)
}

func hasType(err error, errType ErrorType) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == errType
	}
	return false
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeContentLocked:
		return "CONTENT_LOCKED"
	case ErrorTypeRegenerationLimit:
		return "REGENERATION_LIMIT_EXCEEDED"
	case ErrorTypeDraftingFailed:
		return "DRAFTING_FAILED"
	case ErrorTypeSynthesisFailed:
		return "SYNTHESIS_FAILED"
	case ErrorTypeAuthFailure:
		return "AUTH_FAILURE"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError 包装现有错误
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		// 如果已经是 AppError，只更新消息
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	// 否则创建新的 AppError
	return NewAppError(errType, message, err)
}
