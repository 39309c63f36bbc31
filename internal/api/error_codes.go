// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorForbidden     = "FORBIDDEN"

	// 故事圣经相关错误
	ErrorStoryNotFound     = "STORY_NOT_FOUND"
	ErrorContentLocked     = "CONTENT_LOCKED"
	ErrorRegenerationLimit = "REGENERATION_LIMIT_EXCEEDED"
	ErrorRevisionConflict  = "REVISION_CONFLICT"

	// 剧集相关错误
	ErrorEpisodeNotFound = "EPISODE_NOT_FOUND"
	ErrorEpisodeSequence = "EPISODE_SEQUENCE_INVALID"
	ErrorBranchInvalid   = "BRANCH_INVALID"
	ErrorBranchImmutable = "BRANCH_IMMUTABLE"

	// 生成流水线相关错误
	ErrorDraftingFailed     = "DRAFTING_FAILED"
	ErrorSynthesisFailed    = "SYNTHESIS_FAILED"
	ErrorBackendAuthFailure = "BACKEND_AUTH_FAILURE"
	ErrorContentRejected    = "CONTENT_REJECTED"
)
