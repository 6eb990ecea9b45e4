// Package errs holds the error taxonomy shared by the gateway and the engines.
package errs

import (
	"errors"
	"net/http"
)

var (
	// ErrMissingCredential 未配置任何可用的 API Key。
	ErrMissingCredential = errors.New("missing credential")
	// ErrUpstream covers provider failures, timeouts and rate limiting.
	ErrUpstream = errors.New("upstream failure")
	// ErrSchemaViolation 结构化输出无法通过解析或校验。
	ErrSchemaViolation = errors.New("schema violation")
	// ErrConcurrentCall is returned when a guard rejects an overlapping call.
	ErrConcurrentCall = errors.New("concurrent call rejected")
	// ErrPrecondition 操作的前置条件不满足。
	ErrPrecondition = errors.New("precondition failed")
	// ErrNotFound 会话、房间等资源不存在。
	ErrNotFound = errors.New("not found")
)

// Kind 返回错误所属的分类名称，未知错误返回 "internal"。
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrSchemaViolation):
		return "schema_violation"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	case errors.Is(err, ErrConcurrentCall):
		return "concurrent_call_rejected"
	case errors.Is(err, ErrPrecondition):
		return "precondition_failed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

// HTTPStatus maps an error to the status code handlers respond with.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case "missing_credential":
		return http.StatusPreconditionRequired
	case "schema_violation", "upstream":
		return http.StatusBadGateway
	case "concurrent_call_rejected":
		return http.StatusConflict
	case "precondition_failed":
		return http.StatusPreconditionFailed
	case "not_found":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Guard 表示错误属于守卫条件（调用方应静默忽略），而非面向用户的失败。
func Guard(err error) bool {
	return errors.Is(err, ErrConcurrentCall) || errors.Is(err, ErrPrecondition)
}
