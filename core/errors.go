package core

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"talkai-gateway/core/adapter"
	"talkai-gateway/models"
)

// UpstreamErrorKind 上游错误分类
type UpstreamErrorKind int

const (
	UpstreamUnknown UpstreamErrorKind = iota
	UpstreamAuthInvalid
	UpstreamAuthForbidden
	UpstreamRateLimited
	UpstreamServerError
	UpstreamTimeout
	UpstreamConnectionFailed
)

func (k UpstreamErrorKind) String() string {
	switch k {
	case UpstreamAuthInvalid:
		return "auth_invalid"
	case UpstreamAuthForbidden:
		return "auth_forbidden"
	case UpstreamRateLimited:
		return "rate_limited"
	case UpstreamServerError:
		return "server_error"
	case UpstreamTimeout:
		return "timeout"
	case UpstreamConnectionFailed:
		return "connection_failed"
	default:
		return "unknown"
	}
}

// 对外错误文案
const (
	msgAuthInvalid      = "TalkAI API authentication failed - API key may be invalid or expired"
	msgAuthForbidden    = "TalkAI API access forbidden - API key may lack permissions"
	msgRateLimited      = "TalkAI API rate limit exceeded - please try again later"
	msgServerError      = "TalkAI API server error - downstream service may be temporarily unavailable"
	msgConnectTimeout   = "Connection timeout to TalkAI API - network issue or service unavailable"
	msgReadTimeout      = "Read timeout from TalkAI API - request took too long"
	msgConnectionFailed = "Failed to connect to TalkAI API - network connectivity issue"
	msgNoContent        = "TalkAI API returned no assistant content"
	msgInternal         = "Internal server error - check logs for details"
)

// UpstreamError 一次失败的上游调用，构造后立即转换为对外错误
type UpstreamError struct {
	Kind       UpstreamErrorKind
	StatusCode int // 0 表示没有收到 HTTP 响应
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("talkai upstream %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("talkai upstream %s: %s", e.Kind, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// ClassifyStatus 按 HTTP 状态码分类；body 仅用于未知 4xx
func ClassifyStatus(statusCode int, body string, header http.Header) *UpstreamError {
	e := &UpstreamError{StatusCode: statusCode}
	switch {
	case statusCode == http.StatusUnauthorized:
		e.Kind, e.Message = UpstreamAuthInvalid, msgAuthInvalid
	case statusCode == http.StatusForbidden:
		e.Kind, e.Message = UpstreamAuthForbidden, msgAuthForbidden
	case statusCode == http.StatusTooManyRequests:
		e.Kind, e.Message = UpstreamRateLimited, msgRateLimited
		e.RetryAfter = parseRetryAfter(header.Get("Retry-After"))
	case statusCode >= 500:
		e.Kind, e.Message = UpstreamServerError, msgServerError
	default:
		e.Kind = UpstreamUnknown
		e.Message = fmt.Sprintf("TalkAI API error (HTTP %d)", statusCode)
		if body = strings.TrimSpace(body); body != "" {
			e.Message += ": " + body
		}
	}
	return e
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// ValidationError 请求校验失败
type ValidationError = adapter.ValidationError

// ConfigError 启动配置错误（致命）
type ConfigError struct {
	Source  string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error (%s): %s: %v", e.Source, e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error (%s): %s", e.Source, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ParseError 上游返回内容无法提取助手文本
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string {
	return e.Message
}

// ErrUpstreamParse 上游没有返回任何可提取的助手文本
var ErrUpstreamParse = &ParseError{Message: msgNoContent}

// HTTPError 将内部错误映射为对外状态码与 OpenAI 风格错误体
func HTTPError(err error) (int, models.ErrorResponse) {
	var (
		ue *UpstreamError
		ve *ValidationError
		pe *ParseError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, errorBody(ve.Error(), "invalid_request_error", "validation_error")
	case errors.As(err, &ue):
		return upstreamStatus(ue), errorBody(ue.Message, "upstream_error", "upstream_"+ue.Kind.String())
	case errors.As(err, &pe):
		return http.StatusBadGateway, errorBody(pe.Message, "upstream_error", "upstream_parse_error")
	default:
		return http.StatusInternalServerError, errorBody(msgInternal, "server_error", "internal_error")
	}
}

func upstreamStatus(e *UpstreamError) int {
	switch e.Kind {
	case UpstreamTimeout:
		return http.StatusGatewayTimeout
	case UpstreamConnectionFailed:
		return http.StatusBadGateway
	}
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusBadGateway
}

func errorBody(message, typ, code string) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.ErrorDetail{
			Message: message,
			Type:    typ,
			Code:    code,
		},
	}
}

// AuthErrorResponse 入站鉴权失败
func AuthErrorResponse(message string) models.ErrorResponse {
	return errorBody(message, "authentication_error", "invalid_api_key")
}
