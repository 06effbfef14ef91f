package service

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrSessionNotFound 评估服务明确表示会话不存在，不可重试
var ErrSessionNotFound = errors.New("session not found in evaluation service")

// ConfigurationError 启动时即可发现的配置缺失，评估组件不能在此状态下构建
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("evaluation service not configured: %s is required", e.Field)
}

// RemoteError 评估服务返回的非 2xx 响应（404 除外），轮询期间视为暂时性错误
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Sprintf("invalid evaluation service credentials (status %d)", e.StatusCode)
	case http.StatusTooManyRequests:
		return "evaluation service rate limited"
	}
	return fmt.Sprintf("evaluation service error (status %d): %s", e.StatusCode, e.Body)
}
