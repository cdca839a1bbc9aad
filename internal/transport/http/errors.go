package httptransport

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dropmail/backend/internal/service"
)

// errorMapping 业务错误到 HTTP 状态码与中文消息的映射
type errorMapping struct {
	err    error
	status int
	msg    string
}

// 按顺序匹配，使用 errors.Is 以支持包装后的错误
var errorMappings = []errorMapping{
	{service.ErrInvalidDuration, http.StatusBadRequest, "时长无效，可选值: 10min, 30min, 1hour, 24hours"},
	{service.ErrPrefixLength, http.StatusBadRequest, "自定义前缀长度必须在 3 到 20 个字符之间"},
	{service.ErrPrefixInvalid, http.StatusBadRequest, "自定义前缀包含非法字符"},
	{service.ErrAddressNotFound, http.StatusNotFound, "邮箱地址不存在或已过期"},
	{service.ErrMessageNotFound, http.StatusNotFound, "邮件不存在"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "请求处理超时"},
}

// 通用错误消息
const (
	MsgInvalidJSON        = "JSON格式错误"
	MsgInvalidLimit       = "limit 参数无效"
	MsgMissingS3Key       = "缺少 s3Key"
	MsgBucketMismatch     = "bucketName 与配置的存储桶不一致"
	MsgTokenKeyMismatch   = "投递令牌与 s3Key 不匹配"
	MsgServiceUnavailable = "服务暂时不可用"
	MsgProcessFailed      = "邮件处理失败"
)

// GetErrorMessage 获取错误对应的状态码与中文消息，未知错误统一为 500
func GetErrorMessage(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.msg
		}
	}
	return http.StatusInternalServerError, MsgServiceUnavailable
}

// writeError 写出错误响应，5xx 错误记录到 gin 上下文由请求日志输出
func writeError(c *gin.Context, err error) {
	status, msg := GetErrorMessage(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	Error(c, status, msg)
}
