// Package main 实现 S3 对象创建事件的投递触发 Lambda。
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"dropmail/backend/internal/auth/jwt"
	"dropmail/backend/internal/config"
	"dropmail/backend/internal/logger"
)

const processPath = "/api/process-s3-email"

// TokenIssuer 为对象键签发投递令牌
type TokenIssuer interface {
	Issue(key string) (string, error)
}

// Handler 将 S3 事件转发给处理接口
type Handler struct {
	endpoint string
	client   *http.Client
	tokens   TokenIssuer
	logger   *zap.Logger
}

type processRequest struct {
	S3Key      string `json:"s3Key"`
	BucketName string `json:"bucketName,omitempty"`
}

// Handle 处理一批 S3 记录，任一记录失败即返回错误由 Lambda 重试
func (h *Handler) Handle(ctx context.Context, event events.S3Event) error {
	for _, record := range event.Records {
		if !isObjectCreated(record.EventName) {
			h.logger.Debug("skipping non-create event", zap.String("event", record.EventName))
			continue
		}

		key, err := decodeKey(record.S3.Object.Key)
		if err != nil {
			return fmt.Errorf("decode key %q: %w", record.S3.Object.Key, err)
		}

		if err := h.forward(ctx, key, record.S3.Bucket.Name); err != nil {
			h.logger.Error("failed to trigger processing",
				zap.String("s3_key", key),
				zap.String("bucket", record.S3.Bucket.Name),
				zap.Error(err),
			)
			return err
		}
		h.logger.Info("email processing triggered", zap.String("s3_key", key))
	}
	return nil
}

func (h *Handler) forward(ctx context.Context, key, bucket string) error {
	token, err := h.tokens.Issue(key)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	body, err := json.Marshal(processRequest{S3Key: key, BucketName: bucket})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+processPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", processPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("processing api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func isObjectCreated(eventName string) bool {
	return strings.HasPrefix(strings.TrimPrefix(eventName, "s3:"), "ObjectCreated")
}

// decodeKey 还原事件中经过表单编码的对象键
func decodeKey(raw string) (string, error) {
	return url.PathUnescape(strings.ReplaceAll(raw, "+", " "))
}

func main() {
	cfg, err := config.LoadTrigger()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Log, "dropmail-s3-trigger")
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	h := &Handler{
		endpoint: cfg.APIEndpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		tokens:   jwt.NewManager(cfg.APISecret, cfg.TokenIssuer, cfg.TokenTTL),
		logger:   log,
	}

	lambda.Start(h.Handle)
}
