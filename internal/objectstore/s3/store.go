package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"dropmail/backend/internal/config"
	"dropmail/backend/internal/objectstore"
)

// API 是 Store 使用的 S3 操作子集
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store 基于 S3 bucket 的对象存储
type Store struct {
	client API
	bucket string
	logger *zap.Logger

	maxBytes int64 // 单个对象读取上限，0 表示不限制
}

var _ objectstore.Store = (*Store)(nil)

// New 根据配置创建 S3 对象存储
func New(ctx context.Context, cfg config.ObjectStoreConfig, logger *zap.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	awsCfg, err := buildAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(opts *s3.Options) {
		if cfg.Endpoint != "" {
			opts.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		opts.UsePathStyle = cfg.UsePathStyle
	})

	return NewWithClient(client, cfg.Bucket, logger), nil
}

// NewWithClient 使用已有客户端创建对象存储
func NewWithClient(client API, bucket string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, bucket: bucket, logger: logger}
}

// SetMaxBytes 设置 Fetch 读取的单个对象上限，n <= 0 表示不限制
func (s *Store) SetMaxBytes(n int64) {
	if n < 0 {
		n = 0
	}
	s.maxBytes = n
}

// buildAWSConfig 配置了静态凭证时使用静态凭证，否则走默认凭证链
func buildAWSConfig(ctx context.Context, cfg config.ObjectStoreConfig) (aws.Config, error) {
	optFns := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		optFns = append(optFns, awsconfig.WithCredentialsProvider(creds))
	}

	return awsconfig.LoadDefaultConfig(ctx, optFns...)
}

// Bucket 返回配置的 bucket 名称
func (s *Store) Bucket() string {
	return s.bucket
}

// Fetch 读取对象全部内容，对象不存在时返回 objectstore.ErrObjectNotFound。
// 超过读取上限时返回 objectstore.ErrObjectTooLarge，不会把整个对象读入内存。
func (s *Store) Fetch(ctx context.Context, key string) ([]byte, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: s3://%s/%s", objectstore.ErrObjectNotFound, s.bucket, key)
		}
		return nil, fmt.Errorf("get object from s3: %w", err)
	}
	defer output.Body.Close()

	if s.maxBytes > 0 && aws.ToInt64(output.ContentLength) > s.maxBytes {
		return nil, fmt.Errorf("%w: s3://%s/%s is %d bytes, limit %d",
			objectstore.ErrObjectTooLarge, s.bucket, key, aws.ToInt64(output.ContentLength), s.maxBytes)
	}

	var body io.Reader = output.Body
	if s.maxBytes > 0 {
		// 多读一个字节用于判断是否超限
		body = io.LimitReader(output.Body, s.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read object body: %w", err)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: s3://%s/%s exceeds limit %d",
			objectstore.ErrObjectTooLarge, s.bucket, key, s.maxBytes)
	}

	s.logger.Debug("fetched object from s3",
		zap.String("bucket", s.bucket),
		zap.String("key", key),
		zap.Int("size", len(data)),
	)
	return data, nil
}

// Put 写入对象
func (s *Store) Put(ctx context.Context, key string, raw []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(raw),
		ContentLength: aws.Int64(int64(len(raw))),
		ContentType:   aws.String("message/rfc822"),
	})
	if err != nil {
		return fmt.Errorf("put object to s3: %w", err)
	}

	s.logger.Debug("stored object in s3", zap.String("bucket", s.bucket), zap.String("key", key))
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
