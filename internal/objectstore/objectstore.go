// Package objectstore 定义原始邮件对象的读写接口。
package objectstore

import (
	"context"
	"errors"
)

var (
	// ErrObjectNotFound 对象不存在
	ErrObjectNotFound = errors.New("object not found")
	// ErrObjectTooLarge 对象超过读取上限
	ErrObjectTooLarge = errors.New("object too large")
)

// Fetcher 按对象键读取原始字节
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Store 可读写的对象存储
type Store interface {
	Fetcher
	Put(ctx context.Context, key string, raw []byte) error
}
