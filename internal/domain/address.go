package domain

import (
	"errors"
	"time"
)

// ErrInvalidDuration 表示时长不在允许的集合内。
var ErrInvalidDuration = errors.New("duration must be one of 10min, 30min, 1hour, 24hours")

// Duration 临时地址有效期枚举。
type Duration string

const (
	Duration10Min   Duration = "10min"
	Duration30Min   Duration = "30min"
	Duration1Hour   Duration = "1hour"
	Duration24Hours Duration = "24hours"

	// DefaultDuration 请求未指定时长时使用
	DefaultDuration = Duration10Min
)

var durationOffsets = map[Duration]time.Duration{
	Duration10Min:   10 * time.Minute,
	Duration30Min:   30 * time.Minute,
	Duration1Hour:   time.Hour,
	Duration24Hours: 24 * time.Hour,
}

// ParseDuration 解析时长字符串，空字符串返回默认值。
func ParseDuration(value string) (Duration, error) {
	if value == "" {
		return DefaultDuration, nil
	}
	d := Duration(value)
	if _, ok := durationOffsets[d]; !ok {
		return "", ErrInvalidDuration
	}
	return d, nil
}

// Offset 返回时长对应的固定偏移量。
func (d Duration) Offset() time.Duration {
	return durationOffsets[d]
}

// Valid 报告时长是否为允许值。
func (d Duration) Valid() bool {
	_, ok := durationOffsets[d]
	return ok
}

// TemporaryAddress 表示一个临时邮箱地址。
type TemporaryAddress struct {
	ID             string    `json:"id" gorm:"type:varchar(36);uniqueIndex" bson:"id"`
	Address        string    `json:"address" gorm:"primaryKey;type:varchar(255)" bson:"_id"`
	Domain         string    `json:"domain" gorm:"type:varchar(100);index" bson:"domain"`
	CreatedAt      time.Time `json:"createdAt" bson:"created_at"`
	ExpiresAt      time.Time `json:"expiresAt" gorm:"index" bson:"expires_at"`
	IsActive       bool      `json:"isActive" gorm:"default:true" bson:"is_active"`
	MessageCount   int       `json:"messageCount" gorm:"default:0" bson:"message_count"`
	LastAccessedAt time.Time `json:"lastAccessedAt" bson:"last_accessed_at"`
}

// TableName 指定 gorm 表名。
func (TemporaryAddress) TableName() string {
	return "addresses"
}

// Usable 地址可用当且仅当处于激活状态且尚未过期。
func (a *TemporaryAddress) Usable(now time.Time) bool {
	return a.IsActive && a.ExpiresAt.After(now)
}

// TimeRemaining 返回剩余有效时间，过期后为 0。
func (a *TemporaryAddress) TimeRemaining(now time.Time) time.Duration {
	if remaining := a.ExpiresAt.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}

// Info 生成对外展示的地址信息。
func (a *TemporaryAddress) Info(now time.Time) *AddressInfo {
	return &AddressInfo{
		Address:       a.Address,
		CreatedAt:     a.CreatedAt,
		ExpiresAt:     a.ExpiresAt,
		IsActive:      a.IsActive,
		MessageCount:  a.MessageCount,
		TimeRemaining: a.TimeRemaining(now).Milliseconds(),
	}
}

// AddressInfo 地址信息视图。
type AddressInfo struct {
	Address       string    `json:"email"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	IsActive      bool      `json:"isActive"`
	MessageCount  int       `json:"emailCount"`
	TimeRemaining int64     `json:"timeRemaining"` // 毫秒
}
