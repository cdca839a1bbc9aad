// Package mongo 提供基于 MongoDB 的存储实现，两个集合都带有 expires_at TTL 索引。
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/storage"
)

const (
	DefaultDatabase    = "dropmail"
	addressCollection  = "addresses"
	messageCollection  = "messages"
	defaultConnTimeout = 10 * time.Second
)

// Store MongoDB 存储实现
type Store struct {
	client    *mongo.Client
	addresses *mongo.Collection
	messages  *mongo.Collection
	logger    *zap.Logger
}

var _ storage.Store = (*Store)(nil)

// Open 连接 MongoDB 并确保索引存在
func Open(ctx context.Context, uri, database string, logger *zap.Logger) (*Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	store, err := New(ctx, client, database, logger)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

// New 使用已有客户端创建存储实例
func New(ctx context.Context, client *mongo.Client, database string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if database == "" {
		database = DefaultDatabase
	}

	ctx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:    client,
		addresses: db.Collection(addressCollection),
		messages:  db.Collection(messageCollection),
		logger:    logger,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	logger.Info("connected to MongoDB", zap.String("database", database))
	return s, nil
}

// ensureIndexes 创建唯一去重索引与 TTL 索引
func (s *Store) ensureIndexes(ctx context.Context) error {
	// expireAfterSeconds=0：到达 expires_at 即由数据库自动删除
	ttl := mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}

	if _, err := s.addresses.Indexes().CreateMany(ctx, []mongo.IndexModel{
		ttl,
		{Keys: bson.D{{Key: "id", Value: 1}}},
	}); err != nil {
		return err
	}

	_, err := s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		ttl,
		{
			Keys: bson.D{
				{Key: "external_message_id", Value: 1},
				{Key: "owner_address", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("dedup_key"),
		},
		{Keys: bson.D{
			{Key: "owner_address", Value: 1},
			{Key: "received_at", Value: -1},
		}},
	})
	return err
}

// ========== Address Repository ==========

// CreateAddress 插入新地址，_id 即地址字符串
func (s *Store) CreateAddress(ctx context.Context, addr *domain.TemporaryAddress) error {
	_, err := s.addresses.InsertOne(ctx, addr)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrAddressExists
		}
		return fmt.Errorf("insert address: %w", err)
	}
	return nil
}

// GetAddress 根据完整地址获取记录
func (s *Store) GetAddress(ctx context.Context, address string) (*domain.TemporaryAddress, error) {
	var addr domain.TemporaryAddress
	if err := s.addresses.FindOne(ctx, bson.M{"_id": address}).Decode(&addr); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrAddressNotFound
		}
		return nil, fmt.Errorf("find address: %w", err)
	}
	return &addr, nil
}

// ExtendAddress 条件更新：仅当地址在 now 时刻可用
func (s *Store) ExtendAddress(ctx context.Context, address string, expiresAt, now time.Time) (bool, error) {
	filter := bson.M{
		"_id":        address,
		"is_active":  true,
		"expires_at": bson.M{"$gt": now},
	}
	update := bson.M{"$set": bson.M{
		"expires_at":       expiresAt,
		"last_accessed_at": now,
	}}

	result, err := s.addresses.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("extend address: %w", err)
	}
	return result.MatchedCount > 0, nil
}

// ReplaceAddress 条件覆盖：仅当同名记录已停用或已过期
func (s *Store) ReplaceAddress(ctx context.Context, addr *domain.TemporaryAddress, now time.Time) (bool, error) {
	filter := bson.M{
		"_id": addr.Address,
		"$or": bson.A{
			bson.M{"is_active": false},
			bson.M{"expires_at": bson.M{"$lte": now}},
		},
	}

	result, err := s.addresses.ReplaceOne(ctx, filter, addr)
	if err != nil {
		return false, fmt.Errorf("replace address: %w", err)
	}
	return result.MatchedCount > 0, nil
}

// DeactivateAddress 停用激活的地址
func (s *Store) DeactivateAddress(ctx context.Context, address string) (bool, error) {
	result, err := s.addresses.UpdateOne(ctx,
		bson.M{"_id": address, "is_active": true},
		bson.M{"$set": bson.M{"is_active": false}},
	)
	if err != nil {
		return false, fmt.Errorf("deactivate address: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

// IncrementMessageCount 原子自增邮件计数，地址不存在时匹配 0 条
func (s *Store) IncrementMessageCount(ctx context.Context, address string, now time.Time) error {
	_, err := s.addresses.UpdateOne(ctx,
		bson.M{"_id": address},
		bson.M{
			"$inc": bson.M{"message_count": 1},
			"$set": bson.M{"last_accessed_at": now},
		},
	)
	if err != nil {
		return fmt.Errorf("increment message count: %w", err)
	}
	return nil
}

// DeleteExpiredAddresses 删除过期地址，不论是否激活
func (s *Store) DeleteExpiredAddresses(ctx context.Context, before time.Time) (int, error) {
	result, err := s.addresses.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("delete expired addresses: %w", err)
	}
	return int(result.DeletedCount), nil
}

// ========== Message Repository ==========

// SaveMessage 保存邮件，去重索引冲突返回 ErrDuplicateMessage
func (s *Store) SaveMessage(ctx context.Context, message *domain.Message) error {
	if _, err := s.messages.InsertOne(ctx, message); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrDuplicateMessage
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// MessageExists 按去重键检查邮件是否存在
func (s *Store) MessageExists(ctx context.Context, externalMessageID, ownerAddress string) (bool, error) {
	count, err := s.messages.CountDocuments(ctx,
		bson.M{"external_message_id": externalMessageID, "owner_address": ownerAddress},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("count messages: %w", err)
	}
	return count > 0, nil
}

// ListMessages 返回未过期邮件，按接收时间倒序
func (s *Store) ListMessages(ctx context.Context, ownerAddress string, now time.Time, limit int) ([]domain.Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "received_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.messages.Find(ctx, bson.M{
		"owner_address": ownerAddress,
		"expires_at":    bson.M{"$gt": now},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}

	messages := make([]domain.Message, 0)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return messages, nil
}

// MarkMessageRead 标记邮件为已读，以匹配数判断是否存在
func (s *Store) MarkMessageRead(ctx context.Context, id string) (bool, error) {
	result, err := s.messages.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"is_read": true}},
	)
	if err != nil {
		return false, fmt.Errorf("mark message read: %w", err)
	}
	return result.MatchedCount > 0, nil
}

// DeleteExpiredMessages 删除快照过期时间已过的邮件
func (s *Store) DeleteExpiredMessages(ctx context.Context, before time.Time) (int, error) {
	result, err := s.messages.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("delete expired messages: %w", err)
	}
	return int(result.DeletedCount), nil
}

// ========== 工具方法 ==========

// Close 断开客户端连接
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultConnTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Health 检查 MongoDB 连接
func (s *Store) Health(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}
