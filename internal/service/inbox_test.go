package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"dropmail/backend/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMessages(t *testing.T, f *ingestFixture, owner string, n int) {
	t.Helper()
	ctx := context.Background()
	addr, err := f.store.GetAddress(ctx, owner)
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		require.NoError(t, f.store.SaveMessage(ctx, &domain.Message{
			ID:                fmt.Sprintf("msg-%d", i),
			OwnerAddress:      owner,
			ExternalMessageID: fmt.Sprintf("ext-%d", i),
			Subject:           fmt.Sprintf("subject %d", i),
			ReceivedAt:        f.clock.Now().Add(time.Duration(i) * time.Second),
			ExpiresAt:         addr.ExpiresAt,
		}))
	}
}

func TestInboxService_List(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t)

	_, err := f.addresses.Generate(ctx, domain.Duration10Min, "inbox")
	require.NoError(t, err)
	seedMessages(t, f, "inbox@temp.mail", 60)

	t.Run("默认 50 条且最新在前", func(t *testing.T) {
		list, err := f.inbox.List(ctx, "inbox@temp.mail", 0)
		require.NoError(t, err)
		require.Len(t, list, DefaultListLimit)
		assert.Equal(t, "msg-59", list[0].ID)
		for i := 1; i < len(list); i++ {
			assert.True(t, list[i-1].ReceivedAt.After(list[i].ReceivedAt))
		}
	})

	t.Run("自定义条数", func(t *testing.T) {
		list, err := f.inbox.List(ctx, "inbox@temp.mail", 5)
		require.NoError(t, err)
		assert.Len(t, list, 5)
	})

	t.Run("地址大小写不敏感", func(t *testing.T) {
		list, err := f.inbox.List(ctx, "INBOX@temp.mail", 1)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("停用地址的邮件仍可列出", func(t *testing.T) {
		_, err := f.addresses.Deactivate(ctx, "inbox@temp.mail")
		require.NoError(t, err)

		list, err := f.inbox.List(ctx, "inbox@temp.mail", 1)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestInboxService_Mailbox(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t)

	_, err := f.addresses.Generate(ctx, domain.Duration10Min, "view")
	require.NoError(t, err)
	seedMessages(t, f, "view@temp.mail", 2)

	box, err := f.inbox.Mailbox(ctx, "view@temp.mail", 0)
	require.NoError(t, err)
	assert.Equal(t, "view@temp.mail", box.Info.Address)
	assert.Len(t, box.Messages, 2)

	_, err = f.inbox.Mailbox(ctx, "unknown@temp.mail", 0)
	assert.ErrorIs(t, err, ErrAddressNotFound)

	f.clock.Advance(time.Hour)
	_, err = f.inbox.Mailbox(ctx, "view@temp.mail", 0)
	assert.ErrorIs(t, err, ErrAddressNotFound)
}

func TestInboxService_MarkRead(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t)

	_, err := f.addresses.Generate(ctx, domain.Duration10Min, "read")
	require.NoError(t, err)
	seedMessages(t, f, "read@temp.mail", 1)

	t.Run("未知 ID 返回 false", func(t *testing.T) {
		ok, err := f.inbox.MarkRead(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)

		list, _ := f.inbox.List(ctx, "read@temp.mail", 0)
		assert.False(t, list[0].IsRead)
	})

	t.Run("重复标记结果一致", func(t *testing.T) {
		ok, err := f.inbox.MarkRead(ctx, "msg-0")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = f.inbox.MarkRead(ctx, "msg-0")
		require.NoError(t, err)
		assert.True(t, ok)

		list, _ := f.inbox.List(ctx, "read@temp.mail", 0)
		assert.True(t, list[0].IsRead)
	})
}

func TestInboxService_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t)

	_, err := f.addresses.Generate(ctx, domain.Duration10Min, "purge")
	require.NoError(t, err)
	seedMessages(t, f, "purge@temp.mail", 3)

	count, err := f.inbox.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	f.clock.Advance(11 * time.Minute)
	count, err = f.inbox.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
