package smtp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/mimeparse"
	"dropmail/backend/internal/objectstore/filesystem"
	"dropmail/backend/internal/service"
	"dropmail/backend/internal/storage/memory"
)

type smtpFixture struct {
	backend   *Backend
	store     *memory.Store
	addresses *service.AddressService
	inbox     *service.InboxService
	objects   *filesystem.Store
}

func newSMTPFixture(t *testing.T, limiter *ConnectionLimiter) *smtpFixture {
	t.Helper()
	store := memory.NewStore()
	addresses := service.NewAddressService(store, "temp.mail", nil, nil)
	inbox := service.NewInboxService(store, addresses, nil, nil)

	objects, err := filesystem.NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	ingest := service.NewIngestService(objects, mimeparse.New(nil), addresses, store, nil)
	backend := NewBackend(addresses, objects, ingest, limiter, nil, nil)

	return &smtpFixture{
		backend:   backend,
		store:     store,
		addresses: addresses,
		inbox:     inbox,
		objects:   objects,
	}
}

func isSMTPError(err error, code int) bool {
	var smtpErr *gosmtp.SMTPError
	return errors.As(err, &smtpErr) && smtpErr.Code == code
}

func rawMail(to, messageID string) string {
	return strings.Join([]string{
		"From: Sender <sender@example.com>",
		"To: " + to,
		"Subject: Hi",
		"Message-ID: " + messageID,
		"",
		"hello from smtp",
	}, "\r\n")
}

func TestSession_Deliver(t *testing.T) {
	ctx := context.Background()
	f := newSMTPFixture(t, nil)

	_, err := f.addresses.Generate(ctx, domain.Duration1Hour, "inbox")
	require.NoError(t, err)

	sess, err := f.backend.NewSession(nil)
	require.NoError(t, err)
	defer sess.Logout()

	require.NoError(t, sess.Mail("sender@example.com", nil))
	require.NoError(t, sess.Rcpt("<Inbox@Temp.Mail>", nil))
	require.NoError(t, sess.Data(strings.NewReader(rawMail("inbox@temp.mail", "<smtp-1@example.com>"))))

	list, err := f.inbox.List(ctx, "inbox@temp.mail", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Hi", list[0].Subject)
	assert.Equal(t, "hello from smtp", list[0].Text)
	assert.True(t, strings.HasPrefix(list[0].SourceKey, "inbound/"))

	raw, err := f.objects.Fetch(ctx, list[0].SourceKey)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "hello from smtp")
}

func TestSession_BccRecipient(t *testing.T) {
	ctx := context.Background()
	f := newSMTPFixture(t, nil)

	_, err := f.addresses.Generate(ctx, domain.Duration1Hour, "secret")
	require.NoError(t, err)

	sess, err := f.backend.NewSession(nil)
	require.NoError(t, err)

	require.NoError(t, sess.Rcpt("secret@temp.mail", nil))
	require.NoError(t, sess.Data(strings.NewReader(rawMail("list@example.com", "<bcc@example.com>"))))

	list, err := f.inbox.List(ctx, "secret@temp.mail", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSession_RejectsUnknownRecipient(t *testing.T) {
	f := newSMTPFixture(t, nil)

	sess, err := f.backend.NewSession(nil)
	require.NoError(t, err)

	t.Run("不存在的地址", func(t *testing.T) {
		err := sess.Rcpt("nobody@temp.mail", nil)
		assert.True(t, isSMTPError(err, 550))
	})

	t.Run("格式错误的地址", func(t *testing.T) {
		err := sess.Rcpt("not-an-address", nil)
		assert.True(t, isSMTPError(err, 501))
	})

	t.Run("没有有效收件人时拒绝 DATA", func(t *testing.T) {
		err := sess.Data(strings.NewReader(rawMail("nobody@temp.mail", "<x@example.com>")))
		assert.True(t, isSMTPError(err, 554))
	})
}

func TestSession_ExpiredBeforeData(t *testing.T) {
	ctx := context.Background()
	f := newSMTPFixture(t, nil)

	_, err := f.addresses.Generate(ctx, domain.Duration10Min, "short")
	require.NoError(t, err)

	sess, err := f.backend.NewSession(nil)
	require.NoError(t, err)
	require.NoError(t, sess.Rcpt("short@temp.mail", nil))

	ok, err := f.addresses.Deactivate(ctx, "short@temp.mail")
	require.NoError(t, err)
	require.True(t, ok)

	err = sess.Data(strings.NewReader(rawMail("short@temp.mail", "<late@example.com>")))
	assert.True(t, isSMTPError(err, 451))
	var smtpErr *gosmtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, gosmtp.EnhancedCode{4, 3, 0}, smtpErr.EnhancedCode)
}

func TestSession_DataTooLarge(t *testing.T) {
	ctx := context.Background()
	f := newSMTPFixture(t, nil)
	f.backend.maxBytes = 16

	_, err := f.addresses.Generate(ctx, domain.Duration1Hour, "big")
	require.NoError(t, err)

	sess, err := f.backend.NewSession(nil)
	require.NoError(t, err)
	require.NoError(t, sess.Rcpt("big@temp.mail", nil))

	err = sess.Data(strings.NewReader(rawMail("big@temp.mail", "<big@example.com>")))
	assert.ErrorIs(t, err, gosmtp.ErrDataTooLarge)
}

func TestSession_Reset(t *testing.T) {
	ctx := context.Background()
	f := newSMTPFixture(t, nil)
	_, err := f.addresses.Generate(ctx, domain.Duration1Hour, "reset")
	require.NoError(t, err)

	sess, err := f.backend.NewSession(nil)
	require.NoError(t, err)
	require.NoError(t, sess.Rcpt("reset@temp.mail", nil))

	sess.Reset()
	err = sess.Data(strings.NewReader(rawMail("reset@temp.mail", "<r@example.com>")))
	assert.True(t, isSMTPError(err, 554))
}

func TestBackend_ConnectionLimit(t *testing.T) {
	limiter := NewConnectionLimiter(1, 0)
	f := newSMTPFixture(t, limiter)

	first, err := f.backend.NewSession(nil)
	require.NoError(t, err)

	_, err = f.backend.NewSession(nil)
	assert.True(t, isSMTPError(err, 421))

	require.NoError(t, first.Logout())
	require.NoError(t, first.Logout())
	assert.Equal(t, 0, limiter.Current())

	second, err := f.backend.NewSession(nil)
	require.NoError(t, err)
	require.NoError(t, second.Logout())
}

func TestConnectionLimiter_Rate(t *testing.T) {
	limiter := NewConnectionLimiter(0, 2)

	assert.True(t, limiter.Acquire())
	assert.True(t, limiter.Acquire())
	assert.False(t, limiter.Acquire())
	assert.Equal(t, 2, limiter.Current())

	limiter.Release()
	limiter.Release()
	limiter.Release()
	assert.Equal(t, 0, limiter.Current())
}

func TestBackend_ObjectKey(t *testing.T) {
	f := newSMTPFixture(t, nil)
	f.backend.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	key := f.backend.objectKey()
	assert.True(t, strings.HasPrefix(key, "inbound/2026-03-04/"))
	assert.True(t, strings.HasSuffix(key, ".eml"))
}
