package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropmail/backend/internal/objectstore"
)

type fakeS3 struct {
	objects map[string][]byte
	getErr  error
	puts    []*s3.PutObjectInput

	// 非空时 GetObject 返回该长度作为 ContentLength
	contentLength *int64
	// 记录 Body 实际被读取的字节数
	read int64
}

type countingReader struct {
	r io.Reader
	n *int64
}

func (c countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	*c.n += int64(n)
	return n, err
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(countingReader{r: bytes.NewReader(data), n: &f.read}),
		ContentLength: f.contentLength,
	}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("写入后读取", func(t *testing.T) {
		api := &fakeS3{objects: map[string][]byte{}}
		store := NewWithClient(api, "mail-bucket", nil)

		require.NoError(t, store.Put(ctx, "inbound/a.eml", []byte("raw")))
		require.Len(t, api.puts, 1)
		assert.Equal(t, "message/rfc822", aws.ToString(api.puts[0].ContentType))

		data, err := store.Fetch(ctx, "inbound/a.eml")
		require.NoError(t, err)
		assert.Equal(t, []byte("raw"), data)
	})

	t.Run("对象不存在", func(t *testing.T) {
		store := NewWithClient(&fakeS3{objects: map[string][]byte{}}, "mail-bucket", nil)

		_, err := store.Fetch(ctx, "missing.eml")
		assert.ErrorIs(t, err, objectstore.ErrObjectNotFound)
	})

	t.Run("通用 NotFound 错误码", func(t *testing.T) {
		api := &fakeS3{getErr: &smithy.GenericAPIError{Code: "NotFound", Message: "not found"}}
		store := NewWithClient(api, "mail-bucket", nil)

		_, err := store.Fetch(ctx, "k")
		assert.ErrorIs(t, err, objectstore.ErrObjectNotFound)
	})

	t.Run("其他错误原样包装", func(t *testing.T) {
		boom := errors.New("access denied")
		store := NewWithClient(&fakeS3{getErr: boom}, "mail-bucket", nil)

		_, err := store.Fetch(ctx, "k")
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, objectstore.ErrObjectNotFound)
	})

	t.Run("超过读取上限", func(t *testing.T) {
		api := &fakeS3{objects: map[string][]byte{
			"mail-bucket/big.eml": bytes.Repeat([]byte("x"), 1024),
		}}
		store := NewWithClient(api, "mail-bucket", nil)
		store.SetMaxBytes(100)

		_, err := store.Fetch(ctx, "big.eml")
		assert.ErrorIs(t, err, objectstore.ErrObjectTooLarge)
		assert.LessOrEqual(t, api.read, int64(101))
	})

	t.Run("ContentLength 超限时不读取正文", func(t *testing.T) {
		api := &fakeS3{
			objects:       map[string][]byte{"mail-bucket/big.eml": bytes.Repeat([]byte("x"), 1024)},
			contentLength: aws.Int64(1024),
		}
		store := NewWithClient(api, "mail-bucket", nil)
		store.SetMaxBytes(100)

		_, err := store.Fetch(ctx, "big.eml")
		assert.ErrorIs(t, err, objectstore.ErrObjectTooLarge)
		assert.Zero(t, api.read)
	})

	t.Run("恰好等于上限", func(t *testing.T) {
		payload := bytes.Repeat([]byte("y"), 100)
		api := &fakeS3{objects: map[string][]byte{"mail-bucket/edge.eml": payload}}
		store := NewWithClient(api, "mail-bucket", nil)
		store.SetMaxBytes(100)

		data, err := store.Fetch(ctx, "edge.eml")
		require.NoError(t, err)
		assert.Equal(t, payload, data)
	})
}
