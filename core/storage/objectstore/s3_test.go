package objectstore

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	headErr error
	put     *s3.PutObjectInput
	body    []byte
}

func (f *fakeS3) HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.put = in
	b, err := io.ReadAll(in.Body)
	f.body = b
	return &s3.PutObjectOutput{}, err
}

func TestExists(t *testing.T) {
	ctx := context.Background()

	ok, err := NewS3Store(&fakeS3{}, "b").Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = NewS3Store(&fakeS3{headErr: &types.NotFound{}}, "b").Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = NewS3Store(&fakeS3{headErr: &types.NoSuchKey{}}, "b").Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	boom := errors.New("access denied")
	_, err = NewS3Store(&fakeS3{headErr: boom}, "b").Exists(ctx, "k")
	assert.ErrorIs(t, err, boom)
}

func TestPutEncryption(t *testing.T) {
	f := &fakeS3{}
	s := NewS3Store(f, "b")
	require.NoError(t, s.Put(context.Background(), "k", []byte("mp3"), PutOptions{ContentType: "audio/mpeg"}))
	assert.Equal(t, types.ServerSideEncryptionAes256, f.put.ServerSideEncryption)
	assert.Nil(t, f.put.SSEKMSKeyId)
	assert.Equal(t, "audio/mpeg", *f.put.ContentType)
	assert.Equal(t, []byte("mp3"), f.body)

	require.NoError(t, s.Put(context.Background(), "k", []byte("mp3"), PutOptions{KMSKeyID: "alias/tts", CacheControl: "private"}))
	assert.Equal(t, types.ServerSideEncryptionAwsKms, f.put.ServerSideEncryption)
	assert.Equal(t, "alias/tts", *f.put.SSEKMSKeyId)
	assert.Equal(t, "private", *f.put.CacheControl)
}
