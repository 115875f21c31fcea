package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func TestParseS3(t *testing.T) {
	l, ok, err := ParseS3("s3://models/in/batch.tar.xz")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Location{Bucket: "models", Key: "in/batch.tar.xz"}, l)

	_, ok, err = ParseS3("/tmp/batch.tar")
	require.NoError(t, err)
	assert.False(t, ok)

	for _, bad := range []string{"s3://", "s3://bucket", "s3://bucket/"} {
		_, _, err := ParseS3(bad)
		assert.ErrorIs(t, err, ErrBadLocation, bad)
	}
}

func TestLocalRoundTrip(t *testing.T) {
	s := New(S3Config{})
	ctx := context.Background()
	loc := filepath.Join(t.TempDir(), "nested", "out.tar")

	w, err := s.Create(ctx, loc)
	require.NoError(t, err)
	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := s.ReadAll(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = s.Open(ctx, filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestS3RoundTrip(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	s := New(S3Config{})
	s.client = fake
	ctx := context.Background()

	w, err := s.Create(ctx, "s3://bucket/runs/out.tar.xz")
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Empty(t, fake.objects)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, []byte("abc"), fake.objects["bucket/runs/out.tar.xz"])

	_, err = w.Write([]byte("late"))
	assert.Error(t, err)

	data, err := s.ReadAll(ctx, "s3://bucket/runs/out.tar.xz")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	_, err = s.Open(ctx, "s3://bucket/missing")
	assert.Error(t, err)
}
