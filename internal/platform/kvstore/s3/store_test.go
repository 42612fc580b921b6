package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/emr-dashboard/internal/platform/kvstore/core"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failPut {
		return nil, errors.New("access denied")
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[*in.Bucket+"/"+*in.Key] = b
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func TestStore_RoundTrip(t *testing.T) {
	fake := newFakeS3()
	st := NewWithClient(fake, "emr-bucket", "/tenant-a/")
	ctx := context.Background()

	_, err := st.Get(ctx, "emr/audit-logs")
	require.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, st.Put(ctx, "emr/audit-logs", []byte(`[1,2]`)))
	_, stored := fake.objects["emr-bucket/tenant-a/emr/audit-logs.json"]
	assert.True(t, stored, "object key should include the prefix and .json suffix")

	got, err := st.Get(ctx, "emr/audit-logs")
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(got))

	require.NoError(t, st.Delete(ctx, "emr/audit-logs"))
	_, err = st.Get(ctx, "emr/audit-logs")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_PutError(t *testing.T) {
	fake := newFakeS3()
	fake.failPut = true
	st := NewWithClient(fake, "b", "")
	err := st.Put(context.Background(), "k", []byte("v"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestStore_InvalidKey(t *testing.T) {
	st := NewWithClient(newFakeS3(), "b", "")
	assert.Error(t, st.Put(context.Background(), "../x", nil))
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}
