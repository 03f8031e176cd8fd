package artifacts

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"model-serving-gateway/internal/config"
	"model-serving-gateway/internal/core/domain"
)

// fakeBucket is an in-memory bucket behind the S3 client and uploader APIs.
type fakeBucket struct {
	s3iface.S3API

	mu      sync.Mutex
	objects    map[string][]byte
	keys       []string
	overwrites int
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}}
}

func notFound() error {
	return awserr.NewRequestFailure(awserr.New("NotFound", "not found", nil), http.StatusNotFound, "req-1")
}

func (b *fakeBucket) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, notFound()
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj))),
		ETag:          aws.String(etag(obj)),
		LastModified:  aws.Time(time.Now()),
	}, nil
}

func etag(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func (b *fakeBucket) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj))}, nil
}

func (b *fakeBucket) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, aws.StringValue(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (b *fakeBucket) Upload(in *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	return b.UploadWithContext(context.Background(), in, opts...)
}

func (b *fakeBucket) UploadWithContext(_ aws.Context, in *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, awserr.New("ReadRequestBody", "read upload body: "+err.Error(), err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := aws.StringValue(in.Key)
	if _, exists := b.objects[key]; exists {
		b.overwrites++
	}
	b.objects[key] = data
	b.keys = append(b.keys, key)
	return &s3manager.UploadOutput{Location: "s3://bucket/" + key, ETag: aws.String(etag(data))}, nil
}

func (b *fakeBucket) put(key string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
}

func TestS3Store_RoundTrip(t *testing.T) {
	bucket := newFakeBucket()
	store := NewS3StoreWithClient(bucket, bucket, "models", "/prod/")
	ctx := context.Background()

	info, err := store.Put(ctx, "m/1/artifact", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(info.Path, "m/1/artifact-"), info.Path)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", info.Digest)
	assert.Equal(t, []string{"prod/" + info.Path}, bucket.keys)
	assert.NotEmpty(t, info.Revision)

	st, err := store.Stat(ctx, info.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), st.Size)
	assert.Equal(t, info.Revision, st.Revision)

	rc, err := store.Open(ctx, info.Path)
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "hello", string(body))

	require.NoError(t, store.Delete(ctx, info.Path))
	_, err = store.Stat(ctx, info.Path)
	assert.ErrorIs(t, err, domain.ErrArtifactMissing)
	_, err = store.Open(ctx, info.Path)
	assert.ErrorIs(t, err, domain.ErrArtifactMissing)
}

func TestS3Store_RacingPutsNeverShareAnObject(t *testing.T) {
	bucket := newFakeBucket()
	store := NewS3StoreWithClient(bucket, bucket, "models", "")
	ctx := context.Background()

	payloads := []string{"first", "second"}
	infos := make([]*domain.ArtifactInfo, len(payloads))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, payload := range payloads {
		wg.Add(1)
		go func(i int, payload string) {
			defer wg.Done()
			<-start
			info, err := store.Put(ctx, "m/1/artifact", strings.NewReader(payload))
			assert.NoError(t, err)
			infos[i] = info
		}(i, payload)
	}
	close(start)
	wg.Wait()

	require.NotNil(t, infos[0])
	require.NotNil(t, infos[1])
	assert.NotEqual(t, infos[0].Path, infos[1].Path)
	assert.Zero(t, bucket.overwrites)

	// The losing registration rolls back its own object only.
	require.NoError(t, store.Delete(ctx, infos[1].Path))

	rc, err := store.Open(ctx, infos[0].Path)
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "first", string(body))
}

func TestS3Store_RevisionTracksReplacement(t *testing.T) {
	bucket := newFakeBucket()
	store := NewS3StoreWithClient(bucket, bucket, "models", "")
	ctx := context.Background()

	info, err := store.Put(ctx, "m/1/artifact", strings.NewReader("hello"))
	require.NoError(t, err)

	bucket.put(info.Path, []byte("garbage{"))
	st, err := store.Stat(ctx, info.Path)
	require.NoError(t, err)
	assert.NotEqual(t, info.Revision, st.Revision)
}

func TestS3Store_TooLargeBody(t *testing.T) {
	bucket := newFakeBucket()
	store := NewS3StoreWithClient(bucket, bucket, "models", "")

	_, err := store.Put(context.Background(), "m/1/artifact", io.MultiReader(strings.NewReader("part"), failingReader{}))
	assert.ErrorIs(t, err, domain.ErrArtifactTooLarge)
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(&config.S3Config{Region: "us-east-1"})
	assert.Error(t, err)
}
