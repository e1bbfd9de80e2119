package publisher

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"

	"github.com/pagehaul/pagehaul/internal/config"
)

// fakeS3 is an in-memory S3 API double.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	failPut bool
}

// errPutRejected simulates a failed upload.
var errPutRejected = errors.New("put rejected")

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (f *fakeS3) PutObject(
	_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options),
) (*s3.PutObjectOutput, error) {
	if f.failPut {
		return nil, errPutRejected
	}

	contents, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.objects[aws.ToString(input.Key)] = contents
	f.types[aws.ToString(input.Key)] = aws.ToString(input.ContentType)

	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(
	_ context.Context, input *s3.ListObjectsV2Input, _ ...func(*s3.Options),
) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var contents []s3types.Object

	prefix := aws.ToString(input.Prefix)
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			contents = append(contents, s3types.Object{Key: aws.String(key)})
		}
	}

	return &s3.ListObjectsV2Output{
		Contents:    contents,
		IsTruncated: aws.Bool(false),
	}, nil
}

func (f *fakeS3) DeleteObjects(
	_ context.Context, input *s3.DeleteObjectsInput, _ ...func(*s3.Options),
) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, object := range input.Delete.Objects {
		delete(f.objects, aws.ToString(object.Key))
		delete(f.types, aws.ToString(object.Key))
	}

	return &s3.DeleteObjectsOutput{}, nil
}

// TestPublishBucket_UploadsAndDeletesOrphans synchronizes a tree and
// checks orphaned remote objects are removed.
func TestPublishBucket_UploadsAndDeletesOrphans(t *testing.T) {
	t.Parallel()

	fake := newFakeS3()
	fake.objects["stale.html"] = []byte("old")

	tree := newMemTree(t, map[string]string{
		"index.html":    "<html></html>",
		"css/style.css": "body {}",
	})

	cfg := &config.BucketConfig{Name: "site-bucket"}

	require.NoError(t, publishBucket(context.Background(), tree, cfg, fake))

	require.Equal(t, []byte("<html></html>"), fake.objects["index.html"])
	require.Equal(t, []byte("body {}"), fake.objects["css/style.css"])
	require.NotContains(t, fake.objects, "stale.html")

	require.Contains(t, fake.types["index.html"], "text/html")
	require.Contains(t, fake.types["css/style.css"], "text/css")
}

// TestPublishBucket_PrefixScopesKeys keeps everything under the prefix.
func TestPublishBucket_PrefixScopesKeys(t *testing.T) {
	t.Parallel()

	fake := newFakeS3()
	// An object outside the prefix must survive the sync.
	fake.objects["other/app.js"] = []byte("js")

	tree := newMemTree(t, map[string]string{"index.html": "<html></html>"})
	cfg := &config.BucketConfig{Name: "site-bucket", Prefix: "store"}

	require.NoError(t, publishBucket(context.Background(), tree, cfg, fake))

	require.Contains(t, fake.objects, "store/index.html")
	require.Contains(t, fake.objects, "other/app.js")
}

// TestPublishBucket_UploadFailure surfaces the first failed upload.
func TestPublishBucket_UploadFailure(t *testing.T) {
	t.Parallel()

	fake := newFakeS3()
	fake.failPut = true

	tree := newMemTree(t, map[string]string{"index.html": "<html></html>"})
	cfg := &config.BucketConfig{Name: "site-bucket"}

	err := publishBucket(context.Background(), tree, cfg, fake)
	require.ErrorIs(t, err, errPutRejected)
}
