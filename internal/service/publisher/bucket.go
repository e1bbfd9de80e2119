package publisher

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"github.com/pagehaul/pagehaul/internal/config"
	"github.com/pagehaul/pagehaul/internal/logger"
	"github.com/pagehaul/pagehaul/internal/site"
)

const (
	// uploadConcurrency bounds parallel object uploads.
	uploadConcurrency = 8

	// deleteBatchSize is the S3 limit for one DeleteObjects call.
	deleteBatchSize = 1000
)

// s3API is the slice of the S3 client the bucket backend uses. Tests
// substitute a fake.
type s3API interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, input *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// newBucketClient builds an S3 client for the configured bucket.
func newBucketClient(ctx context.Context, cfg *config.BucketConfig) (s3API, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(options *s3.Options) {
		if cfg.Endpoint != "" {
			options.BaseEndpoint = aws.String(cfg.Endpoint)
			options.UsePathStyle = true
		}
	})

	return client, nil
}

// publishBucket synchronizes the asset tree to the bucket: uploads every
// local file, then deletes remote objects with no local counterpart.
func publishBucket(ctx context.Context, tree *site.Tree, cfg *config.BucketConfig, client s3API) error {
	files, err := tree.Files()
	if err != nil {
		return err
	}

	local := make(map[string]struct{}, len(files))
	for _, name := range files {
		local[objectKey(cfg.Prefix, name)] = struct{}{}
	}

	if err = uploadFiles(ctx, tree, cfg, client, files); err != nil {
		return err
	}

	remote, err := listRemoteKeys(ctx, cfg, client)
	if err != nil {
		return err
	}

	var orphans []string

	for _, key := range remote {
		if _, found := local[key]; !found {
			orphans = append(orphans, key)
		}
	}

	if err = deleteKeys(ctx, cfg, client, orphans); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Synchronized bucket",
		"bucket", cfg.Name, "uploaded", len(files), "deleted", len(orphans))

	return nil
}

// uploadFiles uploads every file of the tree with bounded concurrency.
func uploadFiles(
	ctx context.Context,
	tree *site.Tree,
	cfg *config.BucketConfig,
	client s3API,
	files []string,
) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(uploadConcurrency)

	for _, name := range files {
		group.Go(func() error {
			contents, err := tree.ReadFile(name)
			if err != nil {
				return err
			}

			_, err = client.PutObject(groupCtx, &s3.PutObjectInput{
				Bucket:      aws.String(cfg.Name),
				Key:         aws.String(objectKey(cfg.Prefix, name)),
				Body:        bytes.NewReader(contents),
				ContentType: aws.String(contentType(name, contents)),
			})
			if err != nil {
				return fmt.Errorf("upload %s: %w", name, err)
			}

			return nil
		})
	}

	return group.Wait()
}

// listRemoteKeys returns every object key under the configured prefix.
func listRemoteKeys(ctx context.Context, cfg *config.BucketConfig, client s3API) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(cfg.Name),
	}

	if cfg.Prefix != "" {
		input.Prefix = aws.String(cfg.Prefix + "/")
	}

	var keys []string

	paginator := s3.NewListObjectsV2Paginator(client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list bucket objects: %w", err)
		}

		for _, object := range page.Contents {
			keys = append(keys, aws.ToString(object.Key))
		}
	}

	sort.Strings(keys)

	return keys, nil
}

// deleteKeys removes the provided keys in batches.
func deleteKeys(ctx context.Context, cfg *config.BucketConfig, client s3API, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))

		objects := make([]s3types.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			objects = append(objects, s3types.ObjectIdentifier{
				Key: aws.String(key),
			})
		}

		_, err := client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(cfg.Name),
			Delete: &s3types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("delete orphaned objects: %w", err)
		}
	}

	return nil
}

// objectKey joins the configured prefix with a relative file path.
func objectKey(prefix, name string) string {
	if prefix == "" {
		return name
	}

	return path.Join(prefix, name)
}

// contentType resolves the upload content type, preferring the file
// extension and falling back to content sniffing.
func contentType(name string, contents []byte) string {
	if byExtension := mime.TypeByExtension(path.Ext(name)); byExtension != "" {
		return byExtension
	}

	return mimetype.Detect(contents).String()
}
