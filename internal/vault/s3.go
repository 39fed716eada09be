package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"balloon-go/internal/balloon"
	"balloon-go/internal/config"
)

// S3API is the subset of the S3 client used by S3Vault.
type S3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Vault stores objects in an S3 bucket, optionally below a key prefix.
// Uploads go through the multipart upload manager so the size does not have
// to be known in advance.
type S3Vault struct {
	client   S3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Vault creates a vault on top of an existing client.
func NewS3Vault(client S3API, bucket, prefix string) *S3Vault {
	return &S3Vault{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}
}

// NewS3Client builds an S3 client from the vault configuration. Static
// credentials are used when both keys are set, otherwise the default
// credential chain applies.
func NewS3Client(ctx context.Context, cfg config.VaultConfig) (*s3.Client, error) {
	opts := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// MinIO and friends need path-style addressing.
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (v *S3Vault) key(id string) string {
	return path.Join(v.prefix, id)
}

// PutBlob uploads the object. When size is known the uploaded byte count is
// verified and a short or long upload is removed again.
func (v *S3Vault) PutBlob(ctx context.Context, id string, r io.Reader, size int64) error {
	counter := &countingReader{r: r}
	_, err := v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(id)),
		Body:   counter,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object to S3: %w", err)
	}

	if size >= 0 && counter.n != size {
		if derr := v.DeleteBlob(context.WithoutCancel(ctx), id); derr != nil {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d (cleanup: %v)", size, counter.n, derr)
		}
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counter.n)
	}
	return nil
}

// OpenBlob streams the object body.
func (v *S3Vault) OpenBlob(ctx context.Context, id string) (io.ReadCloser, error) {
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(id)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("object %s: %w", id, balloon.ErrBlobNotFound)
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	return out.Body, nil
}

// DeleteBlob removes the object. S3 treats deleting a missing key as success.
func (v *S3Vault) DeleteBlob(ctx context.Context, id string) error {
	_, err := v.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(id)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to delete object from S3: %w", err)
	}
	return nil
}

// ValidateSetup verifies bucket access. The bucket must already exist.
func (v *S3Vault) ValidateSetup(ctx context.Context) error {
	_, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(v.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to access bucket %q: %w", v.bucket, err)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

var _ balloon.Vault = (*S3Vault)(nil)
