package terraform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// Source reads the raw bytes of a state document.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
	String() string
}

// LocalSource reads state from a file.
type LocalSource struct {
	Path string
}

// Read returns the file contents.
func (s LocalSource) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(filepath.Clean(s.Path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("state file %s does not exist", s.Path)
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	return data, nil
}

func (s LocalSource) String() string {
	return s.Path
}

// S3GetObjectAPI defines the S3 operation used to download state.
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads state from an S3 object.
type S3Source struct {
	Client S3GetObjectAPI
	Bucket string
	Key    string
}

// NewS3Source builds an S3 source using the default AWS credential chain.
func NewS3Source(ctx context.Context, bucket, key, region, profile string) (*S3Source, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Source{Client: s3.NewFromConfig(cfg), Bucket: bucket, Key: key}, nil
}

// Read downloads the object. Well-known S3 error codes become readable messages.
func (s *S3Source) Read(ctx context.Context) ([]byte, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
	})
	if err != nil {
		return nil, s.describe(err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object body: %w", err)
	}
	return data, nil
}

func (s *S3Source) String() string {
	return fmt.Sprintf("s3://%s/%s", s.Bucket, s.Key)
}

func (s *S3Source) describe(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("get object: %w", err)
	}
	switch apiErr.ErrorCode() {
	case "NoSuchBucket":
		return fmt.Errorf("bucket %q does not exist: %w", s.Bucket, err)
	case "NoSuchKey":
		return fmt.Errorf("state file %q not found in bucket %q: %w", s.Key, s.Bucket, err)
	case "AccessDenied":
		return fmt.Errorf("access denied to %s, check IAM permissions: %w", s, err)
	default:
		return fmt.Errorf("s3 error (%s): %w", apiErr.ErrorCode(), err)
	}
}
