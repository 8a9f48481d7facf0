package reference

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3ArtifactStore is an ArtifactStore backed by an S3-compatible object
// store, for deployments where fleetd and the capture workers run on
// separate hosts and cannot share a local filesystem.
type S3ArtifactStore struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

// NewS3ArtifactStore builds an S3ArtifactStore from the default AWS
// credential chain (environment, shared config, or instance profile).
func NewS3ArtifactStore(ctx context.Context, bucket, baseURL string, endpoint string) (*S3ArtifactStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3ArtifactStore{client: client, bucket: bucket, baseURL: baseURL}, nil
}

func (s *S3ArtifactStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s/%s: %w", s.bucket, key, err)
	}
	return s.URL(key), nil
}

func (s *S3ArtifactStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3ArtifactStore) URL(key string) string {
	return s.baseURL + "/" + s.bucket + "/" + key
}
