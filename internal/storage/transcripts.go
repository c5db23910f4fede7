package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/surpriz/queenmama/internal/domain"
)

// TranscriptStoreConfig holds configuration for TranscriptStore
type TranscriptStoreConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UsePathStyle    bool
}

// TranscriptStore persists session transcripts in S3-compatible storage
// (e.g., RustFS). Transcripts are written once at session end and read back
// by the extraction pipeline.
type TranscriptStore struct {
	client *s3.Client
	bucket string
}

// NewTranscriptStore creates a new TranscriptStore with the given configuration
func NewTranscriptStore(ctx context.Context, cfg TranscriptStoreConfig) (*TranscriptStore, error) {
	// Create custom resolver for S3-compatible endpoints
	customResolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			if cfg.Endpoint != "" {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		},
	)

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
		config.WithEndpointResolverWithOptions(customResolver),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Path-style addressing for S3-compatible services
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &TranscriptStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

func transcriptKey(sessionID string) string {
	return fmt.Sprintf("transcripts/%s.txt", sessionID)
}

// PutTranscript stores the transcript for a session, overwriting any
// previous version.
func (s *TranscriptStore) PutTranscript(ctx context.Context, sessionID, transcript string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(transcriptKey(sessionID)),
		Body:        bytes.NewReader([]byte(transcript)),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("failed to store transcript: %w", err)
	}
	return nil
}

// GetTranscript fetches a session's transcript. A missing object maps to
// ErrTranscriptNotFound.
func (s *TranscriptStore) GetTranscript(ctx context.Context, sessionID string) (string, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(transcriptKey(sessionID)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return "", domain.ErrTranscriptNotFound
		}
		return "", fmt.Errorf("failed to fetch transcript: %w", err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read transcript body: %w", err)
	}
	return string(data), nil
}

// DeleteTranscript removes a session's transcript
func (s *TranscriptStore) DeleteTranscript(ctx context.Context, sessionID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(transcriptKey(sessionID)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	return nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *TranscriptStore) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil // Bucket exists
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	return nil
}
