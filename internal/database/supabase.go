package database

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hypernova-labs/anaf-service/internal/config"
	"github.com/sirupsen/logrus"
)

// SupabaseClient is the S3-compatible storage client holding the XML
// archive.
type SupabaseClient struct {
	s3Client *s3.Client
	config   *config.SupabaseConfig
	logger   *logrus.Logger
	bucket   string
}

// NewSupabaseClient builds the storage client against the project's S3
// endpoint.
func NewSupabaseClient(cfg *config.SupabaseConfig, bucket string, logger *logrus.Logger) (*SupabaseClient, error) {
	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL:               cfg.StorageEndpoint,
			SigningRegion:     cfg.StorageRegion,
			HostnameImmutable: true,
		}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithEndpointResolverWithOptions(customResolver),
		awsconfig.WithCredentialsProvider(credentials.StaticCredentialsProvider{
			Value: aws.Credentials{
				AccessKeyID:     cfg.AccessKeyID,
				SecretAccessKey: cfg.SecretAccessKey,
			},
		}),
		awsconfig.WithRegion(cfg.StorageRegion),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating AWS config: %w", err)
	}

	// Path-style addressing is required by the Supabase S3 gateway.
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &SupabaseClient{
		s3Client: s3Client,
		config:   cfg,
		logger:   logger,
		bucket:   bucket,
	}, nil
}

// HealthCheck verifies the archive bucket is reachable.
func (s *SupabaseClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := s.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("error checking storage connection: %w", err)
	}

	return nil
}

// Bucket returns the configured archive bucket name.
func (s *SupabaseClient) Bucket() string {
	return s.bucket
}

// UploadFile writes an object and returns its public URL.
func (s *SupabaseClient) UploadFile(ctx context.Context, bucketName, fileName string, fileData []byte) (string, error) {
	reader := bytes.NewReader(fileData)

	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucketName),
		Key:           aws.String(fileName),
		Body:          reader,
		ContentType:   aws.String("application/xml"),
		ContentLength: aws.Int64(int64(len(fileData))),
	})
	if err != nil {
		return "", fmt.Errorf("error uploading file to storage: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s", s.config.StorageEndpoint, bucketName, fileName)

	s.logger.WithFields(logrus.Fields{
		"bucket": bucketName,
		"file":   fileName,
		"size":   len(fileData),
	}).Info("File uploaded to storage")

	return url, nil
}

// DownloadFile reads an object's content.
func (s *SupabaseClient) DownloadFile(ctx context.Context, bucketName, fileName string) ([]byte, error) {
	result, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(fileName),
	})
	if err != nil {
		return nil, fmt.Errorf("error downloading file from storage: %w", err)
	}
	defer result.Body.Close()

	fileData, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading file content: %w", err)
	}

	return fileData, nil
}

// DeleteFile removes an object.
func (s *SupabaseClient) DeleteFile(ctx context.Context, bucketName, fileName string) error {
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(fileName),
	})
	if err != nil {
		return fmt.Errorf("error deleting file from storage: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"bucket": bucketName,
		"file":   fileName,
	}).Info("File deleted from storage")

	return nil
}
