// Package storage archives submitted recordings in an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/promorec/promorec/internal/upload"
)

type Storage struct {
	client   *s3.Client
	bucket   string
	prefix   string
	maxBytes int64
}

type Config struct {
	Endpoint       string
	Bucket         string
	AccessKey      string
	SecretKey      string
	Region         string
	Prefix         string
	MaxUploadBytes int64
}

func New(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Region == "" {
		cfg.Region = "eu-central-1"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &Storage{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		maxBytes: cfg.MaxUploadBytes,
	}, nil
}

// Key is where a recording for destination is stored.
func (s *Storage) Key(destination, filename string) string {
	if destination == "" {
		destination = "default"
	}
	return path.Join(s.prefix, destination, filename)
}

func captionKey(videoKey string) string {
	return strings.TrimSuffix(videoKey, path.Ext(videoKey)) + ".txt"
}

// Upload stores the recording and, when present, its caption next to it.
func (s *Storage) Upload(ctx context.Context, p upload.Payload) error {
	if s.maxBytes > 0 && int64(len(p.Asset)) > s.maxBytes {
		return &upload.RejectedError{Reason: fmt.Sprintf("file too large: %d > %d bytes", len(p.Asset), s.maxBytes)}
	}

	key := s.Key(p.Destination, p.Filename)
	if err := s.put(ctx, key, p.Asset, p.MIMEType); err != nil {
		return classify(fmt.Errorf("put object %s: %w", key, err))
	}
	if p.Caption != "" {
		ck := captionKey(key)
		if err := s.put(ctx, ck, []byte(p.Caption), "text/plain; charset=utf-8"); err != nil {
			return classify(fmt.Errorf("put object %s: %w", ck, err))
		}
	}

	slog.Info("storage: recording archived", "key", key, "size", len(p.Asset))
	return nil
}

func (s *Storage) put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	return err
}

// classify splits errors the service answered with from everything else.
func classify(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return &upload.TransportError{Err: err}
	}
	code := 0
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		code = respErr.HTTPStatusCode()
	}
	reason := apiErr.ErrorCode()
	if msg := apiErr.ErrorMessage(); msg != "" {
		reason += ": " + msg
	}
	return &upload.RejectedError{Code: code, Reason: reason}
}

func (s *Storage) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}

	return nil
}
