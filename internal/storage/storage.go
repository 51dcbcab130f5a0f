package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"coursejobs/internal/config"
)

// ObjectStore writes subtitle files and hands out URLs to fetch them.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	URL(ctx context.Context, key string) (string, error)
}

// New picks S3 when a bucket is configured and the local directory otherwise.
func New(ctx context.Context, cfg *config.Config) (ObjectStore, error) {
	if cfg.S3Bucket == "" {
		return NewLocal(cfg.StorageDir, cfg.StoragePublicURL), nil
	}
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewS3(client, cfg.S3Bucket, cfg.PresignTTL), nil
}

func newS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	}), nil
}

var errBadKey = errors.New("object key escapes the storage root")

func sanitizeKey(key string) (string, error) {
	key = filepath.ToSlash(filepath.Clean("/" + key))
	key = strings.TrimPrefix(key, "/")
	if key == "" || key == "." || strings.HasPrefix(key, "../") {
		return "", fmt.Errorf("%w: %q", errBadKey, key)
	}
	return key, nil
}

// S3Store keeps objects in a bucket and serves presigned GET URLs.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
}

func NewS3(client *s3.Client, bucket string, ttl time.Duration) *S3Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &S3Store{client: client, presign: s3.NewPresignClient(client), bucket: bucket, ttl: ttl}
}

func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	key, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (s *S3Store) URL(ctx context.Context, key string) (string, error) {
	key, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return req.URL, nil
}

// LocalStore writes objects under a directory served at a public base URL.
type LocalStore struct {
	baseDir   string
	publicURL string
}

func NewLocal(baseDir, publicURL string) *LocalStore {
	if baseDir == "" {
		baseDir = "./output"
	}
	return &LocalStore{baseDir: baseDir, publicURL: strings.TrimRight(publicURL, "/")}
}

func (l *LocalStore) Put(_ context.Context, key string, body []byte, _ string) error {
	key, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	path := filepath.Join(l.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

func (l *LocalStore) URL(_ context.Context, key string) (string, error) {
	key, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return l.publicURL + "/" + strings.Join(parts, "/"), nil
}
