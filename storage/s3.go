package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/johnwmail/quickbin/models"
)

// s3API is the subset of the S3 client used by S3Store.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store implements SnippetStore on an S3 bucket.
//
// Each snippet is a JSON object at <prefix>snippets/<id>.json plus an empty
// marker at <prefix>expiry/<unix nanos>/<id>. S3 lists keys in lexical
// order, so ScanExpired reads the marker prefix from the start and stops at
// the first marker that is still live.
type S3Store struct {
	bucket  string
	prefix  string
	client  s3API
	timeout time.Duration
	logger  *slog.Logger

	// index keys handed out by ScanExpired whose data object may already
	// be gone, keyed by id
	pending sync.Map
}

// NewS3Store creates a new S3Store instance
func NewS3Store(ctx context.Context, bucket, prefix string, timeout time.Duration, logger *slog.Logger) (*S3Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket name must not be empty")
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newS3StoreWithClient(s3.NewFromConfig(cfg), bucket, prefix, timeout, logger), nil
}

func newS3StoreWithClient(client s3API, bucket, prefix string, timeout time.Duration, logger *slog.Logger) *S3Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Store{
		bucket:  bucket,
		prefix:  normalizeS3Prefix(prefix),
		client:  client,
		timeout: timeout,
		logger:  logger,
	}
}

// Put writes the data object with If-None-Match so an existing id is never
// overwritten, then writes the expiry marker.
func (s *S3Store) Put(ctx context.Context, snippet *models.Snippet) error {
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	data, err := json.Marshal(snippet)
	if err != nil {
		return fmt.Errorf("put: marshal snippet: %w", err)
	}

	dataKey := applyS3Prefix(s.prefix, s3DataKey(snippet.ID))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(dataKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		if isS3PreconditionFailed(err) {
			return ErrDuplicateID
		}
		s.logAWSError("put data object", snippet.ID, err)
		return unavailable("put", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(applyS3Prefix(s.prefix, s3ExpiryKey(snippet.ExpiresAt, snippet.ID))),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		s.logAWSError("put expiry marker", snippet.ID, err)
		// without a marker the reaper would never find the record
		_, _ = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(dataKey),
		})
		return unavailable("put", err)
	}
	return nil
}

// Get fetches and decodes the data object.
func (s *S3Store) Get(ctx context.Context, id string, now time.Time) (*models.Snippet, error) {
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	snippet, err := s.load(ctx, id)
	if err != nil {
		return nil, unavailable("get", err)
	}
	if snippet == nil || snippet.IsExpired(now) {
		return nil, nil
	}
	return snippet, nil
}

func (s *S3Store) load(ctx context.Context, id string) (*models.Snippet, error) {
	obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(applyS3Prefix(s.prefix, s3DataKey(id))),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() {
		_ = obj.Body.Close()
	}()
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", id, err)
	}
	var snippet models.Snippet
	if err := json.Unmarshal(data, &snippet); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return &snippet, nil
}

// Delete removes the expiry marker and the data object.
func (s *S3Store) Delete(ctx context.Context, id string) error {
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	var markers []string
	if key, ok := s.pending.Load(id); ok {
		markers = append(markers, key.(string))
	}
	snippet, err := s.load(ctx, id)
	if err != nil {
		return unavailable("delete", err)
	}
	if snippet != nil {
		marker := applyS3Prefix(s.prefix, s3ExpiryKey(snippet.ExpiresAt, id))
		if len(markers) == 0 || markers[0] != marker {
			markers = append(markers, marker)
		}
	}

	for _, key := range append(markers, applyS3Prefix(s.prefix, s3DataKey(id))) {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil && !isS3NotFound(err) {
			return unavailable("delete", err)
		}
	}
	s.pending.Delete(id)
	return nil
}

// ScanExpired lists expiry markers in key order up to now.
func (s *S3Store) ScanExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	cutoff := expiryNanos(now)
	markerPrefix := applyS3Prefix(s.prefix, s3ExpiryDir)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(markerPrefix),
	})

	var ids []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, unavailable("scan expired", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			nanos, id, err := parseS3ExpiryKey(strings.TrimPrefix(key, s.prefix))
			if err != nil {
				s.logger.Warn("skipping malformed expiry marker", "key", key, "error", err)
				continue
			}
			if nanos > cutoff {
				return ids, nil
			}
			s.pending.Store(id, key)
			ids = append(ids, id)
			if limit > 0 && len(ids) >= limit {
				return ids, nil
			}
		}
	}
	return ids, nil
}

// Count lists every data object; S3 has no cheaper way.
func (s *S3Store) Count(ctx context.Context) (int64, error) {
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(applyS3Prefix(s.prefix, s3DataDir)),
	})
	var n int64
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, unavailable("count", err)
		}
		n += int64(len(page.Contents))
	}
	return n, nil
}

func (s *S3Store) Close() error {
	return nil
}

func (s *S3Store) logAWSError(op, id string, err error) {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		s.logger.Error("s3 request failed", "op", op, "id", id, "bucket", s.bucket,
			"code", apiErr.ErrorCode(), "message", apiErr.ErrorMessage())
		return
	}
	s.logger.Error("s3 request failed", "op", op, "id", id, "bucket", s.bucket, "error", err)
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	// Also check for HTTP status code 404 in the error message as fallback
	return strings.Contains(err.Error(), "StatusCode: 404")
}

func isS3PreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return strings.Contains(err.Error(), "StatusCode: 412")
}
