package artifacts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"aqiwatch/internal/model"
)

// S3API defines the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Config configures an S3Store.
type S3Config struct {
	Bucket string
	// Prefix is prepended to every key, e.g. "models".
	Prefix string
	// Timeout bounds each S3 call. A timeout is reported as unavailable.
	Timeout time.Duration
	Logger  *slog.Logger
}

// S3Store keeps artifacts in S3:
//
//	{prefix}/artifacts/{id}.json.zst
//	{prefix}/latest/{name}          (body: artifact id)
//
// The latest pointer is written after the artifact, so a reader following
// it never finds a missing object.
type S3Store struct {
	api     S3API
	bucket  string
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewS3Store creates an S3-backed store.
func NewS3Store(api S3API, cfg S3Config) *S3Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &S3Store{
		api:     api,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		timeout: timeout,
		logger:  logger,
	}
}

func (s *S3Store) artifactKey(id string) string {
	return path.Join(s.prefix, "artifacts", id+artifactExt)
}

func (s *S3Store) latestKey(name string) string {
	return path.Join(s.prefix, "latest", name)
}

func (s *S3Store) Save(ctx context.Context, a *model.Artifact, name string) (string, error) {
	if err := validateSave(a, name); err != nil {
		return "", err
	}
	id, err := newID()
	if err != nil {
		return "", err
	}
	data, err := model.MarshalArtifact(stamp(a, id, name))
	if err != nil {
		return "", err
	}

	if err := s.put(ctx, s.artifactKey(id), data, "application/zstd"); err != nil {
		return "", unavailable("put_artifact", err)
	}
	if err := s.put(ctx, s.latestKey(name), []byte(id), "text/plain"); err != nil {
		return "", unavailable("put_latest", err)
	}

	s.logger.InfoContext(ctx, "artifact saved",
		"bucket", s.bucket,
		"key", s.artifactKey(id),
		"name", name,
		"bytes", len(data),
	)
	return id, nil
}

func (s *S3Store) Load(ctx context.Context, id string) (*model.Artifact, error) {
	if !validID(id) {
		return nil, notFound(id)
	}
	data, err := s.get(ctx, s.artifactKey(id))
	if err != nil {
		if isNotFound(err) {
			return nil, notFound(id)
		}
		return nil, unavailable("get_artifact", err)
	}
	return model.UnmarshalArtifact(data)
}

func (s *S3Store) Latest(ctx context.Context, name string) (*model.Artifact, error) {
	data, err := s.get(ctx, s.latestKey(name))
	if err != nil {
		if isNotFound(err) {
			return nil, notFound(name)
		}
		return nil, unavailable("get_latest", err)
	}
	return s.Load(ctx, strings.TrimSpace(string(data)))
}

// Ping verifies the bucket is reachable with the current credentials.
func (s *S3Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return unavailable("head_bucket", err)
	}
	return nil
}

func (s *S3Store) put(ctx context.Context, key string, body []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	return err
}

func (s *S3Store) get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

var (
	_ Store  = (*S3Store)(nil)
	_ Pinger = (*S3Store)(nil)
)
