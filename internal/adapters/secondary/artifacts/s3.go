package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/google/uuid"

	"model-serving-gateway/internal/config"
	"model-serving-gateway/internal/core/domain"
	"model-serving-gateway/internal/core/ports/output"
)

type s3Store struct {
	client   s3iface.S3API
	uploader s3manageriface.UploaderAPI
	bucket   string
	prefix   string
}

// NewS3Store builds a store on an S3 (or S3 compatible) bucket.
func NewS3Store(cfg *config.S3Config) (ports.ArtifactStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	if cfg.ForcePathStyle {
		awsCfg = awsCfg.WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	client := s3.New(sess)
	return NewS3StoreWithClient(client, s3manager.NewUploaderWithClient(client), cfg.Bucket, cfg.Prefix), nil
}

func NewS3StoreWithClient(client s3iface.S3API, uploader s3manageriface.UploaderAPI, bucket, prefix string) ports.ArtifactStore {
	return &s3Store{
		client:   client,
		uploader: uploader,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}
}

func (s *s3Store) key(p string) string {
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	if s.prefix == "" {
		return clean
	}
	return s.prefix + "/" + clean
}

// Put uploads r under a key no other call can pick: the requested path plus a
// random suffix. The returned info carries that published path. S3 has no
// create-exclusive write in this SDK, so racing registrations of one version
// land on distinct objects and a rollback can only ever remove its own.
func (s *s3Store) Put(ctx context.Context, p string, r io.Reader) (*domain.ArtifactInfo, error) {
	published := p + "-" + uuid.NewString()

	hash := sha256.New()
	counter := &countingReader{r: io.TeeReader(r, hash)}
	out, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(published)),
		Body:        counter,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		// s3manager wraps body read errors in awserr values that do not unwrap.
		if errors.Is(err, domain.ErrArtifactTooLarge) || strings.Contains(err.Error(), domain.ErrArtifactTooLarge.Error()) {
			return nil, domain.ErrArtifactTooLarge
		}
		return nil, fmt.Errorf("upload artifact: %w", err)
	}

	return &domain.ArtifactInfo{
		Path:      published,
		Digest:    "sha256:" + hex.EncodeToString(hash.Sum(nil)),
		Size:      counter.n,
		CreatedAt: time.Now().UTC(),
		Revision:  objectRevision(aws.StringValue(out.ETag), counter.n),
	}, nil
}

func (s *s3Store) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrArtifactMissing
		}
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return out.Body, nil
}

func (s *s3Store) Stat(ctx context.Context, p string) (*domain.ArtifactInfo, error) {
	out, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrArtifactMissing
		}
		return nil, fmt.Errorf("head artifact: %w", err)
	}
	size := aws.Int64Value(out.ContentLength)
	return &domain.ArtifactInfo{
		Path:      p,
		Size:      size,
		CreatedAt: aws.TimeValue(out.LastModified).UTC(),
		Revision:  objectRevision(aws.StringValue(out.ETag), size),
	}, nil
}

func objectRevision(etag string, size int64) string {
	return fmt.Sprintf("%s-%d", strings.Trim(etag, `"`), size)
}

func (s *s3Store) Delete(ctx context.Context, p string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
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
