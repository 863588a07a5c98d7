package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/trobanga/sisyphus/internal/models"
)

// Backend stores the bytes of one storage tier, addressed by paths relative to its root
type Backend interface {
	Stat(ctx context.Context, key string) (size int64, exists bool, err error)
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Write(ctx context.Context, key string, r io.Reader, size int64) error
}

// OpenBackend builds the backend for a storage definition
func OpenBackend(ctx context.Context, s models.Storage) (Backend, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	switch s.Kind {
	case models.StorageKindServer:
		return NewFSBackend(s.Directory), nil
	case models.StorageKindBlob:
		return NewS3Backend(ctx, s)
	default:
		return nil, fmt.Errorf("storage %s: unsupported storage_type %s", s.Name, s.Kind)
	}
}

// sanitizeKey keeps keys relative and inside the storage root
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid absolute key %q", key)
	}
	clean := path.Clean(filepath.ToSlash(key))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid key traversal %q", key)
	}
	return clean, nil
}

// FSBackend is a server storage: a directory on a mounted filesystem
type FSBackend struct {
	root string
}

// NewFSBackend returns a backend rooted at dir
func NewFSBackend(dir string) *FSBackend {
	return &FSBackend{root: dir}
}

// Root returns the storage directory
func (b *FSBackend) Root() string {
	return b.root
}

func (b *FSBackend) pathFor(key string) (string, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.root, filepath.FromSlash(k)), nil
}

// Stat reports the size of a file, or exists=false when it is absent
func (b *FSBackend) Stat(_ context.Context, key string) (int64, bool, error) {
	p, err := b.pathFor(key)
	if err != nil {
		return 0, false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if info.IsDir() {
		return 0, false, fmt.Errorf("%s is a directory", p)
	}
	return info.Size(), true, nil
}

// Open opens a file for reading
func (b *FSBackend) Open(_ context.Context, key string) (io.ReadCloser, int64, error) {
	p, err := b.pathFor(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// Write stores r under key. The file appears atomically via temp file and rename
func (b *FSBackend) Write(ctx context.Context, key string, r io.Reader, _ int64) error {
	p, err := b.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", key, err)
	}

	tmp := fmt.Sprintf("%s.tmp-%s", p, uuid.New().String())
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(f, readerWithContext(ctx, r))
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp)
		if copyErr != nil {
			return copyErr
		}
		return closeErr
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// S3Backend is a blob storage: a bucket prefix on an S3-compatible object store
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Backend creates a blob backend from a storage definition.
// Credentials come from the default AWS chain
func NewS3Backend(ctx context.Context, s models.Storage) (*S3Backend, error) {
	if s.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := s.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config for storage %s: %w", s.Name, err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s.PathStyle {
			o.UsePathStyle = true
		}
		if s.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.Endpoint)
		}
	})
	return NewS3BackendWithClient(client, s.Bucket, s.Prefix), nil
}

// NewS3BackendWithClient wraps an already configured client
func NewS3BackendWithClient(client *s3.Client, bucket string, prefix string) *S3Backend {
	return &S3Backend{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (b *S3Backend) objectKey(key string) (string, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	if b.prefix == "" {
		return k, nil
	}
	return b.prefix + "/" + k, nil
}

func isS3NotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == 404
}

// Stat reports the size of an object, or exists=false when it is absent
func (b *S3Backend) Stat(ctx context.Context, key string) (int64, bool, error) {
	k, err := b.objectKey(key)
	if err != nil {
		return 0, false, err
	}
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &b.bucket, Key: &k})
	if err != nil {
		if isS3NotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return aws.ToInt64(out.ContentLength), true, nil
}

// Open opens an object for reading
func (b *S3Backend) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	k, err := b.objectKey(key)
	if err != nil {
		return nil, 0, err
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &b.bucket, Key: &k})
	if err != nil {
		return nil, 0, err
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// Write uploads r under key. Non-seekable readers are spooled to a temp file first,
// since the SDK needs to rewind the body for signing and retries
func (b *S3Backend) Write(ctx context.Context, key string, r io.Reader, size int64) error {
	k, err := b.objectKey(key)
	if err != nil {
		return err
	}

	body, ok := r.(io.ReadSeeker)
	if !ok {
		spool, err := os.CreateTemp("", "sisyphus-upload-*")
		if err != nil {
			return fmt.Errorf("spool upload of %s: %w", key, err)
		}
		defer func() {
			_ = spool.Close()
			_ = os.Remove(spool.Name())
		}()
		n, err := io.Copy(spool, readerWithContext(ctx, r))
		if err != nil {
			return fmt.Errorf("spool upload of %s: %w", key, err)
		}
		if _, err := spool.Seek(0, io.SeekStart); err != nil {
			return err
		}
		body, size = spool, n
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &b.bucket,
		Key:           &k,
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	return err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// readerWithContext stops a long copy once ctx is cancelled
func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
