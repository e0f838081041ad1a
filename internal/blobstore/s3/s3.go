// Package s3 implements blobstore.Backend on S3-compatible object storage.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"homeserver/internal/blobstore"
)

// ID is the default backend id of the S3 backend.
const ID = "s3"

var errWriteAborted = errors.New("upload aborted")

// Config options for the S3 backend.
type Config struct {
	ID              string // backend id recorded in entries, defaults to "s3"
	Region          string
	Bucket          string
	Prefix          string // optional key prefix inside the bucket
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // custom endpoint for S3-compatible services
	UsePathStyle    bool
	PartSize        int64 // multipart part size, defaults to the manager's 5 MiB
}

// Backend stores objects in one bucket.
type Backend struct {
	id       string
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

var _ blobstore.Backend = (*Backend)(nil)

// New creates an S3 backend from cfg.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.ID == "" {
		cfg.ID = ID
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
		// S3-compatible stores often reject the SDK's default trailing checksums.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSize > 0 {
			u.PartSize = cfg.PartSize
		}
	})

	return &Backend{
		id:       cfg.ID,
		client:   client,
		uploader: uploader,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (b *Backend) ID() string { return b.id }

// OpenWrite streams the object through a pipe into a multipart upload that
// runs in the background. The object only exists once Commit returns nil.
func (b *Backend) OpenWrite(ctx context.Context, key string) (blobstore.WriteHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	objectKey, err := b.objectKey(key)
	if err != nil {
		return nil, err
	}

	uploadCtx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	h := &writeHandle{pw: pw, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		_, err := b.uploader.Upload(uploadCtx, &s3.PutObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(objectKey),
			Body:   pr,
		})
		if err != nil {
			h.err = fmt.Errorf("upload object: %w", err)
		}
		_ = pr.CloseWithError(h.err)
	}()
	return h, nil
}

func (b *Backend) OpenRead(ctx context.Context, key string, r blobstore.ByteRange) (io.ReadCloser, error) {
	objectKey, err := b.objectKey(key)
	if err != nil {
		return nil, err
	}
	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	}
	if !r.IsFull() {
		if r.Length == 0 {
			return io.NopCloser(strings.NewReader("")), nil
		}
		if r.Length < 0 {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-", r.Offset))
		} else {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", r.Offset, r.Offset+r.Length-1))
		}
	}

	result, err := b.client.GetObject(ctx, input)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, key)
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	return result.Body, nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	objectKey, err := b.objectKey(key)
	if err != nil {
		return err
	}
	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (b *Backend) Stat(ctx context.Context, key string) (int64, error) {
	objectKey, err := b.objectKey(key)
	if err != nil {
		return 0, err
	}
	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("%w: %s", blobstore.ErrNotFound, key)
		}
		return 0, fmt.Errorf("head object: %w", err)
	}
	return aws.ToInt64(result.ContentLength), nil
}

func (b *Backend) objectKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	if b.prefix == "" {
		return key, nil
	}
	return path.Join(b.prefix, key), nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NotFound", "NoSuchKey":
		return true
	}
	return false
}

type writeHandle struct {
	mu     sync.Mutex
	pw     *io.PipeWriter
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	closed bool
}

func (h *writeHandle) Write(p []byte) (int, error) {
	n, err := h.pw.Write(p)
	if err != nil {
		<-h.done
		if h.err != nil {
			return n, h.err
		}
	}
	return n, err
}

func (h *writeHandle) Commit() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("write handle already closed")
	}
	h.closed = true
	_ = h.pw.Close()
	<-h.done
	h.cancel()
	return h.err
}

// Abort fails the pipe so the uploader aborts any multipart upload it
// started.
func (h *writeHandle) Abort() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	_ = h.pw.CloseWithError(errWriteAborted)
	h.cancel()
	<-h.done
	return nil
}
