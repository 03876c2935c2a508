package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hashicorp/go-hclog"

	"github.com/cartulary/cartulary/pkg/cartuerr"
)

// S3StoreConfig configures the S3-backed blob store.
type S3StoreConfig struct {
	Bucket string
	Region string

	// Endpoint overrides the S3 endpoint (MinIO and friends).
	Endpoint string

	// Static credentials. When empty the default credential chain is used.
	AccessKey string
	SecretKey string

	Logger hclog.Logger
}

// S3Store implements Store on an S3 bucket. Keys mirror the local
// sharded layout.
type S3Store struct {
	client *s3.Client
	bucket string
	logger hclog.Logger
}

// NewS3Store creates an S3 blob store.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.Named("s3-store"),
	}, nil
}

// Put uploads the blob, converting supported images to PDF first.
func (s *S3Store) Put(ctx context.Context, docID, filename string, r io.Reader) (*SaveResult, error) {
	name, err := SanitizeFilename(filename)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(name))
	if IsImageExtension(ext) {
		pdf, err := convertImageToPDF(r)
		if err != nil {
			return nil, fmt.Errorf("failed to convert image to PDF: %w", err)
		}
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".pdf"
		r = bytes.NewReader(pdf)
	}

	// S3 wants a seekable body or a known length; buffer the upload.
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	rel := BlobKey(docID, name)
	mimeType := MimeTypeFor(name)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(rel),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload blob: %w", err)
	}

	return &SaveResult{
		RelativePath:  rel,
		FinalFilename: name,
		MimeType:      mimeType,
		Size:          int64(len(body)),
	}, nil
}

// Open streams the stored blob.
func (s *S3Store) Open(ctx context.Context, relPath string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(relPath),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: blob %s", cartuerr.ErrNotFound, relPath)
		}
		return nil, fmt.Errorf("failed to fetch blob: %w", err)
	}
	return out.Body, nil
}

// Localize downloads the blob to a temp file; cleanup removes it.
func (s *S3Store) Localize(ctx context.Context, relPath string) (string, func(), error) {
	rc, err := s.Open(ctx, relPath)
	if err != nil {
		return "", nil, err
	}
	defer rc.Close()

	f, err := os.CreateTemp("", "cartulary-blob-*"+filepath.Ext(relPath))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("failed to stage blob: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("failed to stage blob: %w", err)
	}
	path := f.Name()
	return path, func() { os.Remove(path) }, nil
}

// Size returns the object's content length.
func (s *S3Store) Size(ctx context.Context, relPath string) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(relPath),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return 0, fmt.Errorf("%w: blob %s", cartuerr.ErrNotFound, relPath)
		}
		return 0, fmt.Errorf("failed to stat blob: %w", err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// Delete removes the object. S3 has no directories to prune.
func (s *S3Store) Delete(ctx context.Context, relPath string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(relPath),
	})
	if err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// Exists reports whether the object is present.
func (s *S3Store) Exists(ctx context.Context, relPath string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(relPath),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat blob: %w", err)
	}
	return true, nil
}

func isNoSuchKey(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}
