// Package blobstore stores opaque ciphertext blobs in S3-compatible object
// storage. It never sees plaintext or keys; server-side encryption at rest is
// requested as defense-in-depth on top of the application-layer ciphertext.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/heirkeep/vault/internal/common"
)

// s3API is the subset of the S3 client used by the store; tests substitute fakes.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store holds the S3 clients and target bucket.
type Store struct {
	api     s3API
	presign presignAPI
	bucket  string
}

// Options configures the S3 connection for New.
type Options struct {
	Bucket       string
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
}

// New builds a Store against a real S3 endpoint (AWS or MinIO-style).
func New(ctx context.Context, opts Options) (*Store, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx,
		awscfg.WithRegion(opts.Region),
		awscfg.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKey, opts.SecretKey, "",
		)))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(opts.BaseEndpoint)
		}
		o.UsePathStyle = opts.BaseEndpoint != ""
	})

	return &Store{api: client, presign: s3.NewPresignClient(client), bucket: opts.Bucket}, nil
}

// NewWithClients builds a Store around pre-built clients. Used in tests.
func NewWithClients(api s3API, presign presignAPI, bucket string) *Store {
	return &Store{api: api, presign: presign, bucket: bucket}
}

// ObjectKey derives the deterministic locator for a vault blob.
func ObjectKey(ownerID, fileID, kind string) string {
	return fmt.Sprintf("vault_files/%s/%s/%s.bin", ownerID, fileID, kind)
}

// Upload stores a ciphertext blob and returns its locator key. Empty payloads
// are rejected before any network call.
func (s *Store) Upload(ctx context.Context, data []byte, fileID, ownerID, kind string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: cannot upload empty blob (file %s)", common.ErrBlobUpload, fileID)
	}

	key := ObjectKey(ownerID, fileID, kind)

	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(data),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
		Metadata: map[string]string{
			"user_id":    ownerID,
			"file_id":    fileID,
			"encryption": "AES-256-GCM",
		},
	})
	if err != nil {
		if isAccessDenied(err) {
			return "", fmt.Errorf("%w: put %s", common.ErrBlobAccessDenied, key)
		}
		return "", fmt.Errorf("%w: put %s: %v", common.ErrBlobUpload, key, err)
	}
	return key, nil
}

// Download fetches a ciphertext blob. A missing object maps to
// common.ErrFileNotFound so the orchestrator can surface a domain-level
// not-found rather than a generic I/O failure.
func (s *Store) Download(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty object key", common.ErrBlobDownload)
	}

	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: blob %s", common.ErrFileNotFound, key)
		}
		if isAccessDenied(err) {
			return nil, fmt.Errorf("%w: get %s", common.ErrBlobAccessDenied, key)
		}
		return nil, fmt.Errorf("%w: get %s: %v", common.ErrBlobDownload, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", common.ErrBlobDownload, key, err)
	}
	return data, nil
}

// PresignDownload issues a time-boxed GET URL for the blob. No access check
// happens here; the caller must already have authorized the requester.
func (s *Store) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty object key", common.ErrBlobDownload)
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("%w: presign %s: %v", common.ErrBlobDownload, key, err)
	}
	return req.URL, nil
}

// Delete removes a blob. Callers on the file-deletion path treat a failure
// here as fire-and-log; metadata deletion stays authoritative.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty object key", common.ErrBlobDelete)
	}

	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isAccessDenied(err) {
			return fmt.Errorf("%w: delete %s", common.ErrBlobAccessDenied, key)
		}
		return fmt.Errorf("%w: delete %s: %v", common.ErrBlobDelete, key, err)
	}
	return nil
}

func isAccessDenied(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "AccessDenied"
}
