// Package media stores post images in MinIO/S3. Uploads go directly
// from the client through a presigned PUT URL; the service only hands
// out the URL and later confirms the object landed within limits.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"ideadeck/api/internal/util"
)

var (
	// ErrInvalidUpload marks a rejected content type or size.
	ErrInvalidUpload = errors.New("invalid upload")
	// ErrUploadNotFound means the confirmed key has no object behind it.
	ErrUploadNotFound = errors.New("uploaded object not found")
)

var allowedContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

type Config struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	PresignTTL time.Duration
	MaxBytes   int64
}

type Service struct {
	cfg    Config
	client *minio.Client
}

// NewService builds the MinIO client and fails fast when the bucket is
// missing.
func NewService(ctx context.Context, cfg Config) (*Service, error) {
	endpoint := cfg.Endpoint
	secure := strings.HasPrefix(endpoint, "https://")
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" {
		endpoint = u.Host
		secure = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %q does not exist", cfg.Bucket)
	}

	return &Service{cfg: cfg, client: client}, nil
}

// Upload describes a presigned image upload.
type Upload struct {
	UploadURL string            `json:"uploadUrl"`
	ImageKey  string            `json:"imageKey"`
	ExpiresIn int               `json:"expiresInSeconds"`
	Headers   map[string]string `json:"headers"`
}

// PresignImageUpload validates the declared content type and size and
// returns a presigned PUT URL under posts/<postID>/.
func (s *Service) PresignImageUpload(ctx context.Context, postID, contentType string, contentLength int64) (*Upload, error) {
	if contentLength <= 0 || contentLength > s.cfg.MaxBytes {
		return nil, ErrInvalidUpload
	}
	ext, ok := allowedContentTypes[contentType]
	if !ok {
		return nil, ErrInvalidUpload
	}

	key := path.Join("posts", postID, util.NewID("img")+ext)

	presigned, err := s.client.PresignedPutObject(ctx, s.cfg.Bucket, key, s.cfg.PresignTTL)
	if err != nil {
		return nil, fmt.Errorf("presign put: %w", err)
	}

	return &Upload{
		UploadURL: presigned.String(),
		ImageKey:  key,
		ExpiresIn: int(s.cfg.PresignTTL.Seconds()),
		Headers: map[string]string{
			"Content-Type":   contentType,
			"Content-Length": fmt.Sprintf("%d", contentLength),
		},
	}, nil
}

// ConfirmImageUpload checks that the object exists under the post's
// prefix and is within size and type limits.
func (s *Service) ConfirmImageUpload(ctx context.Context, postID, key string) error {
	prefix := "posts/" + postID + "/"
	if !strings.HasPrefix(key, prefix) {
		return ErrInvalidUpload
	}

	info, err := s.client.StatObject(ctx, s.cfg.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
			return ErrUploadNotFound
		}
		return fmt.Errorf("stat object: %w", err)
	}

	if info.Size <= 0 || info.Size > s.cfg.MaxBytes {
		return ErrInvalidUpload
	}
	if ct := info.ContentType; ct != "" {
		if _, ok := allowedContentTypes[ct]; !ok {
			return ErrInvalidUpload
		}
	}
	return nil
}
