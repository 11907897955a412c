package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mohammed-shakir/imagery-composer/internal/core/config"
	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
	mylog "github.com/mohammed-shakir/imagery-composer/internal/logger"
)

// ObjectStore is the subset of *minio.Client used for downloads.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, object string, expires time.Duration, params url.Values) (*url.URL, error)
}

// Objects uploads screenshots and hands out presigned links.
type Objects struct {
	client ObjectStore
	bucket string
	expiry time.Duration
}

func NewObjects(client ObjectStore, bucket string, expiry time.Duration) *Objects {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &Objects{client: client, bucket: bucket, expiry: expiry}
}

// NewMinio connects to the configured endpoint and makes sure the bucket
// exists. It returns nil when no endpoint is configured.
func NewMinio(ctx context.Context, cfg config.MinioCfg) (*Objects, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	ok, err := mc.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket %s: %w", cfg.Bucket, err)
	}
	if !ok {
		if err := mc.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("minio make bucket %s: %w", cfg.Bucket, err)
		}
	}
	return NewObjects(mc, cfg.Bucket, cfg.URLExpiry), nil
}

func (o *Objects) upload(ctx context.Context, name, contentType string, b []byte) (string, error) {
	prefix := mylog.SessionID(ctx)
	if prefix == "" {
		prefix = "anonymous"
	}
	object := fmt.Sprintf("screenshots/%s/%s-%s", prefix, uuid.NewString(), name)
	_, err := o.client.PutObject(ctx, o.bucket, object, bytes.NewReader(b), int64(len(b)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload screenshot: %w", err)
	}
	params := url.Values{}
	params.Set("response-content-disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	u, err := o.client.PresignedGetObject(ctx, o.bucket, object, o.expiry, params)
	if err != nil {
		return "", fmt.Errorf("presign screenshot: %w", err)
	}
	return u.String(), nil
}

// DownloadImage turns a captured image into a download: a presigned link when
// object storage is configured, the raw bytes otherwise.
func (s *Service) DownloadImage(ctx context.Context, img model.EncodedImage) (model.Download, error) {
	contentType, b, err := img.Decode()
	if err != nil {
		return model.Download{}, err
	}
	if len(b) == 0 {
		return model.Download{}, errors.New("download: empty image")
	}
	d := model.Download{
		Filename: "screenshot-" + time.Now().UTC().Format("20060102-150405") + extension(contentType),
		MimeType: contentType,
	}
	if s.objects == nil {
		d.Data = b
		return d, nil
	}
	u, err := s.objects.upload(ctx, d.Filename, contentType, b)
	if err != nil {
		return model.Download{}, err
	}
	d.URL = u
	return d, nil
}

func extension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	}
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
