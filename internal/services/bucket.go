package services

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
)

// BucketService archives raw uploads and generated avatars. When no bucket is
// configured every call is a no-op and Enabled reports false.
type BucketService interface {
	Enabled() bool
	UploadFile(ctx context.Context, key, contentType string, r io.Reader) error
	DeleteFile(ctx context.Context, key string) error
	GetPublicURL(key string) string
	Close() error
}

type bucketService struct {
	log        *logger.Logger
	client     *storage.Client
	bucketName string
}

func NewBucketService(ctx context.Context, log *logger.Logger, bucketName, credentialsFile string) (BucketService, error) {
	serviceLog := log.With("service", "BucketService")
	if strings.TrimSpace(bucketName) == "" {
		serviceLog.Info("GCS_BUCKET not set, file archive disabled")
		return &noopBucketService{}, nil
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &bucketService{
		log:        serviceLog,
		client:     client,
		bucketName: bucketName,
	}, nil
}

func (bs *bucketService) Enabled() bool {
	return true
}

func (bs *bucketService) UploadFile(ctx context.Context, key, contentType string, r io.Reader) error {
	w := bs.client.Bucket(bs.bucketName).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		bs.log.Error("Failed writing object", "key", key, "error", err)
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		bs.log.Error("Failed closing object writer", "key", key, "error", err)
		return fmt.Errorf("failed to finalize object %s: %w", key, err)
	}
	bs.log.Debug("Uploaded object", "key", key)
	return nil
}

func (bs *bucketService) DeleteFile(ctx context.Context, key string) error {
	err := bs.client.Bucket(bs.bucketName).Object(key).Delete(ctx)
	if err != nil && err != storage.ErrObjectNotExist {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

func (bs *bucketService) GetPublicURL(key string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bs.bucketName, key)
}

func (bs *bucketService) Close() error {
	return bs.client.Close()
}

type noopBucketService struct{}

func (noopBucketService) Enabled() bool { return false }

func (noopBucketService) UploadFile(context.Context, string, string, io.Reader) error { return nil }

func (noopBucketService) DeleteFile(context.Context, string) error { return nil }

func (noopBucketService) GetPublicURL(string) string { return "" }

func (noopBucketService) Close() error { return nil }
