package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSStorage stores articles in a Google Cloud Storage bucket
type GCSStorage struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	name   string
	now    func() time.Time
}

// NewGCSStorage creates a GCSStorage for bucketName using default credentials
func NewGCSStorage(ctx context.Context, bucketName string) (*GCSStorage, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("GCS bucket name is required")
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStorage{
		client: client,
		bucket: client.Bucket(bucketName),
		name:   bucketName,
		now:    time.Now,
	}, nil
}

// Close releases the underlying client
func (g *GCSStorage) Close() error {
	return g.client.Close()
}

// SaveArticle writes content under the first free key for articleSlug.
// Objects are created with a does-not-exist precondition so concurrent
// writers never overwrite each other.
func (g *GCSStorage) SaveArticle(ctx context.Context, content, articleSlug string) (string, error) {
	now := g.now()

	for counter := 0; counter < maxUniqueAttempts; counter++ {
		key := ArticleKey(now, articleSlug, counter)

		err := g.create(ctx, key, content)
		if isPreconditionFailed(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		return key, nil
	}

	return "", fmt.Errorf("%w: %s", ErrNoUniqueKey, articleSlug)
}

func (g *GCSStorage) create(ctx context.Context, key, content string) error {
	writer := g.bucket.Object(key).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "text/html; charset=utf-8"

	if _, err := io.Copy(writer, strings.NewReader(content)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			return err
		}
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			return err
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// ReadArticle reads an article object
func (g *GCSStorage) ReadArticle(ctx context.Context, key string) (string, error) {
	reader, err := g.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to open GCS object %s: %w", key, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read GCS object %s: %w", key, err)
	}
	return string(data), nil
}

// DeleteArticle deletes an article object. Missing objects are ignored.
func (g *GCSStorage) DeleteArticle(ctx context.Context, key string) error {
	err := g.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete GCS object %s: %w", key, err)
	}
	return nil
}

// GetFullPath returns the gs:// URL for a key
func (g *GCSStorage) GetFullPath(key string) string {
	return fmt.Sprintf("gs://%s/%s", g.name, key)
}
