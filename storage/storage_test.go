package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/api/googleapi"
)

// TestNewS3Storage tests creating S3 storage with valid config
func TestNewS3Storage(t *testing.T) {
	config := S3Config{
		Endpoint:        "http://localhost:9000",
		Region:          "us-east-1",
		Bucket:          "test-bucket",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
	}

	ctx := context.Background()
	storage, err := NewS3Storage(ctx, config)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	if storage == nil {
		t.Fatal("Expected storage to be non-nil")
	}
}

// TestNewS3StorageMissingBucket tests error handling for missing bucket
func TestNewS3StorageMissingBucket(t *testing.T) {
	config := S3Config{
		Endpoint:        "http://localhost:9000",
		Region:          "us-east-1",
		Bucket:          "", // Missing bucket
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
	}

	ctx := context.Background()
	_, err := NewS3Storage(ctx, config)
	if err == nil {
		t.Fatal("Expected error for missing bucket, got nil")
	}
}

// TestNewS3StorageMissingRegion tests error handling for missing region
func TestNewS3StorageMissingRegion(t *testing.T) {
	config := S3Config{
		Endpoint:        "http://localhost:9000",
		Region:          "", // Missing region
		Bucket:          "test-bucket",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
	}

	ctx := context.Background()
	_, err := NewS3Storage(ctx, config)
	if err == nil {
		t.Fatal("Expected error for missing region, got nil")
	}
}

// TestNewS3StorageMissingCredentials tests error handling for missing credentials
func TestNewS3StorageMissingCredentials(t *testing.T) {
	config := S3Config{
		Endpoint:        "http://localhost:9000",
		Region:          "us-east-1",
		Bucket:          "test-bucket",
		AccessKeyID:     "", // Missing credentials
		SecretAccessKey: "",
		UsePathStyle:    true,
	}

	ctx := context.Background()
	_, err := NewS3Storage(ctx, config)
	if err == nil {
		t.Fatal("Expected error for missing credentials, got nil")
	}
}

func TestArticleKey(t *testing.T) {
	ts := time.Date(2025, time.March, 7, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		slug    string
		counter int
		want    string
	}{
		{"docker-basics", 0, "articles/2025/03/docker-basics.html"},
		{"docker-basics", 1, "articles/2025/03/docker-basics-1.html"},
		{"go", 10, "articles/2025/03/go-10.html"},
	}

	for _, tt := range tests {
		if got := ArticleKey(ts, tt.slug, tt.counter); got != tt.want {
			t.Errorf("ArticleKey(%q, %d) = %q, want %q", tt.slug, tt.counter, got, tt.want)
		}
	}
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	s.now = func() time.Time { return time.Date(2025, time.March, 7, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestFilesystemSaveAndReadArticle(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	key, err := s.SaveArticle(ctx, "<h1>Docker</h1>", "docker-basics")
	if err != nil {
		t.Fatalf("SaveArticle failed: %v", err)
	}
	if key != "articles/2025/03/docker-basics.html" {
		t.Errorf("Expected key articles/2025/03/docker-basics.html, got %s", key)
	}

	content, err := s.ReadArticle(ctx, key)
	if err != nil {
		t.Fatalf("ReadArticle failed: %v", err)
	}
	if content != "<h1>Docker</h1>" {
		t.Errorf("Expected stored content, got %q", content)
	}

	if _, err := os.Stat(filepath.Join(s.config.BasePath, "articles", "2025", "03", "docker-basics.html")); err != nil {
		t.Errorf("Expected file on disk: %v", err)
	}
}

func TestFilesystemSaveArticleUniqueKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	want := []string{
		"articles/2025/03/go.html",
		"articles/2025/03/go-1.html",
		"articles/2025/03/go-2.html",
	}
	for i, w := range want {
		key, err := s.SaveArticle(ctx, fmt.Sprintf("version %d", i), "go")
		if err != nil {
			t.Fatalf("SaveArticle %d failed: %v", i, err)
		}
		if key != w {
			t.Errorf("Expected key %s, got %s", w, key)
		}
	}

	first, _ := s.ReadArticle(ctx, want[0])
	if first != "version 0" {
		t.Errorf("Expected first article to stay unchanged, got %q", first)
	}
}

func TestFilesystemReadMissingArticle(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.ReadArticle(context.Background(), "articles/2025/03/missing.html")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestFilesystemDeleteArticle(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	key, err := s.SaveArticle(ctx, "body", "to-delete")
	if err != nil {
		t.Fatalf("SaveArticle failed: %v", err)
	}
	if err := s.DeleteArticle(ctx, key); err != nil {
		t.Fatalf("DeleteArticle failed: %v", err)
	}
	if _, err := s.ReadArticle(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}

	// Deleting again is not an error
	if err := s.DeleteArticle(ctx, key); err != nil {
		t.Errorf("Expected no error deleting a missing article, got %v", err)
	}
}

func TestFilesystemSaveArticleCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestStorage(t)
	if _, err := s.SaveArticle(ctx, "body", "cancelled"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestS3GetFullPath(t *testing.T) {
	s, err := NewS3Storage(context.Background(), S3Config{
		Region:          "us-east-1",
		Bucket:          "articles-bucket",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
	})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	if got := s.GetFullPath("articles/2025/03/go.html"); got != "s3://articles-bucket/articles/2025/03/go.html" {
		t.Errorf("Unexpected full path %s", got)
	}
}

func TestNewGCSStorageMissingBucket(t *testing.T) {
	if _, err := NewGCSStorage(context.Background(), ""); err == nil {
		t.Fatal("Expected error for missing bucket, got nil")
	}
}

func TestIsPreconditionFailed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"412", &googleapi.Error{Code: http.StatusPreconditionFailed}, true},
		{"wrapped 412", fmt.Errorf("write: %w", &googleapi.Error{Code: 412}), true},
		{"403", &googleapi.Error{Code: http.StatusForbidden}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isPreconditionFailed(tt.err); got != tt.want {
				t.Errorf("isPreconditionFailed() = %v, want %v", got, tt.want)
			}
		})
	}
}
