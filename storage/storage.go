package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/docutag/writer/slug"
)

// maxUniqueAttempts bounds the counter appended to colliding slugs
const maxUniqueAttempts = 100

var (
	// ErrNotFound is returned when a stored article does not exist
	ErrNotFound = errors.New("stored article not found")

	// ErrNoUniqueKey is returned when every candidate key for a slug is taken
	ErrNoUniqueKey = errors.New("no unique key available for slug")
)

// Backend stores generated article bodies. Keys are relative paths of the
// form articles/YYYY/MM/<slug>.html.
type Backend interface {
	SaveArticle(ctx context.Context, content, articleSlug string) (string, error)
	ReadArticle(ctx context.Context, key string) (string, error)
	DeleteArticle(ctx context.Context, key string) error
}

// Config contains storage configuration
type Config struct {
	BasePath string // Base directory for all stored files
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		BasePath: "./storage",
	}
}

// Storage handles filesystem storage operations
type Storage struct {
	config Config
	now    func() time.Time
}

// New creates a new Storage instance
func New(config Config) (*Storage, error) {
	if config.BasePath == "" {
		config.BasePath = DefaultConfig().BasePath
	}
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory: %w", err)
	}

	return &Storage{
		config: config,
		now:    time.Now,
	}, nil
}

// ArticleKey returns the storage key for a slug at time t. A non-zero
// counter is appended to the slug.
func ArticleKey(t time.Time, articleSlug string, counter int) string {
	year := fmt.Sprintf("%04d", t.Year())
	month := fmt.Sprintf("%02d", int(t.Month()))
	return path.Join("articles", year, month, slug.MakeUnique(articleSlug, counter)+".html")
}

// SaveArticle writes content under a new key and returns it.
// Existing files are never overwritten.
func (s *Storage) SaveArticle(ctx context.Context, content, articleSlug string) (string, error) {
	now := s.now()

	for counter := 0; counter < maxUniqueAttempts; counter++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		key := ArticleKey(now, articleSlug, counter)
		fullPath := s.GetFullPath(key)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			return "", fmt.Errorf("failed to create article directory: %w", err)
		}

		f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create article file: %w", err)
		}

		if _, err := f.WriteString(content); err != nil {
			f.Close()
			os.Remove(fullPath)
			return "", fmt.Errorf("failed to write article file: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("failed to close article file: %w", err)
		}
		return key, nil
	}

	return "", fmt.Errorf("%w: %s", ErrNoUniqueKey, articleSlug)
}

// ReadArticle reads an article from the filesystem
func (s *Storage) ReadArticle(ctx context.Context, key string) (string, error) {
	data, err := os.ReadFile(s.GetFullPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read article file: %w", err)
	}
	return string(data), nil
}

// DeleteArticle deletes an article from the filesystem. Missing files are ignored.
func (s *Storage) DeleteArticle(ctx context.Context, key string) error {
	if err := os.Remove(s.GetFullPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete article file: %w", err)
	}
	return nil
}

// GetFullPath returns the full filesystem path for a relative key
func (s *Storage) GetFullPath(key string) string {
	return filepath.Join(s.config.BasePath, filepath.FromSlash(key))
}
