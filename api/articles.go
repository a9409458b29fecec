package api

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/docutag/writer/db"
	"github.com/docutag/writer/models"
)

// MemoryIndex is an ArticleIndex used when no database is configured
type MemoryIndex struct {
	mu       sync.RWMutex
	articles map[string]*models.Article
}

// NewMemoryIndex creates an empty MemoryIndex
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{articles: make(map[string]*models.Article)}
}

// SaveArticle inserts an article. A run keeps its first article: when one
// already exists, article is overwritten with the stored entry.
func (m *MemoryIndex) SaveArticle(ctx context.Context, article *models.Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, a := range m.articles {
		if a.RunID == article.RunID && id != article.ID {
			*article = *a
			return nil
		}
	}
	stored := *article
	m.articles[article.ID] = &stored
	return nil
}

// GetArticle returns a copy of the article or nil
func (m *MemoryIndex) GetArticle(ctx context.Context, id string) (*models.Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.articles[id]
	if !ok {
		return nil, nil
	}
	out := *a
	return &out, nil
}

// GetArticleByRunID returns the article produced by runID or nil
func (m *MemoryIndex) GetArticleByRunID(ctx context.Context, runID string) (*models.Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.articles {
		if a.RunID == runID {
			out := *a
			return &out, nil
		}
	}
	return nil, nil
}

// ListArticles returns articles newest first
func (m *MemoryIndex) ListArticles(ctx context.Context, limit, offset int) ([]*models.Article, error) {
	m.mu.RLock()
	all := make([]*models.Article, 0, len(m.articles))
	for _, a := range m.articles {
		out := *a
		all = append(all, &out)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return []*models.Article{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// CountArticles returns the number of indexed articles
func (m *MemoryIndex) CountArticles(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.articles), nil
}

// DeleteArticle removes an article
func (m *MemoryIndex) DeleteArticle(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.articles[id]; !ok {
		return fmt.Errorf("article %s: %w", id, db.ErrNotFound)
	}
	delete(m.articles, id)
	return nil
}

// ArticleTitle returns the document title of a generated article, falling
// back to its first h1
func ArticleTitle(document string) string {
	root, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return ""
	}

	var title, heading string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.DataAtom == atom.Title && title == "":
				title = textContent(n)
			case n.DataAtom == atom.H1 && heading == "":
				heading = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if title != "" {
		return title
	}
	return heading
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
