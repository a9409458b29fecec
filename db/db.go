package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/docutag/writer/models"
)

// ErrNotFound is returned when a row that must exist is missing
var ErrNotFound = errors.New("not found")

// DB wraps the database connection and provides data access methods
type DB struct {
	conn *sql.DB
}

// Config contains database configuration
type Config struct {
	DSN string // PostgreSQL connection string
}

// New creates a new database connection
func New(config Config) (*DB, error) {
	conn, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// DB returns the underlying database connection for metrics collection
func (db *DB) DB() *sql.DB {
	return db.conn
}

// SaveRunState upserts the checkpoint for state.RunID
func (db *DB) SaveRunState(ctx context.Context, state *models.PipelineState) error {
	jsonData, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	query := `
		INSERT INTO writer_run_states (run_id, keyword, stage, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT(run_id) DO UPDATE SET
			stage = excluded.stage,
			state = excluded.state,
			updated_at = excluded.updated_at
	`

	_, err = db.conn.ExecContext(ctx, query,
		state.RunID,
		state.Keyword,
		string(state.Stage),
		string(jsonData),
		state.CreatedAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run state: %w", err)
	}
	return nil
}

// LoadRunState retrieves the checkpoint for runID, or nil when none exists
func (db *DB) LoadRunState(ctx context.Context, runID string) (*models.PipelineState, error) {
	var jsonData string
	err := db.conn.QueryRowContext(ctx, "SELECT state FROM writer_run_states WHERE run_id = $1", runID).Scan(&jsonData)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run state: %w", err)
	}

	var state models.PipelineState
	if err := json.Unmarshal([]byte(jsonData), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}
	return &state, nil
}

// DeleteRunState removes the checkpoint for runID
func (db *DB) DeleteRunState(ctx context.Context, runID string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM writer_run_states WHERE run_id = $1", runID)
	if err != nil {
		return fmt.Errorf("failed to delete run state: %w", err)
	}
	return nil
}

// SaveArticle inserts the index row for a generated article. A run keeps
// its first article: when one already exists, article is overwritten with
// the stored row.
func (db *DB) SaveArticle(ctx context.Context, article *models.Article) error {
	scoresJSON, err := json.Marshal(article.Scores)
	if err != nil {
		return fmt.Errorf("failed to marshal scores: %w", err)
	}

	query := `
		INSERT INTO writer_articles (id, run_id, keyword, title, slug, storage_path, success, final_score, scores, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT(run_id) DO NOTHING
	`

	res, err := db.conn.ExecContext(ctx, query,
		article.ID,
		article.RunID,
		article.Keyword,
		article.Title,
		article.Slug,
		article.StoragePath,
		article.Success,
		article.FinalScore,
		string(scoresJSON),
		article.AttemptsUsed,
		article.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save article: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save article: %w", err)
	}
	if inserted == 0 {
		existing, err := db.GetArticleByRunID(ctx, article.RunID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("article for run %s: %w", article.RunID, ErrNotFound)
		}
		*article = *existing
	}
	return nil
}

const articleColumns = `id, run_id, keyword, title, slug, storage_path, success, final_score, scores, attempts, created_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (*models.Article, error) {
	var (
		article    models.Article
		scoresJSON string
	)
	if err := row.Scan(
		&article.ID,
		&article.RunID,
		&article.Keyword,
		&article.Title,
		&article.Slug,
		&article.StoragePath,
		&article.Success,
		&article.FinalScore,
		&scoresJSON,
		&article.AttemptsUsed,
		&article.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scoresJSON), &article.Scores); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scores: %w", err)
	}
	return &article, nil
}

// GetArticle retrieves an article by ID, or nil when none exists
func (db *DB) GetArticle(ctx context.Context, id string) (*models.Article, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+articleColumns+" FROM writer_articles WHERE id = $1", id)
	article, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query article: %w", err)
	}
	return article, nil
}

// GetArticleByRunID retrieves the article produced by runID, or nil when none exists
func (db *DB) GetArticleByRunID(ctx context.Context, runID string) (*models.Article, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+articleColumns+" FROM writer_articles WHERE run_id = $1", runID)
	article, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query article: %w", err)
	}
	return article, nil
}

// ListArticles returns articles newest first with pagination
func (db *DB) ListArticles(ctx context.Context, limit, offset int) ([]*models.Article, error) {
	query := `
		SELECT ` + articleColumns + ` FROM writer_articles
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := db.conn.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	var results []*models.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, article)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

// CountArticles returns the total number of indexed articles
func (db *DB) CountArticles(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM writer_articles").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count articles: %w", err)
	}
	return count, nil
}

// DeleteArticle deletes an article index row by ID
func (db *DB) DeleteArticle(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, "DELETE FROM writer_articles WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete article: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("article %s: %w", id, ErrNotFound)
	}

	return nil
}
