package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/docutag/writer/models"
)

// setupTestDB connects to the database named by WRITER_TEST_DATABASE_DSN
// and skips the test when it is not set
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("WRITER_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("WRITER_TEST_DATABASE_DSN not set, skipping PostgreSQL integration test")
	}

	db, err := New(Config{DSN: dsn})
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunStatePersistence(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	runID := "test-run-" + uuid.NewString()
	t.Cleanup(func() { db.DeleteRunState(ctx, runID) })

	state := models.NewPipelineState(runID, "docker basics", 3, 75)
	state.SetSources([]models.SourceRef{{URL: "https://example.com/a", Title: "A"}}, false)
	state.Advance(models.StageFetching)

	if err := db.SaveRunState(ctx, state); err != nil {
		t.Fatalf("Failed to save run state: %v", err)
	}

	loaded, err := db.LoadRunState(ctx, runID)
	if err != nil {
		t.Fatalf("Failed to load run state: %v", err)
	}
	if loaded == nil {
		t.Fatal("Run state not found")
	}
	if loaded.Stage != models.StageFetching {
		t.Errorf("Expected stage FETCHING, got %s", loaded.Stage)
	}
	if len(loaded.CandidateSources) != 1 || loaded.CandidateSources[0].URL != "https://example.com/a" {
		t.Errorf("Expected candidate sources to round trip, got %+v", loaded.CandidateSources)
	}

	// Upsert moves the stage forward
	state.RecordDraft("<p>draft</p>")
	state.Advance(models.StageScoring)
	if err := db.SaveRunState(ctx, state); err != nil {
		t.Fatalf("Failed to update run state: %v", err)
	}
	loaded, err = db.LoadRunState(ctx, runID)
	if err != nil {
		t.Fatalf("Failed to reload run state: %v", err)
	}
	if loaded.Stage != models.StageScoring || loaded.AttemptCount != 1 {
		t.Errorf("Expected SCORING after 1 attempt, got %s after %d", loaded.Stage, loaded.AttemptCount)
	}

	missing, err := db.LoadRunState(ctx, "does-not-exist-"+uuid.NewString())
	if err != nil {
		t.Errorf("Expected no error for missing run, got %v", err)
	}
	if missing != nil {
		t.Error("Expected nil for missing run")
	}
}

func TestArticleIndex(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		article := &models.Article{
			ID:           uuid.NewString(),
			RunID:        uuid.NewString(),
			Keyword:      "docker basics",
			Title:        fmt.Sprintf("Docker Basics %d", i),
			Slug:         fmt.Sprintf("docker-basics-%d", i),
			StoragePath:  fmt.Sprintf("articles/2025/01/docker-basics-%d.html", i),
			Success:      i%2 == 0,
			FinalScore:   70 + float64(i),
			Scores:       models.ScoreBreakdown{Title: 100, Final: 70 + float64(i), Method: "rule_based"},
			AttemptsUsed: i + 1,
			CreatedAt:    time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := db.SaveArticle(ctx, article); err != nil {
			t.Fatalf("Failed to save article: %v", err)
		}
		ids = append(ids, article.ID)
	}
	t.Cleanup(func() {
		for _, id := range ids {
			db.DeleteArticle(ctx, id)
		}
	})

	t.Run("GetArticle", func(t *testing.T) {
		article, err := db.GetArticle(ctx, ids[1])
		if err != nil {
			t.Fatalf("Failed to get article: %v", err)
		}
		if article == nil {
			t.Fatal("Article not found")
		}
		if article.Title != "Docker Basics 1" || article.AttemptsUsed != 2 {
			t.Errorf("Unexpected article: %+v", article)
		}
		if article.Scores.Title != 100 || article.Scores.Method != "rule_based" {
			t.Errorf("Expected scores to round trip, got %+v", article.Scores)
		}
	})

	t.Run("ListArticles", func(t *testing.T) {
		articles, err := db.ListArticles(ctx, 100, 0)
		if err != nil {
			t.Fatalf("Failed to list articles: %v", err)
		}
		if len(articles) < 3 {
			t.Fatalf("Expected at least 3 articles, got %d", len(articles))
		}
		for i := 1; i < len(articles); i++ {
			if articles[i].CreatedAt.After(articles[i-1].CreatedAt) {
				t.Error("Expected articles ordered newest first")
				break
			}
		}
	})

	t.Run("CountArticles", func(t *testing.T) {
		count, err := db.CountArticles(ctx)
		if err != nil {
			t.Fatalf("Failed to count articles: %v", err)
		}
		if count < 3 {
			t.Errorf("Expected count >= 3, got %d", count)
		}
	})

	t.Run("DeleteArticle", func(t *testing.T) {
		if err := db.DeleteArticle(ctx, ids[0]); err != nil {
			t.Fatalf("Failed to delete article: %v", err)
		}
		if err := db.DeleteArticle(ctx, ids[0]); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound on second delete, got %v", err)
		}
		article, err := db.GetArticle(ctx, ids[0])
		if err != nil || article != nil {
			t.Errorf("Expected deleted article to be absent, got %+v, %v", article, err)
		}
	})
}

func TestSaveArticleKeepsFirstPerRun(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	runID := uuid.NewString()
	first := &models.Article{
		ID:          uuid.NewString(),
		RunID:       runID,
		Keyword:     "go",
		Title:       "First",
		Slug:        "first",
		StoragePath: "articles/2025/01/first.html",
		CreatedAt:   time.Now(),
	}
	if err := db.SaveArticle(ctx, first); err != nil {
		t.Fatalf("Failed to save article: %v", err)
	}
	t.Cleanup(func() { db.DeleteArticle(ctx, first.ID) })

	second := &models.Article{
		ID:          uuid.NewString(),
		RunID:       runID,
		Keyword:     "go",
		Title:       "Second",
		Slug:        "second",
		StoragePath: "articles/2025/01/second.html",
		CreatedAt:   time.Now(),
	}
	if err := db.SaveArticle(ctx, second); err != nil {
		t.Fatalf("Failed to save second article: %v", err)
	}
	if second.ID != first.ID || second.StoragePath != first.StoragePath {
		t.Errorf("Expected the stored article %s to be returned, got %s (%s)", first.ID, second.ID, second.StoragePath)
	}

	stored, err := db.GetArticle(ctx, first.ID)
	if err != nil || stored == nil || stored.Title != "First" {
		t.Errorf("Expected first article to remain, got %+v, %v", stored, err)
	}
}

func TestMigrationStatus(t *testing.T) {
	db := setupTestDB(t)

	status, err := GetMigrationStatus(db.DB())
	if err != nil {
		t.Fatalf("Failed to get migration status: %v", err)
	}
	for _, s := range status {
		if !s.Applied {
			t.Errorf("Expected migration %d (%s) to be applied", s.Version, s.Name)
		}
	}
}

func TestRollbackAndReapply(t *testing.T) {
	db := setupTestDB(t)
	conn := db.DB()

	before, err := getCurrentVersion(conn)
	if err != nil {
		t.Fatalf("Failed to get version: %v", err)
	}
	if before == 0 {
		t.Fatal("Expected migrations to be applied")
	}

	if err := Rollback(conn); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	t.Cleanup(func() { Migrate(conn) })

	after, err := getCurrentVersion(conn)
	if err != nil {
		t.Fatalf("Failed to get version: %v", err)
	}
	if after != before-1 {
		t.Errorf("Expected version %d after rollback, got %d", before-1, after)
	}

	if err := Migrate(conn); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	status, err := GetMigrationStatus(conn)
	if err != nil {
		t.Fatalf("Failed to get migration status: %v", err)
	}
	for _, s := range status {
		if !s.Applied {
			t.Errorf("Expected migration %d (%s) to be reapplied", s.Version, s.Name)
		}
	}
}
