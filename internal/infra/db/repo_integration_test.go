//go:build integration
// +build integration

package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"gatekeeper/internal/domain"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestEvaluationRepository_SaveListLatest(t *testing.T) {
	db := setupTestDB(t)
	resetDB(t, db)
	repo := NewEvaluationRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 4, 5, 0, 0, 0, time.UTC)
	for i, conclusion := range []domain.CheckConclusion{domain.CheckConclusionFailure, domain.CheckConclusionSuccess} {
		rec := sampleRecord()
		rec.ID = uuid.NewString()
		rec.Conclusion = conclusion
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Save(ctx, rec); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	latest, err := repo.Latest(ctx, "ACME", "Widgets")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Conclusion != domain.CheckConclusionSuccess {
		t.Fatalf("expected newest record, got %s", latest.Conclusion)
	}

	all, err := repo.List(ctx, "acme", "widgets", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || !all[0].CreatedAt.After(all[1].CreatedAt) {
		t.Fatalf("expected newest first, got %+v", all)
	}

	if _, err := repo.Latest(ctx, "acme", "other"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN_TEST"))
	if dsn == "" {
		t.Skip("POSTGRES_DSN_TEST not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	applyMigrations(t, db)
	return db
}

func applyMigrations(t *testing.T, db *gorm.DB) {
	t.Helper()
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		sqlBytes, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read migration %s: %v", name, err)
		}
		if err := db.Exec(string(sqlBytes)).Error; err != nil {
			t.Fatalf("apply migration %s: %v", name, err)
		}
	}
}

func resetDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	if err := db.Exec(`TRUNCATE evaluations`).Error; err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}
