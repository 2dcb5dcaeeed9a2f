package evalmem

import (
	"context"
	"strings"
	"sync"
	"time"

	"gatekeeper/internal/domain"
	"gatekeeper/internal/usecase"

	"github.com/google/uuid"
)

// DefaultPerRepo bounds how many records are kept for a single repository.
const DefaultPerRepo = 100

// Store keeps evaluation records in process memory, newest last.
type Store struct {
	mu      sync.RWMutex
	repos   map[string][]domain.EvaluationRecord
	perRepo int
	clock   func() time.Time
}

var _ usecase.EvaluationRepository = (*Store)(nil)

func New() *Store {
	return NewWithLimit(DefaultPerRepo, nil)
}

func NewWithLimit(perRepo int, clock func() time.Time) *Store {
	if perRepo <= 0 {
		perRepo = DefaultPerRepo
	}
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		repos:   make(map[string][]domain.EvaluationRecord),
		perRepo: perRepo,
		clock:   clock,
	}
}

func (s *Store) Save(ctx context.Context, rec domain.EvaluationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock()
	}
	rec.Commits = append([]domain.CommitVerification(nil), rec.Commits...)

	key := repoKey(rec.Owner, rec.Repo)
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := append(s.repos[key], rec)
	if over := len(recs) - s.perRepo; over > 0 {
		recs = append([]domain.EvaluationRecord(nil), recs[over:]...)
	}
	s.repos[key] = recs
	return nil
}

func (s *Store) Latest(ctx context.Context, owner, repo string) (*domain.EvaluationRecord, error) {
	recs, err := s.List(ctx, owner, repo, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, domain.ErrNotFound
	}
	return &recs[0], nil
}

// List returns up to limit records, newest first.
func (s *Store) List(ctx context.Context, owner, repo string, limit int) ([]domain.EvaluationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.repos[repoKey(owner, repo)]
	if limit <= 0 || limit > len(recs) {
		limit = len(recs)
	}
	out := make([]domain.EvaluationRecord, 0, limit)
	for i := len(recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, recs[i])
	}
	return out, nil
}

func repoKey(owner, repo string) string {
	return strings.ToLower(owner) + "/" + strings.ToLower(repo)
}
