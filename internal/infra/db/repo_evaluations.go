package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekeeper/internal/domain"
	"gatekeeper/internal/usecase"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EvaluationRepository struct {
	db *gorm.DB
}

var _ usecase.EvaluationRepository = (*EvaluationRepository)(nil)

func NewEvaluationRepository(db *gorm.DB) *EvaluationRepository {
	return &EvaluationRepository{db: db}
}

func (r *EvaluationRepository) Save(ctx context.Context, rec domain.EvaluationRecord) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	model, err := evaluationModelFromDomain(rec)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *EvaluationRepository) Latest(ctx context.Context, owner, repo string) (*domain.EvaluationRecord, error) {
	recs, err := r.List(ctx, owner, repo, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, domain.ErrNotFound
	}
	return &recs[0], nil
}

func (r *EvaluationRepository) List(ctx context.Context, owner, repo string, limit int) ([]domain.EvaluationRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	if limit <= 0 {
		limit = 20
	}
	var models []EvaluationModel
	err := r.db.WithContext(ctx).
		Where("LOWER(owner) = ? AND LOWER(repo) = ?", strings.ToLower(owner), strings.ToLower(repo)).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]domain.EvaluationRecord, 0, len(models))
	for _, m := range models {
		rec, err := evaluationFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func evaluationModelFromDomain(rec domain.EvaluationRecord) (EvaluationModel, error) {
	commits := rec.Commits
	if commits == nil {
		commits = []domain.CommitVerification{}
	}
	commitsJSON, err := json.Marshal(commits)
	if err != nil {
		return EvaluationModel{}, fmt.Errorf("encode commits: %w", err)
	}
	return EvaluationModel{
		ID:                 rec.ID,
		DeliveryID:         rec.DeliveryID,
		Owner:              rec.Owner,
		Repo:               rec.Repo,
		PullRequest:        rec.PullRequest,
		HeadSHA:            rec.HeadSHA,
		CheckRunID:         rec.CheckRunID,
		PolicyType:         string(rec.PolicyType),
		PolicyDefault:      rec.PolicyDefault,
		Conclusion:         string(rec.Conclusion),
		Title:              rec.Title,
		PassedCount:        rec.PassedCount,
		FailedCount:        rec.FailedCount,
		LookupFailureCount: rec.LookupFailureCount,
		PipelineError:      stringPtrIfNotEmpty(rec.PipelineError),
		CommitsJSON:        commitsJSON,
		CreatedAt:          rec.CreatedAt.UTC().Truncate(time.Microsecond),
	}, nil
}

func evaluationFromModel(m EvaluationModel) (domain.EvaluationRecord, error) {
	var commits []domain.CommitVerification
	if len(m.CommitsJSON) > 0 {
		if err := json.Unmarshal(m.CommitsJSON, &commits); err != nil {
			return domain.EvaluationRecord{}, fmt.Errorf("decode commits of %s: %w", m.ID, err)
		}
	}
	return domain.EvaluationRecord{
		ID:                 m.ID,
		DeliveryID:         m.DeliveryID,
		Owner:              m.Owner,
		Repo:               m.Repo,
		PullRequest:        m.PullRequest,
		HeadSHA:            m.HeadSHA,
		CheckRunID:         m.CheckRunID,
		PolicyType:         domain.PolicyType(m.PolicyType),
		PolicyDefault:      m.PolicyDefault,
		Conclusion:         domain.CheckConclusion(m.Conclusion),
		Title:              m.Title,
		PassedCount:        m.PassedCount,
		FailedCount:        m.FailedCount,
		LookupFailureCount: m.LookupFailureCount,
		PipelineError:      stringValue(m.PipelineError),
		Commits:            commits,
		CreatedAt:          m.CreatedAt.UTC(),
	}, nil
}
