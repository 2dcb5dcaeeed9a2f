package usecase

import (
	"context"
	"time"

	"gatekeeper/internal/domain"
)

type Clock func() time.Time

// KeyDirectory resolves the public signing keys registered on an account.
type KeyDirectory interface {
	GetUserSigningKeys(ctx context.Context, login string) ([]domain.SigningKey, error)
}

// MembershipDirectory answers organization membership questions.
type MembershipDirectory interface {
	IsOrganizationMember(ctx context.Context, org, login string) (bool, error)
}

// PlatformClient is the hosting platform API the pipeline drives. Its
// authentication is the adapter's concern.
type PlatformClient interface {
	KeyDirectory
	MembershipDirectory
	ListPullRequestCommits(ctx context.Context, owner, repo string, number int) ([]domain.CommitRecord, error)
	// GetRepositoryFile returns found=false when the file does not exist.
	GetRepositoryFile(ctx context.Context, owner, repo, path, ref string) (content string, found bool, err error)
	CreateOrUpdateCheckRun(ctx context.Context, run domain.CheckRun) (int64, error)
}

// ClientFactory yields an authenticated client for a platform installation.
type ClientFactory interface {
	ForInstallation(ctx context.Context, installationID int64) (PlatformClient, error)
}

type EvaluationRepository interface {
	Save(ctx context.Context, record domain.EvaluationRecord) error
	Latest(ctx context.Context, owner, repo string) (*domain.EvaluationRecord, error)
	List(ctx context.Context, owner, repo string, limit int) ([]domain.EvaluationRecord, error)
}

type KeyCache interface {
	Get(ctx context.Context, login string) ([]domain.SigningKey, bool, error)
	Put(ctx context.Context, login string, keys []domain.SigningKey, ttl time.Duration) error
}

// RuleEngine evaluates site-specific rules against a commit that already
// passed built-in authorization.
type RuleEngine interface {
	Evaluate(ctx context.Context, input domain.RuleInput) (domain.RuleEvaluation, error)
}
