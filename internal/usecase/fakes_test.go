package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"gatekeeper/internal/domain"
)

var errFakeAPI = errors.New("api unavailable")

type fakePlatform struct {
	mu sync.Mutex

	commits       []domain.CommitRecord
	commitsErr    error
	policy        string
	policyFound   bool
	policyErr     error
	keys          map[string][]domain.SigningKey
	keysErr       error
	members       map[string]bool
	membersErr    error
	checkRunErr   error
	updateErr     error
	blockLookups  bool
	checkRuns     []domain.CheckRun
	keyCalls      int
	nextCheckRun  int64
	policyRefSeen []string
}

func (f *fakePlatform) ListPullRequestCommits(ctx context.Context, owner, repo string, number int) ([]domain.CommitRecord, error) {
	if f.commitsErr != nil {
		return nil, f.commitsErr
	}
	return f.commits, nil
}

func (f *fakePlatform) GetRepositoryFile(ctx context.Context, owner, repo, path, ref string) (string, bool, error) {
	f.mu.Lock()
	f.policyRefSeen = append(f.policyRefSeen, ref)
	f.mu.Unlock()
	if f.policyErr != nil {
		return "", false, f.policyErr
	}
	return f.policy, f.policyFound, nil
}

func (f *fakePlatform) CreateOrUpdateCheckRun(ctx context.Context, run domain.CheckRun) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkRunErr != nil {
		return 0, f.checkRunErr
	}
	if run.ID != 0 && f.updateErr != nil {
		return 0, f.updateErr
	}
	f.checkRuns = append(f.checkRuns, run)
	if run.ID != 0 {
		return run.ID, nil
	}
	f.nextCheckRun++
	return f.nextCheckRun, nil
}

func (f *fakePlatform) GetUserSigningKeys(ctx context.Context, login string) ([]domain.SigningKey, error) {
	f.mu.Lock()
	f.keyCalls++
	f.mu.Unlock()
	if f.blockLookups {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.keysErr != nil {
		return nil, f.keysErr
	}
	return f.keys[login], nil
}

func (f *fakePlatform) IsOrganizationMember(ctx context.Context, org, login string) (bool, error) {
	if f.blockLookups {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if f.membersErr != nil {
		return false, f.membersErr
	}
	return f.members[strings.ToLower(org)+"/"+strings.ToLower(login)], nil
}

func (f *fakePlatform) runs() []domain.CheckRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.CheckRun, len(f.checkRuns))
	copy(out, f.checkRuns)
	return out
}

type fakeFactory struct {
	client PlatformClient
	err    error
}

func (f *fakeFactory) ForInstallation(ctx context.Context, installationID int64) (PlatformClient, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

type memEvaluations struct {
	mu      sync.Mutex
	records []domain.EvaluationRecord
}

func (m *memEvaluations) Save(ctx context.Context, record domain.EvaluationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *memEvaluations) Latest(ctx context.Context, owner, repo string) (*domain.EvaluationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		return nil, domain.ErrNotFound
	}
	rec := m.records[len(m.records)-1]
	return &rec, nil
}

func (m *memEvaluations) List(ctx context.Context, owner, repo string, limit int) ([]domain.EvaluationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.EvaluationRecord(nil), m.records...), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedCommit(sha, login, keyID string) domain.CommitRecord {
	return domain.CommitRecord{
		SHA:         sha,
		AuthorName:  strings.ToUpper(login[:1]) + login[1:],
		AuthorLogin: login,
		ParentCount: 1,
		Verification: domain.CommitSignature{
			Verified:  true,
			Signature: "-----BEGIN PGP SIGNATURE-----",
			KeyID:     keyID,
			Reason:    "valid",
		},
	}
}

func unsignedCommit(sha, login string, parents int) domain.CommitRecord {
	return domain.CommitRecord{
		SHA:          sha,
		AuthorName:   login,
		AuthorLogin:  login,
		ParentCount:  parents,
		Verification: domain.CommitSignature{Reason: "unsigned"},
	}
}
