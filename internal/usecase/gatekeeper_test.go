package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gatekeeper/internal/domain"
)

func prEvent(action string) domain.PullRequestEvent {
	return domain.PullRequestEvent{
		DeliveryID:     "delivery-1",
		Action:         action,
		Owner:          "acme",
		Repo:           "widgets",
		Number:         7,
		HeadSHA:        "headsha",
		InstallationID: 42,
	}
}

func newTestGatekeeper(p *fakePlatform, cfg GatekeeperConfig) (*Gatekeeper, *memEvaluations) {
	g := NewGatekeeper(&fakeFactory{client: p}, cfg)
	store := &memEvaluations{}
	g.Evaluations = store
	g.Logger = discardLogger()
	g.Clock = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return g, store
}

func TestGatekeeper_AnnouncesThenConcludes(t *testing.T) {
	p := &fakePlatform{
		commits: []domain.CommitRecord{signedCommit("c1", "alice", "AAAA")},
		keys:    map[string][]domain.SigningKey{"alice": {{KeyID: "AAAA"}}},
		members: map[string]bool{"acme/alice": true},
	}
	g, store := newTestGatekeeper(p, GatekeeperConfig{})

	summary, err := g.HandlePullRequest(context.Background(), prEvent(domain.ActionOpened))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if summary.Status != RunStatusCompleted || summary.Conclusion != domain.CheckConclusionSuccess {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Policy != "default" || summary.CommitsChecked != 1 || summary.Passed != 1 {
		t.Fatalf("unexpected counts %+v", summary)
	}

	runs := p.runs()
	if len(runs) != 2 {
		t.Fatalf("expected announce and conclude, got %d runs", len(runs))
	}
	if runs[0].Status != domain.CheckStatusInProgress || runs[0].ID != 0 || runs[0].Name != DefaultCheckName {
		t.Fatalf("unexpected announce %+v", runs[0])
	}
	if runs[1].Status != domain.CheckStatusCompleted || runs[1].ID != 1 {
		t.Fatalf("conclude must update the announced run: %+v", runs[1])
	}
	if runs[1].HeadSHA != "headsha" {
		t.Fatalf("check run must target the head sha")
	}

	if len(p.policyRefSeen) != 1 || p.policyRefSeen[0] != "" {
		t.Fatalf("policy must be read from the default branch, saw %v", p.policyRefSeen)
	}

	rec, err := store.Latest(context.Background(), "acme", "widgets")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if rec.ID != summary.EvaluationID || rec.CheckRunID != 1 || rec.PassedCount != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !rec.CreatedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("unexpected created_at %v", rec.CreatedAt)
	}
}

func TestGatekeeper_FailedCommitConcludesFailure(t *testing.T) {
	p := &fakePlatform{
		commits: []domain.CommitRecord{
			signedCommit("c1", "alice", "AAAA"),
			unsignedCommit("c2", "mallory", 1),
		},
		members:     map[string]bool{"acme/alice": true},
		policy:      "allow_bots: false\n",
		policyFound: true,
	}
	g, _ := newTestGatekeeper(p, GatekeeperConfig{CheckName: "Custom"})

	summary, err := g.HandlePullRequest(context.Background(), prEvent(domain.ActionSynchronize))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if summary.Conclusion != domain.CheckConclusionFailure || summary.Failed != 1 || summary.Passed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Policy != "explicit" {
		t.Fatalf("expected repository policy label, got %q", summary.Policy)
	}
	last := p.runs()[1]
	if last.Name != "Custom" || last.Title != "1 commit(s) failed verification" {
		t.Fatalf("unexpected conclude %+v", last)
	}
	if !strings.Contains(last.Summary, "`c2` by **mallory**: Commit is not signed") {
		t.Fatalf("unexpected summary %q", last.Summary)
	}
}

func TestGatekeeper_PipelineFailureStillConcludes(t *testing.T) {
	tests := []struct {
		name string
		p    *fakePlatform
	}{
		{name: "policy fetch", p: &fakePlatform{policyErr: errFakeAPI}},
		{name: "list commits", p: &fakePlatform{commitsErr: errFakeAPI}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, store := newTestGatekeeper(tt.p, GatekeeperConfig{})
			summary, err := g.HandlePullRequest(context.Background(), prEvent(domain.ActionReopened))
			if err != nil {
				t.Fatalf("handle: %v", err)
			}
			if summary.Status != RunStatusError || summary.Conclusion != domain.CheckConclusionFailure {
				t.Fatalf("unexpected summary %+v", summary)
			}
			runs := tt.p.runs()
			if len(runs) != 2 || runs[1].Status != domain.CheckStatusCompleted {
				t.Fatalf("check run left open: %+v", runs)
			}
			if runs[1].Title != "Vouch Gatekeeper error" {
				t.Fatalf("unexpected title %q", runs[1].Title)
			}
			if !strings.Contains(runs[1].Summary, "api unavailable") {
				t.Fatalf("summary should carry the cause: %q", runs[1].Summary)
			}
			rec, _ := store.Latest(context.Background(), "acme", "widgets")
			if rec == nil || rec.PipelineError == "" {
				t.Fatalf("pipeline error not recorded: %+v", rec)
			}
		})
	}
}

func TestGatekeeper_UpdateFailureFallsBackToCreate(t *testing.T) {
	p := &fakePlatform{updateErr: errors.New("not found")}
	g, _ := newTestGatekeeper(p, GatekeeperConfig{})

	if _, err := g.HandlePullRequest(context.Background(), prEvent(domain.ActionOpened)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	runs := p.runs()
	if len(runs) != 2 {
		t.Fatalf("expected announce plus replacement, got %d", len(runs))
	}
	if runs[1].ID != 0 || runs[1].Status != domain.CheckStatusCompleted {
		t.Fatalf("expected a freshly created completed run, got %+v", runs[1])
	}
}

func TestGatekeeper_DeadlineConcludesWithFailure(t *testing.T) {
	p := &fakePlatform{
		commits:      []domain.CommitRecord{signedCommit("c1", "alice", "AAAA")},
		blockLookups: true,
	}
	g, _ := newTestGatekeeper(p, GatekeeperConfig{PipelineTimeout: 20 * time.Millisecond})

	summary, err := g.HandlePullRequest(context.Background(), prEvent(domain.ActionOpened))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if summary.Conclusion != domain.CheckConclusionFailure {
		t.Fatalf("expected failure on deadline, got %s", summary.Conclusion)
	}
	last := p.runs()[len(p.runs())-1]
	if last.Status != domain.CheckStatusCompleted || last.Title != "Verification timed out" {
		t.Fatalf("unexpected conclude %+v", last)
	}
}

func TestGatekeeper_CancellationIsNotReportedAsTimeout(t *testing.T) {
	p := &fakePlatform{
		commits:      []domain.CommitRecord{signedCommit("c1", "alice", "AAAA")},
		blockLookups: true,
	}
	g, _ := newTestGatekeeper(p, GatekeeperConfig{PipelineTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	stop := time.AfterFunc(20*time.Millisecond, cancel)
	defer stop.Stop()

	summary, err := g.HandlePullRequest(ctx, prEvent(domain.ActionOpened))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if summary.Conclusion != domain.CheckConclusionFailure {
		t.Fatalf("expected failure on cancellation, got %s", summary.Conclusion)
	}
	last := p.runs()[len(p.runs())-1]
	if last.Status != domain.CheckStatusCompleted || last.Title != "Verification interrupted" {
		t.Fatalf("unexpected conclude %+v", last)
	}
}

func TestGatekeeper_IgnoredActions(t *testing.T) {
	p := &fakePlatform{}
	g, _ := newTestGatekeeper(p, GatekeeperConfig{})

	summary, err := g.HandlePullRequest(context.Background(), prEvent("closed"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if summary.Status != RunStatusIgnored {
		t.Fatalf("expected ignored, got %s", summary.Status)
	}
	if len(p.runs()) != 0 {
		t.Fatalf("ignored actions must not touch check runs")
	}
}

func TestGatekeeper_InvalidEvent(t *testing.T) {
	g, _ := newTestGatekeeper(&fakePlatform{}, GatekeeperConfig{})
	ev := prEvent(domain.ActionOpened)
	ev.HeadSHA = ""
	if _, err := g.HandlePullRequest(context.Background(), ev); !errors.Is(err, domain.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestGatekeeper_InstallationClientError(t *testing.T) {
	g := NewGatekeeper(&fakeFactory{err: errFakeAPI}, GatekeeperConfig{})
	g.Logger = discardLogger()
	if _, err := g.HandlePullRequest(context.Background(), prEvent(domain.ActionOpened)); !errors.Is(err, errFakeAPI) {
		t.Fatalf("expected factory error, got %v", err)
	}
}

func TestGatekeeper_CheckSuite(t *testing.T) {
	p := &fakePlatform{}
	g, store := newTestGatekeeper(p, GatekeeperConfig{})

	ignored, err := g.HandleCheckSuite(context.Background(), domain.CheckSuiteEvent{Action: "completed"})
	if err != nil || len(ignored) != 1 || ignored[0].Status != RunStatusIgnored {
		t.Fatalf("unexpected result %+v %v", ignored, err)
	}

	skipped, err := g.HandleCheckSuite(context.Background(), domain.CheckSuiteEvent{Action: domain.ActionRerequested})
	if err != nil || skipped[0].Status != RunStatusSkipped || skipped[0].Message != "No associated pull request" {
		t.Fatalf("unexpected result %+v %v", skipped, err)
	}

	ev := domain.CheckSuiteEvent{
		Action:         domain.ActionRerequested,
		Owner:          "acme",
		Repo:           "widgets",
		HeadSHA:        "headsha",
		PullRequests:   []int{3, 4},
		InstallationID: 42,
	}
	summaries, err := g.HandleCheckSuite(context.Background(), ev)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(summaries) != 2 || summaries[0].PullRequest != 3 || summaries[1].PullRequest != 4 {
		t.Fatalf("unexpected summaries %+v", summaries)
	}
	if len(store.records) != 2 {
		t.Fatalf("expected two stored evaluations, got %d", len(store.records))
	}
}

func TestGatekeeper_EvaluateHasNoCheckRunSideEffects(t *testing.T) {
	p := &fakePlatform{commits: []domain.CommitRecord{unsignedCommit("c1", "alice", 1)}}
	g, _ := newTestGatekeeper(p, GatekeeperConfig{})

	eval, err := g.Evaluate(context.Background(), p, "acme", "widgets", 7, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if eval.Report.Conclusion != domain.CheckConclusionFailure {
		t.Fatalf("expected failure")
	}
	if len(p.runs()) != 0 {
		t.Fatalf("evaluate must not create check runs")
	}
}
