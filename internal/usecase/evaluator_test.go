package usecase

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"gatekeeper/internal/domain"
)

func newTestEvaluator(p *fakePlatform, concurrency int) *Evaluator {
	return &Evaluator{
		Verifier:    newTestVerifier(p),
		Authorizer:  &Authorizer{},
		Concurrency: concurrency,
	}
}

func TestEvaluator_EmptyCommitListSucceeds(t *testing.T) {
	e := newTestEvaluator(&fakePlatform{}, 0)
	out := e.Evaluate(context.Background(), scopeWith(domain.DefaultPolicy()), nil)
	if out.Conclusion() != domain.CheckConclusionSuccess {
		t.Fatalf("expected success, got %s", out.Conclusion())
	}
	if out.Passed == nil || out.Failed == nil {
		t.Fatalf("expected non-nil empty slices")
	}
}

func TestEvaluator_PartitionPreservesOrder(t *testing.T) {
	p := &fakePlatform{
		keys:    map[string][]domain.SigningKey{"alice": {{KeyID: "AAAA"}}},
		members: map[string]bool{"acme/alice": true},
	}
	var commits []domain.CommitRecord
	var wantPassed, wantFailed []string
	for i := 0; i < 20; i++ {
		sha := fmt.Sprintf("sha%02d", i)
		if i%3 == 0 {
			commits = append(commits, unsignedCommit(sha, "alice", 1))
			wantFailed = append(wantFailed, sha)
			continue
		}
		commits = append(commits, signedCommit(sha, "alice", "AAAA"))
		wantPassed = append(wantPassed, sha)
	}

	out := newTestEvaluator(p, 3).Evaluate(context.Background(), scopeWith(domain.DefaultPolicy()), commits)
	if out.Total() != len(commits) {
		t.Fatalf("expected %d results, got %d", len(commits), out.Total())
	}
	if got := shas(out.Passed); !reflect.DeepEqual(got, wantPassed) {
		t.Fatalf("passed order mismatch: %v", got)
	}
	if got := shas(out.Failed); !reflect.DeepEqual(got, wantFailed) {
		t.Fatalf("failed order mismatch: %v", got)
	}
	if out.Conclusion() != domain.CheckConclusionFailure {
		t.Fatalf("expected failure conclusion")
	}
}

func TestEvaluator_Idempotent(t *testing.T) {
	p := &fakePlatform{members: map[string]bool{"acme/alice": true}}
	commits := []domain.CommitRecord{
		signedCommit("a1", "alice", "AAAA"),
		signedCommit("a2", "mallory", "BBBB"),
		unsignedCommit("a3", "dependabot[bot]", 1),
	}
	e := newTestEvaluator(p, 2)
	scope := scopeWith(domain.DefaultPolicy())

	first := e.Evaluate(context.Background(), scope, commits)
	second := e.Evaluate(context.Background(), scope, commits)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("evaluations differ:\n%+v\n%+v", first, second)
	}
}

func shas(results []domain.CommitVerification) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.SHA)
	}
	return out
}
