package policyopa

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"gatekeeper/internal/domain"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join("..", "..", "..", "policy", "bundles", "gatekeeper")
	engine, err := NewEngineFromBundlePath(context.Background(), path)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func baseRuleInput() domain.RuleInput {
	return domain.RuleInput{
		Repository: domain.RuleRepository{Owner: "acme", Name: "widgets"},
		Policy: domain.RulePolicy{
			Type:                 "implicit_organization_trust",
			IsDefault:            true,
			AllowedOrganizations: []string{},
			AllowedUsers:         []string{},
		},
		Commit: domain.RuleCommit{
			SHA:         "abc123",
			Author:      "Alice",
			AuthorLogin: "alice",
			Source:      "github_gpg",
			IsSigned:    true,
			IsVerified:  true,
			IsOrgMember: true,
		},
	}
}

func TestEngineDeterministic(t *testing.T) {
	engine := newEngine(t)
	input := baseRuleInput()

	first, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate first: %v", err)
	}
	second, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate second: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected deterministic rule evaluation")
	}
	if !first.Result.Allow || len(first.Result.Deny) != 0 {
		t.Fatalf("expected allow for baseline input, got %+v", first.Result)
	}
	if first.BundleHash == "" || first.BundleHash != engine.BundleHash() {
		t.Fatalf("expected bundle hash to be set")
	}
}

func TestEngineDeniesBlockedUser(t *testing.T) {
	engine := newEngine(t)
	input := baseRuleInput()
	input.Commit.AuthorLogin = "mallory"

	out, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.Result.Allow {
		t.Fatalf("expected deny")
	}
	if len(out.Result.Deny) != 1 || out.Result.Deny[0].Code != "USER_BLOCKED" {
		t.Fatalf("unexpected denies %+v", out.Result.Deny)
	}
}

func TestEngineDenyOrdering(t *testing.T) {
	dir := copyBundle(t, `{"gatekeeper": {"config": {"blocked_users": ["Mallory"], "require_registered_key": true}}}`)
	engine, err := NewEngineFromBundlePath(context.Background(), dir)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	input := baseRuleInput()
	input.Commit.AuthorLogin = "mallory"
	input.Commit.Source = "github_verified"

	out, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	var codes []string
	for _, d := range out.Result.Deny {
		codes = append(codes, d.Code)
	}
	if !reflect.DeepEqual(codes, []string{"KEY_NOT_REGISTERED", "USER_BLOCKED"}) {
		t.Fatalf("unexpected deny order %v", codes)
	}
}

func TestBundleHashTracksContent(t *testing.T) {
	a := copyBundle(t, `{"gatekeeper": {"config": {"blocked_users": []}}}`)
	b := copyBundle(t, `{"gatekeeper": {"config": {"blocked_users": ["x"]}}}`)
	if err := os.WriteFile(filepath.Join(a, "README.md"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ha, err := ComputeBundleHashFromPath(a)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hb, err := ComputeBundleHashFromPath(b)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if ha == hb {
		t.Fatalf("expected data changes to change the hash")
	}
	if err := os.Remove(filepath.Join(a, "README.md")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	again, _ := ComputeBundleHashFromPath(a)
	if again != ha {
		t.Fatalf("non-normative files must not affect the hash")
	}
}

func TestEngineRejectsTimeBuiltin(t *testing.T) {
	rejectBuiltin(t, "time.now_ns()")
}

func TestEngineRejectsHttpSend(t *testing.T) {
	rejectBuiltin(t, `http.send({"method": "get", "url": "https://example.com"})`)
}

func rejectBuiltin(t *testing.T, expr string) {
	t.Helper()
	dir := t.TempDir()
	regoContent := `package gatekeeper.commit
result := {"allow": true, "deny": []} {
  ` + expr + `
}`
	if err := os.WriteFile(filepath.Join(dir, "policy.rego"), []byte(regoContent), 0o644); err != nil {
		t.Fatalf("write rego: %v", err)
	}
	if _, err := NewEngineFromBundlePath(context.Background(), dir); err == nil {
		t.Fatalf("expected builtin to be rejected")
	}
}

func copyBundle(t *testing.T, data string) string {
	t.Helper()
	src, err := os.ReadFile(filepath.Join("..", "..", "..", "policy", "bundles", "gatekeeper", "commit.rego"))
	if err != nil {
		t.Fatalf("read rego: %v", err)
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "commit.rego"), src, 0o644); err != nil {
		t.Fatalf("write rego: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "data.json"), []byte(data), 0o644); err != nil {
		t.Fatalf("write data: %v", err)
	}
	return dir
}
