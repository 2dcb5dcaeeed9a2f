package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gatekeeper/internal/domain"
)

const DefaultLookupTimeout = 10 * time.Second

// Known platform-UI signing keys and bot accounts used when no override is
// configured.
var (
	DefaultWebflowKeyIDs = []string{"4AEE18F83AFDEB23", "B5690EEEBB952194"}
	DefaultKnownBots     = []string{"dependabot[bot]", "github-actions[bot]", "renovate[bot]"}
)

type CommitVerifierConfig struct {
	WebflowKeyIDs []string
	KnownBots     []string
	LookupTimeout time.Duration
}

// CommitVerifier classifies the signature provenance of single commits.
type CommitVerifier struct {
	Keys          KeyDirectory
	Members       MembershipDirectory
	Logger        *slog.Logger
	webflowKeys   map[string]struct{}
	knownBots     map[string]struct{}
	lookupTimeout time.Duration
}

func NewCommitVerifier(keys KeyDirectory, members MembershipDirectory, cfg CommitVerifierConfig) *CommitVerifier {
	if cfg.WebflowKeyIDs == nil {
		cfg.WebflowKeyIDs = DefaultWebflowKeyIDs
	}
	if cfg.KnownBots == nil {
		cfg.KnownBots = DefaultKnownBots
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	return &CommitVerifier{
		Keys:          keys,
		Members:       members,
		webflowKeys:   upperSet(cfg.WebflowKeyIDs),
		knownBots:     lowerSet(cfg.KnownBots),
		lookupTimeout: cfg.LookupTimeout,
	}
}

// Scope is the repository context a commit is judged in.
type Scope struct {
	Owner  string
	Repo   string
	Policy domain.Policy
}

func (v *CommitVerifier) IsBot(login string) bool {
	_, ok := v.knownBots[strings.ToLower(login)]
	return ok
}

func (v *CommitVerifier) IsWebflowKey(keyID string) bool {
	if keyID == "" {
		return false
	}
	_, ok := v.webflowKeys[strings.ToUpper(keyID)]
	return ok
}

// Verify runs the classification state machine for one commit. Lookup
// failures never abort it; they degrade the commit's trust level and are
// recorded in LookupFailures.
func (v *CommitVerifier) Verify(ctx context.Context, scope Scope, commit domain.CommitRecord) domain.CommitVerification {
	policy := scope.Policy
	result := domain.CommitVerification{
		SHA:           commit.SHA,
		Author:        commit.AuthorName,
		AuthorLogin:   commit.AuthorLogin,
		KeyID:         commit.Verification.KeyID,
		IsSigned:      commit.IsSigned(),
		IsVerified:    commit.Verification.Verified,
		IsBot:         v.IsBot(commit.AuthorLogin),
		IsMergeCommit: commit.IsMergeCommit(),
		Source:        domain.SourceNone,
	}

	if !result.IsSigned {
		switch {
		case result.IsMergeCommit && policy.AllowUnsignedMergeCommits:
			result.Source = domain.SourceUnsignedMerge
		case result.IsBot && policy.AllowBots:
			result.Source = domain.SourceBot
		case policy.RequireSignedCommits:
			result.Err = domain.NewCommitError(domain.ErrSignatureMissing, "Commit is not signed")
		default:
			v.resolveMembership(ctx, scope, &result)
		}
		return result
	}

	if result.IsBot && policy.AllowBots {
		result.Source = domain.SourceBot
		return result
	}

	if v.IsWebflowKey(result.KeyID) {
		result.Source = domain.SourceGitHubWebflow
		return result
	}

	if !result.IsVerified {
		result.Err = domain.NewCommitError(domain.ErrSignatureInvalid,
			fmt.Sprintf("Signature verification failed: %s", commit.Verification.Reason))
		return result
	}

	result.Source = domain.SourceGitHubVerified
	if result.AuthorLogin != "" {
		keys := v.lookupKeys(ctx, result.AuthorLogin)
		if keys.Failed {
			v.recordFailure(&result, "signing keys", keys.Reason)
		} else if keys.Match(result.KeyID) {
			result.Source = domain.SourceGitHubGPG
		}
	}
	v.resolveMembership(ctx, scope, &result)
	return result
}

// resolveMembership records membership in the repository owner's org and,
// for explicit policies, in every allowlisted organization.
func (v *CommitVerifier) resolveMembership(ctx context.Context, scope Scope, result *domain.CommitVerification) {
	if result.AuthorLogin == "" {
		return
	}
	orgs := []string{scope.Owner}
	if scope.Policy.PolicyType == domain.PolicyTypeExplicit {
		for _, org := range scope.Policy.AllowedOrganizations() {
			if !strings.EqualFold(org, scope.Owner) {
				orgs = append(orgs, org)
			}
		}
	}
	for i, org := range orgs {
		if org == "" {
			continue
		}
		m := v.lookupMembership(ctx, org, result.AuthorLogin)
		if m.Failed {
			v.recordFailure(result, "membership in "+org, m.Reason)
			continue
		}
		if !m.Member {
			continue
		}
		if i == 0 {
			result.IsOrgMember = true
		}
		result.Organizations = append(result.Organizations, org)
	}
}

func (v *CommitVerifier) lookupKeys(ctx context.Context, login string) domain.KeyLookup {
	if v.Keys == nil {
		return domain.KeyLookupFailed("no key directory configured")
	}
	ctx, cancel := context.WithTimeout(ctx, v.lookupTimeout)
	defer cancel()
	keys, err := v.Keys.GetUserSigningKeys(ctx, login)
	if err != nil {
		return domain.KeyLookupFailed(lookupReason(err))
	}
	return domain.KeysFound(keys)
}

func (v *CommitVerifier) lookupMembership(ctx context.Context, org, login string) domain.MembershipLookup {
	if v.Members == nil {
		return domain.MembershipLookupFailed("no membership directory configured")
	}
	ctx, cancel := context.WithTimeout(ctx, v.lookupTimeout)
	defer cancel()
	member, err := v.Members.IsOrganizationMember(ctx, org, login)
	if err != nil {
		return domain.MembershipLookupFailed(lookupReason(err))
	}
	return domain.MembershipFound(member)
}

func (v *CommitVerifier) recordFailure(result *domain.CommitVerification, what, reason string) {
	msg := what + ": " + reason
	result.LookupFailures = append(result.LookupFailures, msg)
	v.logger().Warn("lookup failed",
		"sha", result.SHA,
		"login", result.AuthorLogin,
		"lookup", what,
		"error", fmt.Errorf("%w: %s", domain.ErrLookupFailed, reason),
	)
}

func (v *CommitVerifier) logger() *slog.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return slog.Default()
}

func lookupReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	return err.Error()
}

func upperSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out[strings.ToUpper(v)] = struct{}{}
		}
	}
	return out
}

func lowerSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out[strings.ToLower(v)] = struct{}{}
		}
	}
	return out
}
