package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gatekeeper/internal/domain"
)

// Authorizer applies the trust policy to a verified commit. It may overturn
// a cryptographically valid result into a policy violation.
type Authorizer struct {
	// StrictExplicit denies everyone under an explicit policy whose
	// allowlists are both empty instead of allowing every signer.
	StrictExplicit bool
	Rules          RuleEngine
	Logger         *slog.Logger
}

// Authorize sets result.Err when the commit is not authorized. Results that
// already carry an error are returned unchanged.
func (a *Authorizer) Authorize(ctx context.Context, scope Scope, result domain.CommitVerification) domain.CommitVerification {
	if result.Err != nil {
		return result
	}
	if !a.allowed(scope.Policy, result) {
		result.Err = domain.NewCommitError(domain.ErrPolicyViolation,
			fmt.Sprintf("User '%s' is not authorized by policy", result.Identity()))
		return result
	}
	if a == nil || a.Rules == nil {
		return result
	}
	return a.applyRules(ctx, scope, result)
}

func (a *Authorizer) allowed(policy domain.Policy, result domain.CommitVerification) bool {
	if result.Source.PlatformExempt() {
		return true
	}
	switch policy.PolicyType {
	case domain.PolicyTypeExplicit:
		if !policy.HasAllowlists() {
			return a == nil || !a.StrictExplicit
		}
		if policy.AllowsUser(result.AuthorLogin) {
			return true
		}
		for _, org := range result.Organizations {
			if policy.AllowsOrganization(org) {
				return true
			}
		}
		return false
	case domain.PolicyTypeImplicitOrgTrust:
		return result.IsOrgMember
	}
	return false
}

// applyRules consults the rule engine. An engine error blocks the commit:
// rules are an extra restriction, so failing to evaluate them cannot pass.
func (a *Authorizer) applyRules(ctx context.Context, scope Scope, result domain.CommitVerification) domain.CommitVerification {
	eval, err := a.Rules.Evaluate(ctx, ruleInput(scope, result))
	if err != nil {
		a.logger().Error("rule evaluation failed", "sha", result.SHA, "error", err)
		result.Err = domain.NewCommitError(domain.ErrPolicyViolation, "Policy rules could not be evaluated")
		return result
	}
	if eval.Result.Allow && len(eval.Result.Deny) == 0 {
		return result
	}
	code := "POLICY_DENY"
	if len(eval.Result.Deny) > 0 && eval.Result.Deny[0].Code != "" {
		code = eval.Result.Deny[0].Code
	}
	result.Err = domain.NewCommitError(domain.ErrPolicyViolation, "Denied by policy rule: "+code)
	return result
}

func ruleInput(scope Scope, result domain.CommitVerification) domain.RuleInput {
	return domain.RuleInput{
		Repository: domain.RuleRepository{Owner: scope.Owner, Name: scope.Repo},
		Policy: domain.RulePolicy{
			Type:                 string(scope.Policy.PolicyType),
			IsDefault:            scope.Policy.IsDefault,
			AllowedOrganizations: nonNil(scope.Policy.AllowedOrganizations()),
			AllowedUsers:         nonNil(scope.Policy.AllowedUsers()),
		},
		Commit: domain.RuleCommit{
			SHA:           result.SHA,
			Author:        result.Author,
			AuthorLogin:   strings.ToLower(result.AuthorLogin),
			Source:        result.Source.String(),
			IsSigned:      result.IsSigned,
			IsVerified:    result.IsVerified,
			IsBot:         result.IsBot,
			IsMergeCommit: result.IsMergeCommit,
			IsOrgMember:   result.IsOrgMember,
			KeyID:         result.KeyID,
			Organizations: result.Organizations,
		},
	}
}

func (a *Authorizer) logger() *slog.Logger {
	if a != nil && a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
