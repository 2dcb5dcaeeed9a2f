package usecase

import (
	"fmt"
	"log/slog"
	"strings"

	"gatekeeper/internal/domain"

	"gopkg.in/yaml.v3"
)

const DefaultPolicyPath = ".github/vouch-policy.yml"

const (
	keyRequireSignedCommits      = "require_signed_commits"
	keyAllowUnsignedMergeCommits = "allow_unsigned_merge_commits"
	keyAllowBots                 = "allow_bots"
	keyPolicyType                = "policy_type"
	keyAllowedOrganizations      = "allowed_organizations"
	keyAllowedUsers              = "allowed_users"
	keyPolicySection             = "policy"
)

// ResolvePolicy turns a policy document into a Policy. A missing or
// unparseable document yields domain.DefaultPolicy; it never fails.
func ResolvePolicy(content string, found bool, logger *slog.Logger) domain.Policy {
	if logger == nil {
		logger = slog.Default()
	}
	if !found || strings.TrimSpace(content) == "" {
		return domain.DefaultPolicy()
	}
	fields, err := decodePolicyFields(content)
	if err != nil {
		logger.Warn("policy document unparseable, using default policy", "error", err)
		return domain.DefaultPolicy()
	}

	policy := domain.DefaultPolicy()
	policy.IsDefault = false
	if v, ok := fields[keyRequireSignedCommits]; ok {
		policy.RequireSignedCommits = looseBool(v)
	}
	if v, ok := fields[keyAllowUnsignedMergeCommits]; ok {
		policy.AllowUnsignedMergeCommits = looseBool(v)
	}
	if v, ok := fields[keyAllowBots]; ok {
		policy.AllowBots = looseBool(v)
	}
	if v, ok := fields[keyPolicyType]; ok {
		pt := domain.PolicyType(strings.ToLower(strings.TrimSpace(scalarString(v))))
		if pt.Valid() {
			policy.PolicyType = pt
		} else {
			logger.Warn("unknown policy_type, keeping default", "policy_type", scalarString(v))
		}
	}
	return policy.WithAllowlists(stringList(fields[keyAllowedOrganizations]), stringList(fields[keyAllowedUsers]))
}

// decodePolicyFields returns the recognized keys of the document, read from
// the top level or from a nested "policy" mapping. Unrecognized keys are
// dropped.
func decodePolicyFields(content string) (map[string]any, error) {
	var root any
	if err := yaml.Unmarshal([]byte(content), &root); err != nil {
		return nil, err
	}
	doc, ok := root.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("policy document root is %T, want mapping", root)
	}
	fields := make(map[string]any)
	collect := func(m map[string]any) {
		for _, key := range []string{
			keyRequireSignedCommits,
			keyAllowUnsignedMergeCommits,
			keyAllowBots,
			keyPolicyType,
			keyAllowedOrganizations,
			keyAllowedUsers,
		} {
			if v, ok := m[key]; ok && v != nil {
				fields[key] = v
			}
		}
	}
	collect(doc)
	if nested, ok := doc[keyPolicySection].(map[string]any); ok {
		collect(nested)
	}
	return fields, nil
}

// looseBool treats any value whose text contains "true" as true.
func looseBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return strings.Contains(strings.ToLower(scalarString(v)), "true")
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func stringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := strings.TrimSpace(scalarString(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		var out []string
		for _, part := range strings.Split(scalarString(t), ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
}
