package domain

import (
	"sort"
	"strings"
)

type PolicyType string

const (
	PolicyTypeImplicitOrgTrust PolicyType = "implicit_organization_trust"
	PolicyTypeExplicit         PolicyType = "explicit"
)

func (t PolicyType) Valid() bool {
	switch t {
	case PolicyTypeImplicitOrgTrust, PolicyTypeExplicit:
		return true
	}
	return false
}

// Policy is the trust policy a pull request is judged against. A Policy is
// built once per evaluation and never mutated afterwards; the allowlists are
// only reachable through copying accessors.
type Policy struct {
	RequireSignedCommits      bool
	AllowUnsignedMergeCommits bool
	AllowBots                 bool
	PolicyType                PolicyType
	IsDefault                 bool

	allowedOrganizations map[string]struct{}
	allowedUsers         map[string]struct{}
}

// DefaultPolicy is the zero-config policy: org members are trusted.
func DefaultPolicy() Policy {
	return Policy{
		RequireSignedCommits:      true,
		AllowUnsignedMergeCommits: false,
		AllowBots:                 true,
		PolicyType:                PolicyTypeImplicitOrgTrust,
		IsDefault:                 true,
	}
}

// WithAllowlists returns a copy of p carrying the given allowlists. Entries
// are trimmed and compared case-insensitively.
func (p Policy) WithAllowlists(organizations, users []string) Policy {
	p.allowedOrganizations = toSet(organizations)
	p.allowedUsers = toSet(users)
	return p
}

func (p Policy) AllowedOrganizations() []string { return fromSet(p.allowedOrganizations) }

func (p Policy) AllowedUsers() []string { return fromSet(p.allowedUsers) }

func (p Policy) HasAllowlists() bool {
	return len(p.allowedOrganizations) > 0 || len(p.allowedUsers) > 0
}

func (p Policy) AllowsOrganization(org string) bool {
	_, ok := p.allowedOrganizations[normalizeEntry(org)]
	return ok
}

// AllowsUser matches a platform login against allowed_users, which may list
// it as "github:<login>" or as the bare login.
func (p Policy) AllowsUser(login string) bool {
	login = normalizeEntry(login)
	if login == "" {
		return false
	}
	if _, ok := p.allowedUsers["github:"+login]; ok {
		return true
	}
	_, ok := p.allowedUsers[login]
	return ok
}

// Label is "default" for the zero-config policy and "explicit" otherwise.
func (p Policy) Label() string {
	if p.IsDefault {
		return "default"
	}
	return "explicit"
}

func normalizeEntry(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = normalizeEntry(v)
		if v == "" {
			continue
		}
		out[v] = struct{}{}
	}
	return out
}

func fromSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// RuleInput is the document handed to the optional Rego rule layer.
type RuleInput struct {
	Repository RuleRepository `json:"repository"`
	Policy     RulePolicy     `json:"policy"`
	Commit     RuleCommit     `json:"commit"`
}

type RuleRepository struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

type RulePolicy struct {
	Type                 string   `json:"type"`
	IsDefault            bool     `json:"is_default"`
	AllowedOrganizations []string `json:"allowed_organizations"`
	AllowedUsers         []string `json:"allowed_users"`
}

type RuleCommit struct {
	SHA           string   `json:"sha"`
	Author        string   `json:"author"`
	AuthorLogin   string   `json:"author_login"`
	Source        string   `json:"source"`
	IsSigned      bool     `json:"is_signed"`
	IsVerified    bool     `json:"is_verified"`
	IsBot         bool     `json:"is_bot"`
	IsMergeCommit bool     `json:"is_merge_commit"`
	IsOrgMember   bool     `json:"is_org_member"`
	KeyID         string   `json:"key_id,omitempty"`
	Organizations []string `json:"organizations,omitempty"`
}

type RuleDeny struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type RuleResult struct {
	Allow bool       `json:"allow"`
	Deny  []RuleDeny `json:"deny,omitempty"`
}

type RuleEvaluation struct {
	BundleHash string     `json:"bundle_hash"`
	Result     RuleResult `json:"result"`
}
