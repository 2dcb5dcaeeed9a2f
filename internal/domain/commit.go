package domain

import (
	"encoding/json"
	"fmt"
)

// Source is the trust category a commit was attributed to.
type Source uint8

const (
	SourceNone Source = iota
	SourceUnsignedMerge
	SourceBot
	SourceGitHubWebflow
	SourceGitHubGPG
	SourceGitHubVerified
)

var sourceNames = [...]string{
	SourceNone:           "none",
	SourceUnsignedMerge:  "unsigned_merge",
	SourceBot:            "bot",
	SourceGitHubWebflow:  "github_webflow",
	SourceGitHubGPG:      "github_gpg",
	SourceGitHubVerified: "github_verified",
}

func (s Source) String() string {
	if int(s) < len(sourceNames) {
		return sourceNames[s]
	}
	return fmt.Sprintf("source(%d)", uint8(s))
}

// PlatformExempt reports whether the source is trusted without consulting
// org membership or allowlists.
func (s Source) PlatformExempt() bool {
	switch s {
	case SourceUnsignedMerge, SourceBot, SourceGitHubWebflow:
		return true
	case SourceNone, SourceGitHubGPG, SourceGitHubVerified:
		return false
	}
	return false
}

func ParseSource(v string) (Source, error) {
	for i, name := range sourceNames {
		if name == v {
			return Source(i), nil
		}
	}
	return SourceNone, fmt.Errorf("unknown source %q", v)
}

func (s Source) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Source) UnmarshalText(b []byte) error {
	parsed, err := ParseSource(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// CommitSignature is the platform's verification sub-record for a commit.
type CommitSignature struct {
	Verified  bool
	Signature string
	KeyID     string
	Reason    string
}

// CommitRecord is a pull request commit as reported by the platform.
type CommitRecord struct {
	SHA          string
	AuthorName   string
	AuthorEmail  string
	AuthorLogin  string
	ParentCount  int
	Verification CommitSignature
}

func (c CommitRecord) IsSigned() bool { return c.Verification.Signature != "" }

func (c CommitRecord) IsMergeCommit() bool { return c.ParentCount > 1 }

// CommitVerification is the per-commit verdict. Err is non-nil exactly when
// the commit blocks the check.
type CommitVerification struct {
	SHA            string
	Author         string
	AuthorLogin    string
	KeyID          string
	IsSigned       bool
	IsVerified     bool
	IsBot          bool
	IsMergeCommit  bool
	Source         Source
	IsOrgMember    bool
	Organizations  []string
	LookupFailures []string
	Err            *CommitError
}

func (v CommitVerification) Passed() bool { return v.Err == nil }

func (v CommitVerification) ErrorMessage() string {
	if v.Err == nil {
		return ""
	}
	return v.Err.Message
}

// Identity is the handle shown for the commit in reports.
func (v CommitVerification) Identity() string {
	if v.AuthorLogin != "" {
		return v.AuthorLogin
	}
	return v.Author
}

type commitVerificationJSON struct {
	SHA            string   `json:"sha"`
	Author         string   `json:"author"`
	AuthorLogin    string   `json:"author_login,omitempty"`
	KeyID          string   `json:"key_id,omitempty"`
	IsSigned       bool     `json:"is_signed"`
	IsVerified     bool     `json:"is_verified"`
	IsBot          bool     `json:"is_bot"`
	IsMergeCommit  bool     `json:"is_merge_commit"`
	Source         Source   `json:"source"`
	IsOrgMember    bool     `json:"is_org_member"`
	Organizations  []string `json:"organizations,omitempty"`
	LookupFailures []string `json:"lookup_failures,omitempty"`
	Error          *string  `json:"error"`
	ErrorKind      string   `json:"error_kind,omitempty"`
}

func (v CommitVerification) MarshalJSON() ([]byte, error) {
	out := commitVerificationJSON{
		SHA:            v.SHA,
		Author:         v.Author,
		AuthorLogin:    v.AuthorLogin,
		KeyID:          v.KeyID,
		IsSigned:       v.IsSigned,
		IsVerified:     v.IsVerified,
		IsBot:          v.IsBot,
		IsMergeCommit:  v.IsMergeCommit,
		Source:         v.Source,
		IsOrgMember:    v.IsOrgMember,
		Organizations:  v.Organizations,
		LookupFailures: v.LookupFailures,
	}
	if v.Err != nil {
		msg := v.Err.Message
		out.Error = &msg
		out.ErrorKind = ErrorKindName(v.Err.Kind)
	}
	return json.Marshal(out)
}

func (v *CommitVerification) UnmarshalJSON(b []byte) error {
	var in commitVerificationJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*v = CommitVerification{
		SHA:            in.SHA,
		Author:         in.Author,
		AuthorLogin:    in.AuthorLogin,
		KeyID:          in.KeyID,
		IsSigned:       in.IsSigned,
		IsVerified:     in.IsVerified,
		IsBot:          in.IsBot,
		IsMergeCommit:  in.IsMergeCommit,
		Source:         in.Source,
		IsOrgMember:    in.IsOrgMember,
		Organizations:  in.Organizations,
		LookupFailures: in.LookupFailures,
	}
	if in.Error != nil {
		v.Err = NewCommitError(ErrorKindFromName(in.ErrorKind), *in.Error)
	}
	return nil
}

var errorKindNames = map[error]string{
	ErrSignatureMissing: "signature_missing",
	ErrSignatureInvalid: "signature_invalid",
	ErrPolicyViolation:  "policy_violation",
}

func ErrorKindName(kind error) string {
	if name, ok := errorKindNames[kind]; ok {
		return name
	}
	return ""
}

func ErrorKindFromName(name string) error {
	for kind, n := range errorKindNames {
		if n == name {
			return kind
		}
	}
	return nil
}

// Outcome partitions one evaluation's results.
type Outcome struct {
	Passed []CommitVerification `json:"passed"`
	Failed []CommitVerification `json:"failed"`
}

func NewOutcome(results []CommitVerification) Outcome {
	out := Outcome{
		Passed: []CommitVerification{},
		Failed: []CommitVerification{},
	}
	for _, r := range results {
		if r.Passed() {
			out.Passed = append(out.Passed, r)
		} else {
			out.Failed = append(out.Failed, r)
		}
	}
	return out
}

func (o Outcome) Conclusion() CheckConclusion {
	if len(o.Failed) > 0 {
		return CheckConclusionFailure
	}
	return CheckConclusionSuccess
}

func (o Outcome) Total() int { return len(o.Passed) + len(o.Failed) }

func (o Outcome) LookupFailureCount() int {
	n := 0
	for _, group := range [][]CommitVerification{o.Passed, o.Failed} {
		for _, r := range group {
			n += len(r.LookupFailures)
		}
	}
	return n
}
