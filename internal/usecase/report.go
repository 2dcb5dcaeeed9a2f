package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gatekeeper/internal/domain"
)

const shortSHALength = 7

// Report is the user-visible content of a concluded check run.
type Report struct {
	Conclusion domain.CheckConclusion
	Title      string
	Summary    string
	Text       string
}

// ReportOptions carries presentation context that is not part of the outcome.
type ReportOptions struct {
	PolicyPath     string
	StrictExplicit bool
}

// BuildReport renders an outcome. It is a pure function of its inputs.
func BuildReport(scope Scope, outcome domain.Outcome, opts ReportOptions) Report {
	r := Report{
		Conclusion: outcome.Conclusion(),
		Text:       reportDetails(scope, outcome, opts),
	}
	if len(outcome.Failed) > 0 {
		r.Title = fmt.Sprintf("%d commit(s) failed verification", len(outcome.Failed))
		r.Summary = FailureSummary(outcome.Failed)
		return r
	}
	r.Title = fmt.Sprintf("All %d commit(s) verified", len(outcome.Passed))
	r.Summary = SuccessSummary(scope, outcome.Passed)
	return r
}

// PipelineFailureReport is concluded when the run could not evaluate commits.
func PipelineFailureReport(err error) Report {
	return Report{
		Conclusion: domain.CheckConclusionFailure,
		Title:      "Vouch Gatekeeper error",
		Summary:    fmt.Sprintf("An error occurred: %v", err),
		Text:       "Commits were not evaluated. Re-run the check once the problem is resolved.",
	}
}

// InterruptedReport replaces partial when ctx ended before the evaluation
// finished. A deadline reads as a timeout; any other cancellation, such as a
// service shutdown, reads as an interruption. It reports false while ctx is
// still live.
func InterruptedReport(ctx context.Context, partial Report) (Report, bool) {
	err := ctx.Err()
	if err == nil {
		return partial, false
	}
	title, reason := "Verification interrupted", "The evaluation was cancelled before it finished"
	if errors.Is(err, context.DeadlineExceeded) {
		title, reason = "Verification timed out", "The evaluation did not finish in time"
	}
	return Report{
		Conclusion: domain.CheckConclusionFailure,
		Title:      title,
		Summary:    reason + "; partial results follow.\n\n" + partial.Summary,
		Text:       partial.Text,
	}, true
}

// InProgressReport is attached to the announce phase.
func InProgressReport() Report {
	return Report{
		Title:   "Verifying commit signatures...",
		Summary: "Checking all commits against the Vouch policy.",
	}
}

// SuccessSummary lists the unique authors of passed commits.
func SuccessSummary(scope Scope, passed []domain.CommitVerification) string {
	seen := make(map[string]struct{})
	for _, c := range passed {
		label := c.Identity()
		switch {
		case c.IsBot:
			label += " (Bot)"
		case c.IsOrgMember && scope.Owner != "":
			label += " (" + scope.Owner + ")"
		}
		seen[label] = struct{}{}
	}
	authors := make([]string, 0, len(seen))
	for a := range seen {
		authors = append(authors, a)
	}
	sort.Strings(authors)

	list := strings.Join(authors, ", ")
	if list == "" {
		list = "none"
	}
	note := ""
	if scope.Policy.IsDefault {
		note = " (Zero-Config)"
	}
	return "Authors: " + list + note
}

// FailureSummary has one line per failed commit.
func FailureSummary(failed []domain.CommitVerification) string {
	var b strings.Builder
	b.WriteString("The following commits failed verification:\n")
	for _, c := range failed {
		fmt.Fprintf(&b, "\n- `%s` by **%s**: %s", ShortSHA(c.SHA), c.Author, c.ErrorMessage())
	}
	return b.String()
}

func reportDetails(scope Scope, outcome domain.Outcome, opts ReportOptions) string {
	var b strings.Builder
	b.WriteString("## Commit Verification Report\n\n")
	fmt.Fprintf(&b, "**Policy Type:** %s\n\n", scope.Policy.PolicyType)

	if scope.Policy.IsDefault {
		path := opts.PolicyPath
		if path == "" {
			path = DefaultPolicyPath
		}
		fmt.Fprintf(&b, "> Using Zero-Config defaults. Add `%s` to customize.\n\n", path)
	}
	if scope.Policy.PolicyType == domain.PolicyTypeExplicit && !scope.Policy.HasAllowlists() {
		if opts.StrictExplicit {
			b.WriteString("> Explicit policy has empty allowlists: no signer is authorized.\n\n")
		} else {
			b.WriteString("> Explicit policy has empty allowlists: every verified signer is authorized.\n\n")
		}
	}

	if len(outcome.Failed) > 0 {
		b.WriteString("### Failed Commits\n\n")
		b.WriteString("| SHA | Author | Error |\n")
		b.WriteString("|-----|--------|-------|\n")
		for _, c := range outcome.Failed {
			fmt.Fprintf(&b, "| `%s` | %s | %s |\n", ShortSHA(c.SHA), cell(c.Author), cell(c.ErrorMessage()))
		}
		b.WriteString("\n")
	}

	if len(outcome.Passed) > 0 {
		b.WriteString("### Verified Commits\n\n")
		b.WriteString("| SHA | Author | Source | Identity |\n")
		b.WriteString("|-----|--------|--------|----------|\n")
		for _, c := range outcome.Passed {
			identity := ""
			if c.AuthorLogin != "" {
				identity = "GitHub: " + c.AuthorLogin
			}
			fmt.Fprintf(&b, "| `%s` | %s | %s | %s |\n", ShortSHA(c.SHA), cell(c.Author), c.Source, cell(identity))
		}
		b.WriteString("\n")
	}

	var lookups []string
	for _, group := range [][]domain.CommitVerification{outcome.Failed, outcome.Passed} {
		for _, c := range group {
			for _, reason := range c.LookupFailures {
				lookups = append(lookups, fmt.Sprintf("- `%s`: %s", ShortSHA(c.SHA), reason))
			}
		}
	}
	if len(lookups) > 0 {
		b.WriteString("### Lookup Failures\n\n")
		b.WriteString("These lookups could not be completed and were treated as negative.\n\n")
		b.WriteString(strings.Join(lookups, "\n"))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func ShortSHA(sha string) string {
	if len(sha) > shortSHALength {
		return sha[:shortSHALength]
	}
	return sha
}

func cell(v string) string {
	return strings.ReplaceAll(strings.ReplaceAll(v, "|", `\|`), "\n", " ")
}
