package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gatekeeper/internal/domain"

	"github.com/google/uuid"
)

const (
	DefaultCheckName       = "Vouch Gatekeeper"
	DefaultPipelineTimeout = 5 * time.Minute

	concludeTimeout = 30 * time.Second
)

const (
	RunStatusCompleted = "completed"
	RunStatusError     = "error"
	RunStatusIgnored   = "ignored"
	RunStatusSkipped   = "skipped"
)

type GatekeeperConfig struct {
	CheckName       string
	PolicyPath      string
	PipelineTimeout time.Duration
	Concurrency     int
	KeyCacheTTL     time.Duration
	Verifier        CommitVerifierConfig
}

// Gatekeeper drives one pull request evaluation per event: announce an
// in-progress check run, resolve the policy, judge every commit, and conclude
// the check run. The check run always reaches the completed state.
type Gatekeeper struct {
	Clients     ClientFactory
	Authorizer  *Authorizer
	KeyCache    KeyCache
	Evaluations EvaluationRepository
	Logger      *slog.Logger
	Clock       Clock

	cfg GatekeeperConfig
}

func NewGatekeeper(clients ClientFactory, cfg GatekeeperConfig) *Gatekeeper {
	if cfg.CheckName == "" {
		cfg.CheckName = DefaultCheckName
	}
	if cfg.PolicyPath == "" {
		cfg.PolicyPath = DefaultPolicyPath
	}
	if cfg.PipelineTimeout <= 0 {
		cfg.PipelineTimeout = DefaultPipelineTimeout
	}
	return &Gatekeeper{
		Clients:    clients,
		Authorizer: &Authorizer{},
		cfg:        cfg,
	}
}

func (g *Gatekeeper) Config() GatekeeperConfig { return g.cfg }

// RunSummary is the acknowledgement returned to the event source.
type RunSummary struct {
	EvaluationID   string                 `json:"evaluation_id,omitempty"`
	Status         string                 `json:"status"`
	PullRequest    int                    `json:"pull_request,omitempty"`
	Conclusion     domain.CheckConclusion `json:"conclusion,omitempty"`
	Policy         string                 `json:"policy,omitempty"`
	CommitsChecked int                    `json:"commits_checked"`
	Passed         int                    `json:"passed"`
	Failed         int                    `json:"failed"`
	Message        string                 `json:"message,omitempty"`
}

// Evaluation is the decision for one pull request, before reporting.
type Evaluation struct {
	Scope   Scope
	Outcome domain.Outcome
	Report  Report
}

// HandlePullRequest runs the pipeline for opened, synchronize and reopened
// actions and ignores everything else.
func (g *Gatekeeper) HandlePullRequest(ctx context.Context, ev domain.PullRequestEvent) (RunSummary, error) {
	if !ev.Triggers() {
		return RunSummary{Status: RunStatusIgnored, PullRequest: ev.Number}, nil
	}
	if ev.Owner == "" || ev.Repo == "" || ev.Number <= 0 || ev.HeadSHA == "" {
		return RunSummary{}, fmt.Errorf("%w: pull request event missing repository, number or head sha", domain.ErrInvalidEvent)
	}
	if g.Clients == nil {
		return RunSummary{}, errors.New("platform client factory required")
	}
	client, err := g.Clients.ForInstallation(ctx, ev.InstallationID)
	if err != nil {
		return RunSummary{}, fmt.Errorf("installation %d client: %w", ev.InstallationID, err)
	}
	return g.Run(ctx, client, ev), nil
}

// HandleCheckSuite re-enters the pipeline as a synchronize for every pull
// request associated with a re-requested suite.
func (g *Gatekeeper) HandleCheckSuite(ctx context.Context, ev domain.CheckSuiteEvent) ([]RunSummary, error) {
	if ev.Action != domain.ActionRerequested {
		return []RunSummary{{Status: RunStatusIgnored}}, nil
	}
	prs := ev.PullRequestEvents()
	if len(prs) == 0 {
		return []RunSummary{{Status: RunStatusSkipped, Message: "No associated pull request"}}, nil
	}
	out := make([]RunSummary, 0, len(prs))
	var errs []error
	for _, pr := range prs {
		summary, err := g.HandlePullRequest(ctx, pr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, summary)
	}
	return out, errors.Join(errs...)
}

// Run executes announce -> evaluate -> conclude with an authenticated client.
func (g *Gatekeeper) Run(ctx context.Context, client PlatformClient, ev domain.PullRequestEvent) RunSummary {
	id := uuid.NewString()
	logger := g.logger().With(
		"evaluation_id", id,
		"owner", ev.Owner,
		"repo", ev.Repo,
		"pr", ev.Number,
		"head_sha", ev.HeadSHA,
	)
	ctx, cancel := context.WithTimeout(ctx, g.cfg.PipelineTimeout)
	defer cancel()

	checkID := g.announce(ctx, client, ev, logger)

	eval, err := g.Evaluate(ctx, client, ev.Owner, ev.Repo, ev.Number, logger)
	report := eval.Report
	if err != nil {
		logger.Error("pipeline failed", "error", err)
		report = PipelineFailureReport(err)
	} else if cut, interrupted := InterruptedReport(ctx, report); interrupted {
		logger.Warn("pipeline interrupted, concluding with partial results", "cause", ctx.Err())
		report = cut
	}

	// Concluding must happen even when ctx is already done.
	concludeCtx, concludeCancel := context.WithTimeout(context.WithoutCancel(ctx), concludeTimeout)
	defer concludeCancel()
	checkID = g.conclude(concludeCtx, client, ev, checkID, report, logger)

	summary := RunSummary{
		EvaluationID:   id,
		Status:         RunStatusCompleted,
		PullRequest:    ev.Number,
		Conclusion:     report.Conclusion,
		Policy:         eval.Scope.Policy.Label(),
		CommitsChecked: eval.Outcome.Total(),
		Passed:         len(eval.Outcome.Passed),
		Failed:         len(eval.Outcome.Failed),
	}
	if err != nil {
		summary.Status = RunStatusError
		summary.Policy = ""
		summary.Message = err.Error()
	}
	g.record(concludeCtx, id, ev, checkID, eval, report, err, logger)
	logger.Info("evaluation concluded",
		"conclusion", report.Conclusion,
		"passed", summary.Passed,
		"failed", summary.Failed,
		"lookup_failures", eval.Outcome.LookupFailureCount(),
	)
	return summary
}

// Evaluate resolves the policy and judges every commit of the pull request.
// It has no check-run side effects. The policy is read from the default
// branch so a pull request cannot relax the policy it is judged by.
func (g *Gatekeeper) Evaluate(ctx context.Context, client PlatformClient, owner, repo string, number int, logger *slog.Logger) (Evaluation, error) {
	if logger == nil {
		logger = g.logger()
	}
	content, found, err := client.GetRepositoryFile(ctx, owner, repo, g.cfg.PolicyPath, "")
	if err != nil {
		return Evaluation{}, fmt.Errorf("%w: fetch policy: %w", domain.ErrPipeline, err)
	}
	scope := Scope{
		Owner:  owner,
		Repo:   repo,
		Policy: ResolvePolicy(content, found, logger),
	}
	commits, err := client.ListPullRequestCommits(ctx, owner, repo, number)
	if err != nil {
		return Evaluation{Scope: scope}, fmt.Errorf("%w: list commits: %w", domain.ErrPipeline, err)
	}

	var keys KeyDirectory = client
	if g.KeyCache != nil {
		keys = &CachedKeyDirectory{Next: client, Cache: g.KeyCache, TTL: g.cfg.KeyCacheTTL, Logger: logger}
	}
	verifier := NewCommitVerifier(keys, client, g.cfg.Verifier)
	verifier.Logger = logger
	evaluator := &Evaluator{
		Verifier:    verifier,
		Authorizer:  g.Authorizer,
		Concurrency: g.cfg.Concurrency,
	}
	outcome := evaluator.Evaluate(ctx, scope, commits)
	if scope.Policy.PolicyType == domain.PolicyTypeExplicit && !scope.Policy.HasAllowlists() {
		logger.Warn("explicit policy without allowlists", "strict", g.strictExplicit())
	}
	return Evaluation{
		Scope:   scope,
		Outcome: outcome,
		Report: BuildReport(scope, outcome, ReportOptions{
			PolicyPath:     g.cfg.PolicyPath,
			StrictExplicit: g.strictExplicit(),
		}),
	}, nil
}

func (g *Gatekeeper) announce(ctx context.Context, client PlatformClient, ev domain.PullRequestEvent, logger *slog.Logger) int64 {
	in := InProgressReport()
	id, err := client.CreateOrUpdateCheckRun(ctx, domain.CheckRun{
		Owner:   ev.Owner,
		Repo:    ev.Repo,
		HeadSHA: ev.HeadSHA,
		Name:    g.cfg.CheckName,
		Status:  domain.CheckStatusInProgress,
		Title:   in.Title,
		Summary: in.Summary,
	})
	if err != nil {
		logger.Warn("announce check run failed", "error", err)
		return 0
	}
	return id
}

func (g *Gatekeeper) conclude(ctx context.Context, client PlatformClient, ev domain.PullRequestEvent, checkID int64, report Report, logger *slog.Logger) int64 {
	run := domain.CheckRun{
		ID:         checkID,
		Owner:      ev.Owner,
		Repo:       ev.Repo,
		HeadSHA:    ev.HeadSHA,
		Name:       g.cfg.CheckName,
		Status:     domain.CheckStatusCompleted,
		Conclusion: report.Conclusion,
		Title:      report.Title,
		Summary:    report.Summary,
		Text:       report.Text,
	}
	id, err := client.CreateOrUpdateCheckRun(ctx, run)
	if err != nil && checkID != 0 {
		// The announced run may be gone; a fresh completed run still
		// replaces the pending status on the commit.
		logger.Warn("conclude check run update failed, creating new run", "check_run_id", checkID, "error", err)
		run.ID = 0
		id, err = client.CreateOrUpdateCheckRun(ctx, run)
	}
	if err != nil {
		logger.Error("conclude check run failed", "error", err)
		return checkID
	}
	return id
}

func (g *Gatekeeper) record(ctx context.Context, id string, ev domain.PullRequestEvent, checkID int64, eval Evaluation, report Report, runErr error, logger *slog.Logger) {
	if g.Evaluations == nil {
		return
	}
	rec := domain.EvaluationRecord{
		ID:                 id,
		DeliveryID:         ev.DeliveryID,
		Owner:              ev.Owner,
		Repo:               ev.Repo,
		PullRequest:        ev.Number,
		HeadSHA:            ev.HeadSHA,
		CheckRunID:         checkID,
		PolicyType:         eval.Scope.Policy.PolicyType,
		PolicyDefault:      eval.Scope.Policy.IsDefault,
		Conclusion:         report.Conclusion,
		Title:              report.Title,
		PassedCount:        len(eval.Outcome.Passed),
		FailedCount:        len(eval.Outcome.Failed),
		LookupFailureCount: eval.Outcome.LookupFailureCount(),
		Commits:            append(append([]domain.CommitVerification{}, eval.Outcome.Failed...), eval.Outcome.Passed...),
		CreatedAt:          g.now().UTC(),
	}
	if runErr != nil {
		rec.PipelineError = runErr.Error()
	}
	if err := g.Evaluations.Save(ctx, rec); err != nil {
		logger.Error("store evaluation failed", "error", err)
	}
}

func (g *Gatekeeper) strictExplicit() bool {
	return g.Authorizer != nil && g.Authorizer.StrictExplicit
}

func (g *Gatekeeper) now() time.Time {
	if g.Clock != nil {
		return g.Clock()
	}
	return time.Now()
}

func (g *Gatekeeper) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}
