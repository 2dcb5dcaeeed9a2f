package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gatekeeper/internal/domain"
	"gatekeeper/internal/infra/cachemem"
	"gatekeeper/internal/infra/githubapi"
	"gatekeeper/internal/usecase"

	"github.com/spf13/cobra"
)

type evaluateOptions struct {
	owner       string
	repo        string
	number      int
	token       string
	apiURL      string
	policyPath  string
	concurrency int
	timeout     time.Duration
	strict      bool
	jsonOut     bool
}

func newEvaluateCmd(logger func() *slog.Logger) *cobra.Command {
	opts := evaluateOptions{}
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a pull request without touching its check runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd, opts, logger())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.owner, "owner", "", "repository owner")
	f.StringVar(&opts.repo, "repo", "", "repository name")
	f.IntVar(&opts.number, "pr", 0, "pull request number")
	f.StringVar(&opts.token, "token", "", "GitHub token (default $GITHUB_TOKEN)")
	f.StringVar(&opts.apiURL, "api-url", githubapi.DefaultAPIURL, "GitHub API base URL")
	f.StringVar(&opts.policyPath, "policy-path", usecase.DefaultPolicyPath, "policy file path in the repository")
	f.IntVar(&opts.concurrency, "concurrency", usecase.DefaultVerifyConcurrency, "commits verified in parallel")
	f.DurationVar(&opts.timeout, "timeout", usecase.DefaultPipelineTimeout, "overall evaluation timeout")
	f.BoolVar(&opts.strict, "strict-explicit", false, "deny everyone under an explicit policy without allowlists")
	f.BoolVar(&opts.jsonOut, "json", false, "print commit results as JSON")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("pr")
	return cmd
}

func runEvaluate(cmd *cobra.Command, opts evaluateOptions, logger *slog.Logger) error {
	token := opts.token
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	factory, err := githubapi.NewStaticFactory(token, githubapi.Options{APIURL: opts.apiURL})
	if err != nil {
		return err
	}

	gk := usecase.NewGatekeeper(factory, usecase.GatekeeperConfig{
		PolicyPath:      opts.policyPath,
		PipelineTimeout: opts.timeout,
		Concurrency:     opts.concurrency,
	})
	gk.Authorizer = &usecase.Authorizer{StrictExplicit: opts.strict, Logger: logger}
	gk.KeyCache = cachemem.New()
	gk.Logger = logger

	ctx, cancel := contextWithTimeout(cmd, opts.timeout)
	defer cancel()
	eval, err := gk.Evaluate(ctx, factory.Client(), opts.owner, opts.repo, opts.number, logger)
	if err != nil {
		return err
	}
	report := eval.Report
	if cut, interrupted := usecase.InterruptedReport(ctx, report); interrupted {
		report = cut
	}

	out := cmd.OutOrStdout()
	if opts.jsonOut {
		if err := writeJSON(out, evaluateResult{
			Conclusion: report.Conclusion,
			Title:      report.Title,
			Outcome:    eval.Outcome,
		}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "%s\n\n%s\n\n%s\n", report.Title, report.Summary, report.Text)
	}
	if report.Conclusion != domain.CheckConclusionSuccess {
		return exitError{msg: string(report.Conclusion)}
	}
	return nil
}

type evaluateResult struct {
	Conclusion domain.CheckConclusion `json:"conclusion"`
	Title      string                 `json:"title"`
	Outcome    domain.Outcome         `json:"outcome"`
}
