package usecase

import (
	"context"

	"gatekeeper/internal/domain"

	"golang.org/x/sync/errgroup"
)

const DefaultVerifyConcurrency = 8

// Evaluator judges every commit of a pull request against one Policy.
type Evaluator struct {
	Verifier    *CommitVerifier
	Authorizer  *Authorizer
	Concurrency int
}

// Evaluate verifies and authorizes each commit with bounded parallelism and
// returns once all of them are done. Result order follows commit order.
func (e *Evaluator) Evaluate(ctx context.Context, scope Scope, commits []domain.CommitRecord) domain.Outcome {
	results := make([]domain.CommitVerification, len(commits))
	limit := e.Concurrency
	if limit <= 0 {
		limit = DefaultVerifyConcurrency
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, commit := range commits {
		g.Go(func() error {
			result := e.Verifier.Verify(ctx, scope, commit)
			results[i] = e.Authorizer.Authorize(ctx, scope, result)
			return nil
		})
	}
	_ = g.Wait()
	return domain.NewOutcome(results)
}
