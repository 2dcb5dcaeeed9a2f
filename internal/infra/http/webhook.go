package http

import (
	"context"
	"fmt"
	"net/http"

	"gatekeeper/internal/domain"
	"gatekeeper/internal/usecase"

	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v71/github"
)

const (
	eventPing        = "ping"
	eventPullRequest = "pull_request"
	eventCheckSuite  = "check_suite"
	eventCheckRun    = "check_run"

	signatureHeader = "X-Hub-Signature-256"
)

type webhookResponse struct {
	Status     string               `json:"status"`
	Event      string               `json:"event,omitempty"`
	DeliveryID string               `json:"delivery_id,omitempty"`
	Message    string               `json:"message,omitempty"`
	Runs       []usecase.RunSummary `json:"runs,omitempty"`
}

// delivery is one parsed webhook that may trigger evaluations.
type delivery struct {
	installationID int64
	run            func(ctx context.Context) ([]usecase.RunSummary, error)
}

func (s *Server) handleWebhook(c *gin.Context) {
	signature := ""
	if len(s.webhookSecret) > 0 {
		signature = c.GetHeader(signatureHeader)
		if signature == "" {
			writeError(c, fmt.Errorf("%w: missing %s", domain.ErrUnauthorized, signatureHeader))
			return
		}
	}
	payload, err := github.ValidatePayloadFromBody(c.GetHeader("Content-Type"), c.Request.Body, signature, s.webhookSecret)
	if err != nil {
		writeError(c, fmt.Errorf("%w: invalid webhook signature", domain.ErrUnauthorized))
		return
	}

	eventType := github.WebHookType(c.Request)
	deliveryID := github.DeliveryID(c.Request)
	switch eventType {
	case eventPing:
		c.JSON(http.StatusOK, webhookResponse{Status: "pong", Event: eventType, DeliveryID: deliveryID})
		return
	case eventPullRequest, eventCheckSuite, eventCheckRun:
	default:
		c.JSON(http.StatusOK, webhookResponse{Status: usecase.RunStatusIgnored, Event: eventType})
		return
	}

	parsed, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		writeError(c, fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err))
		return
	}
	d, ok := s.toDelivery(parsed, deliveryID)
	if !ok {
		c.JSON(http.StatusOK, webhookResponse{Status: usecase.RunStatusIgnored, Event: eventType})
		return
	}
	if s.pipeline == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "pipeline not configured")
		return
	}
	if !s.enforceRateLimit(c, routeWebhook, d.installationID) {
		return
	}

	logger := s.logger.With("event", eventType, "delivery_id", deliveryID, "installation_id", d.installationID)
	if !s.async {
		runs, err := d.run(c.Request.Context())
		if err != nil {
			logger.Error("webhook handling failed", "error", err)
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, webhookResponse{Status: usecase.RunStatusCompleted, Event: eventType, DeliveryID: deliveryID, Runs: runs})
		return
	}

	select {
	case s.inflight <- struct{}{}:
	default:
		logger.Warn("webhook rejected, too many evaluations in flight")
		writeErrorCode(c, http.StatusServiceUnavailable, "BUSY", "too many evaluations in flight")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.inflight }()
		runs, err := d.run(s.baseCtx)
		if err != nil {
			logger.Error("webhook handling failed", "error", err)
			return
		}
		for _, r := range runs {
			logger.Info("webhook handled", "status", r.Status, "pr", r.PullRequest, "conclusion", r.Conclusion)
		}
	}()
	c.JSON(http.StatusAccepted, webhookResponse{Status: "accepted", Event: eventType, DeliveryID: deliveryID})
}

func (s *Server) toDelivery(parsed any, deliveryID string) (delivery, bool) {
	switch ev := parsed.(type) {
	case *github.PullRequestEvent:
		pr := pullRequestEvent(ev, deliveryID)
		if !pr.Triggers() {
			return delivery{}, false
		}
		return delivery{
			installationID: pr.InstallationID,
			run: func(ctx context.Context) ([]usecase.RunSummary, error) {
				summary, err := s.pipeline.HandlePullRequest(ctx, pr)
				if err != nil {
					return nil, err
				}
				return []usecase.RunSummary{summary}, nil
			},
		}, true
	case *github.CheckSuiteEvent:
		suite := ev.GetCheckSuite()
		cs := domain.CheckSuiteEvent{
			DeliveryID:     deliveryID,
			Action:         ev.GetAction(),
			Owner:          ev.GetRepo().GetOwner().GetLogin(),
			Repo:           ev.GetRepo().GetName(),
			HeadSHA:        suite.GetHeadSHA(),
			PullRequests:   pullRequestNumbers(suite.PullRequests),
			InstallationID: ev.GetInstallation().GetID(),
		}
		return s.checkSuiteDelivery(cs)
	case *github.CheckRunEvent:
		run := ev.GetCheckRun()
		cs := domain.CheckSuiteEvent{
			DeliveryID:     deliveryID,
			Action:         ev.GetAction(),
			Owner:          ev.GetRepo().GetOwner().GetLogin(),
			Repo:           ev.GetRepo().GetName(),
			HeadSHA:        run.GetHeadSHA(),
			PullRequests:   pullRequestNumbers(run.PullRequests),
			InstallationID: ev.GetInstallation().GetID(),
		}
		return s.checkSuiteDelivery(cs)
	}
	return delivery{}, false
}

func (s *Server) checkSuiteDelivery(ev domain.CheckSuiteEvent) (delivery, bool) {
	if ev.Action != domain.ActionRerequested {
		return delivery{}, false
	}
	return delivery{
		installationID: ev.InstallationID,
		run: func(ctx context.Context) ([]usecase.RunSummary, error) {
			return s.pipeline.HandleCheckSuite(ctx, ev)
		},
	}, true
}

func pullRequestEvent(ev *github.PullRequestEvent, deliveryID string) domain.PullRequestEvent {
	pr := ev.GetPullRequest()
	number := ev.GetNumber()
	if number == 0 {
		number = pr.GetNumber()
	}
	return domain.PullRequestEvent{
		DeliveryID:     deliveryID,
		Action:         ev.GetAction(),
		Owner:          ev.GetRepo().GetOwner().GetLogin(),
		Repo:           ev.GetRepo().GetName(),
		Number:         number,
		HeadSHA:        pr.GetHead().GetSHA(),
		InstallationID: ev.GetInstallation().GetID(),
	}
}

func pullRequestNumbers(prs []*github.PullRequest) []int {
	out := make([]int, 0, len(prs))
	for _, pr := range prs {
		if n := pr.GetNumber(); n > 0 {
			out = append(out, n)
		}
	}
	return out
}
