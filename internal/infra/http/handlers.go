package http

import (
	"errors"
	"net/http"
	"strconv"

	"gatekeeper/internal/domain"

	"github.com/gin-gonic/gin"
)

const (
	defaultEvaluationLimit = 20
	maxEvaluationLimit     = 100
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// badgeResponse is the shields.io endpoint schema.
type badgeResponse struct {
	SchemaVersion int    `json:"schemaVersion"`
	Label         string `json:"label"`
	Message       string `json:"message"`
	Color         string `json:"color"`
	NamedLogo     string `json:"namedLogo,omitempty"`
}

type evaluationsResponse struct {
	Owner       string                    `json:"owner"`
	Repo        string                    `json:"repo"`
	Evaluations []domain.EvaluationRecord `json:"evaluations"`
}

// handleBadge reports repository protection. A failed policy result means
// the gatekeeper blocked a merge, so it still counts as protected; only
// pipeline errors on a pull request's latest evaluation degrade the badge.
// With ?pr=N the badge reflects that pull request's latest conclusion.
func (s *Server) handleBadge(c *gin.Context) {
	badge := badgeResponse{
		SchemaVersion: 1,
		Label:         "vouch",
		Message:       "unknown",
		Color:         "lightgrey",
		NamedLogo:     "shield",
	}
	pr := 0
	if raw := c.Query("pr"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_PR", "pr must be a positive integer")
			return
		}
		pr = n
	}
	if s.evaluations != nil {
		recs, err := s.evaluations.List(c.Request.Context(), c.Param("owner"), c.Param("repo"), maxEvaluationLimit)
		switch {
		case err == nil:
			latest := latestPerPullRequest(recs)
			if pr > 0 {
				if rec, ok := latest[pr]; ok {
					badge.Message, badge.Color = pullRequestBadge(rec)
				}
			} else if len(latest) > 0 {
				badge.Message, badge.Color = "protected", "green"
				for _, rec := range latest {
					if rec.PipelineError != "" {
						badge.Message, badge.Color = "degraded", "orange"
						break
					}
				}
			}
		case !errors.Is(err, domain.ErrNotFound):
			s.logger.Warn("badge lookup failed", "owner", c.Param("owner"), "repo", c.Param("repo"), "error", err)
		}
	}
	c.Header("Cache-Control", "max-age=300")
	c.JSON(http.StatusOK, badge)
}

// latestPerPullRequest expects records newest first.
func latestPerPullRequest(recs []domain.EvaluationRecord) map[int]domain.EvaluationRecord {
	latest := make(map[int]domain.EvaluationRecord, len(recs))
	for _, rec := range recs {
		if _, seen := latest[rec.PullRequest]; !seen {
			latest[rec.PullRequest] = rec
		}
	}
	return latest
}

func pullRequestBadge(rec domain.EvaluationRecord) (string, string) {
	switch {
	case rec.PipelineError != "":
		return "error", "orange"
	case rec.Conclusion == domain.CheckConclusionSuccess:
		return "verified", "green"
	case rec.Conclusion == domain.CheckConclusionFailure:
		return "failing", "red"
	}
	return "unknown", "lightgrey"
}

func (s *Server) handleListEvaluations(c *gin.Context) {
	if s.evaluations == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "NO_STORE", "evaluation history is not configured")
		return
	}
	limit := defaultEvaluationLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = min(n, maxEvaluationLimit)
	}
	owner, repo := c.Param("owner"), c.Param("repo")
	recs, err := s.evaluations.List(c.Request.Context(), owner, repo, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if recs == nil {
		recs = []domain.EvaluationRecord{}
	}
	c.JSON(http.StatusOK, evaluationsResponse{Owner: owner, Repo: repo, Evaluations: recs})
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrInvalidEvent):
		status, code = http.StatusBadRequest, "INVALID_EVENT"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrPipeline):
		status, code = http.StatusBadGateway, "PIPELINE_FAILED"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
