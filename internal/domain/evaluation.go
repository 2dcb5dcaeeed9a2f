package domain

import "time"

// EvaluationRecord is the stored trace of one concluded check run.
type EvaluationRecord struct {
	ID                 string               `json:"id"`
	DeliveryID         string               `json:"delivery_id,omitempty"`
	Owner              string               `json:"owner"`
	Repo               string               `json:"repo"`
	PullRequest        int                  `json:"pull_request"`
	HeadSHA            string               `json:"head_sha"`
	CheckRunID         int64                `json:"check_run_id,omitempty"`
	PolicyType         PolicyType           `json:"policy_type"`
	PolicyDefault      bool                 `json:"policy_default"`
	Conclusion         CheckConclusion      `json:"conclusion"`
	Title              string               `json:"title"`
	PassedCount        int                  `json:"passed"`
	FailedCount        int                  `json:"failed"`
	LookupFailureCount int                  `json:"lookup_failures"`
	PipelineError      string               `json:"pipeline_error,omitempty"`
	Commits            []CommitVerification `json:"commits"`
	CreatedAt          time.Time            `json:"created_at"`
}
