package domain

type CheckStatus string

const (
	CheckStatusQueued     CheckStatus = "queued"
	CheckStatusInProgress CheckStatus = "in_progress"
	CheckStatusCompleted  CheckStatus = "completed"
)

type CheckConclusion string

const (
	CheckConclusionSuccess CheckConclusion = "success"
	CheckConclusionFailure CheckConclusion = "failure"
	CheckConclusionNeutral CheckConclusion = "neutral"
)

// CheckRun is a create-or-update request. A zero ID creates a new run.
type CheckRun struct {
	ID         int64
	Owner      string
	Repo       string
	HeadSHA    string
	Name       string
	Status     CheckStatus
	Conclusion CheckConclusion
	Title      string
	Summary    string
	Text       string
}
