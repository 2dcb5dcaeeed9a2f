package domain

const (
	ActionOpened      = "opened"
	ActionSynchronize = "synchronize"
	ActionReopened    = "reopened"
	ActionRerequested = "rerequested"
)

// PullRequestEvent carries the fields of a pull_request webhook the pipeline needs.
type PullRequestEvent struct {
	DeliveryID     string
	Action         string
	Owner          string
	Repo           string
	Number         int
	HeadSHA        string
	InstallationID int64
}

// Triggers reports whether the action starts an evaluation.
func (e PullRequestEvent) Triggers() bool {
	switch e.Action {
	case ActionOpened, ActionSynchronize, ActionReopened:
		return true
	}
	return false
}

// CheckSuiteEvent carries a check_suite (or check_run) re-run request.
type CheckSuiteEvent struct {
	DeliveryID     string
	Action         string
	Owner          string
	Repo           string
	HeadSHA        string
	PullRequests   []int
	InstallationID int64
}

// PullRequestEvents maps a re-run to synchronize re-entries, one per
// associated pull request.
func (e CheckSuiteEvent) PullRequestEvents() []PullRequestEvent {
	out := make([]PullRequestEvent, 0, len(e.PullRequests))
	for _, number := range e.PullRequests {
		out = append(out, PullRequestEvent{
			DeliveryID:     e.DeliveryID,
			Action:         ActionSynchronize,
			Owner:          e.Owner,
			Repo:           e.Repo,
			Number:         number,
			HeadSHA:        e.HeadSHA,
			InstallationID: e.InstallationID,
		})
	}
	return out
}
