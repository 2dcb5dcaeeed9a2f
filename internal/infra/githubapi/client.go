package githubapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"gatekeeper/internal/domain"
	"gatekeeper/internal/usecase"

	"github.com/google/go-github/v71/github"
)

const perPage = 100

// Client adapts the GitHub REST API to usecase.PlatformClient.
type Client struct {
	gh *github.Client
}

var _ usecase.PlatformClient = (*Client)(nil)

func NewClient(gh *github.Client) *Client {
	return &Client{gh: gh}
}

// pullCommit mirrors the pull request commits payload. The verification
// block is decoded directly since it carries key_id.
type pullCommit struct {
	SHA    string       `json:"sha"`
	Author *github.User `json:"author"`
	Commit struct {
		Author       *github.CommitAuthor `json:"author"`
		Verification struct {
			Verified  bool   `json:"verified"`
			Reason    string `json:"reason"`
			Signature string `json:"signature"`
			KeyID     string `json:"key_id"`
		} `json:"verification"`
	} `json:"commit"`
	Parents []struct {
		SHA string `json:"sha"`
	} `json:"parents"`
}

func (c *Client) ListPullRequestCommits(ctx context.Context, owner, repo string, number int) ([]domain.CommitRecord, error) {
	var out []domain.CommitRecord
	page := 1
	for page != 0 {
		u := fmt.Sprintf("repos/%s/%s/pulls/%d/commits?per_page=%d&page=%d", owner, repo, number, perPage, page)
		req, err := c.gh.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		var batch []pullCommit
		resp, err := c.gh.Do(ctx, req, &batch)
		if err != nil {
			return nil, fmt.Errorf("list commits of %s/%s#%d: %w", owner, repo, number, err)
		}
		for _, pc := range batch {
			out = append(out, toCommitRecord(pc))
		}
		page = resp.NextPage
	}
	return out, nil
}

func toCommitRecord(pc pullCommit) domain.CommitRecord {
	rec := domain.CommitRecord{
		SHA:         pc.SHA,
		AuthorLogin: pc.Author.GetLogin(),
		ParentCount: len(pc.Parents),
		Verification: domain.CommitSignature{
			Verified:  pc.Commit.Verification.Verified,
			Signature: pc.Commit.Verification.Signature,
			KeyID:     pc.Commit.Verification.KeyID,
			Reason:    pc.Commit.Verification.Reason,
		},
	}
	if a := pc.Commit.Author; a != nil {
		rec.AuthorName = a.GetName()
		rec.AuthorEmail = a.GetEmail()
	}
	if rec.AuthorName == "" {
		rec.AuthorName = rec.AuthorLogin
	}
	return rec
}

func (c *Client) GetRepositoryFile(ctx context.Context, owner, repo, path, ref string) (string, bool, error) {
	var opts *github.RepositoryContentGetOptions
	if ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: ref}
	}
	file, _, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, opts)
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get %s from %s/%s: %w", path, owner, repo, err)
	}
	if file == nil {
		// A directory at the policy path is treated as no policy.
		return "", false, nil
	}
	content, err := file.GetContent()
	if err != nil {
		return "", false, fmt.Errorf("decode %s: %w", path, err)
	}
	return content, true, nil
}

// GetUserSigningKeys returns the user's GPG keys followed by their SSH
// signing keys.
func (c *Client) GetUserSigningKeys(ctx context.Context, login string) ([]domain.SigningKey, error) {
	var out []domain.SigningKey
	opts := &github.ListOptions{PerPage: perPage}
	for {
		keys, resp, err := c.gh.Users.ListGPGKeys(ctx, login, opts)
		if err != nil {
			return nil, fmt.Errorf("gpg keys of %s: %w", login, err)
		}
		for _, k := range keys {
			out = append(out, toSigningKey(k))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	opts = &github.ListOptions{PerPage: perPage}
	for {
		keys, resp, err := c.gh.Users.ListSSHSigningKeys(ctx, login, opts)
		if err != nil {
			return nil, fmt.Errorf("ssh signing keys of %s: %w", login, err)
		}
		for _, k := range keys {
			if k.GetID() == 0 {
				continue
			}
			out = append(out, domain.SigningKey{KeyID: strconv.FormatInt(k.GetID(), 10), Kind: domain.KeyKindSSH})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

func toSigningKey(k *github.GPGKey) domain.SigningKey {
	key := domain.SigningKey{KeyID: k.GetKeyID(), Kind: domain.KeyKindGPG}
	for _, sub := range k.Subkeys {
		key.Subkeys = append(key.Subkeys, toSigningKey(sub))
	}
	return key
}

func (c *Client) IsOrganizationMember(ctx context.Context, org, login string) (bool, error) {
	member, _, err := c.gh.Organizations.IsMember(ctx, org, login)
	if err != nil {
		return false, err
	}
	return member, nil
}

func (c *Client) CreateOrUpdateCheckRun(ctx context.Context, run domain.CheckRun) (int64, error) {
	output := &github.CheckRunOutput{
		Title:   github.Ptr(run.Title),
		Summary: github.Ptr(run.Summary),
	}
	if run.Text != "" {
		output.Text = github.Ptr(run.Text)
	}
	var conclusion *string
	var completedAt *github.Timestamp
	if run.Status == domain.CheckStatusCompleted {
		conclusion = github.Ptr(string(run.Conclusion))
		completedAt = &github.Timestamp{Time: time.Now().UTC()}
	}

	if run.ID == 0 {
		created, _, err := c.gh.Checks.CreateCheckRun(ctx, run.Owner, run.Repo, github.CreateCheckRunOptions{
			Name:        run.Name,
			HeadSHA:     run.HeadSHA,
			Status:      github.Ptr(string(run.Status)),
			Conclusion:  conclusion,
			CompletedAt: completedAt,
			Output:      output,
		})
		if err != nil {
			return 0, fmt.Errorf("create check run: %w", err)
		}
		return created.GetID(), nil
	}

	updated, _, err := c.gh.Checks.UpdateCheckRun(ctx, run.Owner, run.Repo, run.ID, github.UpdateCheckRunOptions{
		Name:        run.Name,
		Status:      github.Ptr(string(run.Status)),
		Conclusion:  conclusion,
		CompletedAt: completedAt,
		Output:      output,
	})
	if err != nil {
		return 0, fmt.Errorf("update check run %d: %w", run.ID, err)
	}
	return updated.GetID(), nil
}

func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}
