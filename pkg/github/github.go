package github

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/kit/log"
	gh "github.com/google/go-github/v30/github"
	"github.com/pkg/errors"
)

const (
	// DefaultForkWait is how long to wait for a newly created fork to
	// become available.
	DefaultForkWait  = 2 * time.Minute
	forkPollInterval = 5 * time.Second

	fileMode = "100644"
)

// PullRequest is an open pull request.
type PullRequest struct {
	Number int
	URL    string
	// Head is the repository the head branch lives in, which is a
	// fork when the pull request was opened from one.
	Head   Repository
	Branch string
}

// NewPullRequest describes a pull request to open. Head is the branch
// name, qualified with `owner:` when it lives in a fork.
type NewPullRequest struct {
	Title, Body   string
	Head, Base    string
	Labels        []string
	Reviewers     []string
	TeamReviewers []string
}

// CommitOptions describes a commit changing a single file.
type CommitOptions struct {
	Path   string
	Branch string
	// BaseSHA is the parent commit.
	BaseSHA string
	Message string
	// Encoded is the new file content, base64-encoded.
	Encoded string
}

// Client does what's needed to propose changes through the GitHub
// API: read a file, commit a change to a branch (maybe in a fork),
// and open or update a pull request.
type Client struct {
	client *gh.Client
	logger log.Logger

	// ForkWait bounds the wait for a fork to be created; ForkPoll is
	// how often it's looked for in the meantime.
	ForkWait time.Duration
	ForkPoll time.Duration
}

func New(client *gh.Client, logger log.Logger) *Client {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Client{
		client:   client,
		logger:   logger,
		ForkWait: DefaultForkWait,
		ForkPoll: forkPollInterval,
	}
}

// GetContents returns the text of the file at path, as of ref, and
// the SHA of its blob.
func (c *Client) GetContents(ctx context.Context, repo Repository, path, ref string) (string, string, error) {
	file, _, resp, err := c.client.Repositories.GetContents(ctx, repo.Owner, repo.Name, path,
		&gh.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return "", "", apiError(resp, err, "getting "+path+" at "+ref+" in "+repo.String())
	}
	if file == nil {
		return "", "", errors.Errorf("%s at %s in %s is not a file", path, ref, repo)
	}
	text, err := file.GetContent()
	if err != nil {
		return "", "", errors.Wrapf(err, "decoding %s", path)
	}
	return text, file.GetSHA(), nil
}

// FindPullRequest returns the most recently created open pull request
// from the given branch, or nil if there isn't one. If headOwner is
// not empty, the branch must belong to that user's repository.
func (c *Client) FindPullRequest(ctx context.Context, repo Repository, headOwner, branch string) (*PullRequest, error) {
	opts := &gh.PullRequestListOptions{
		State:       "open",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for {
		prs, resp, err := c.client.PullRequests.List(ctx, repo.Owner, repo.Name, opts)
		if err != nil {
			return nil, apiError(resp, err, "listing pull requests of "+repo.String())
		}
		for _, pr := range prs {
			head := pr.GetHead()
			if head.GetRef() != branch {
				continue
			}
			owner := head.GetRepo().GetOwner().GetLogin()
			if headOwner != "" && !strings.EqualFold(owner, headOwner) {
				continue
			}
			found := &PullRequest{
				Number: pr.GetNumber(),
				URL:    pr.GetHTMLURL(),
				Head:   repo,
				Branch: branch,
			}
			if owner != "" {
				found.Head = Repository{Owner: owner, Name: head.GetRepo().GetName()}
			}
			return found, nil
		}
		if resp.NextPage == 0 {
			return nil, nil
		}
		opts.Page = resp.NextPage
	}
}

// BranchSHA returns the commit at the tip of the branch, or
// ErrBranchNotFound.
func (c *Client) BranchSHA(ctx context.Context, repo Repository, branch string) (string, error) {
	ref, resp, err := c.client.Git.GetRef(ctx, repo.Owner, repo.Name, "heads/"+branch)
	if isNotFound(resp) {
		return "", errors.Wrapf(ErrBranchNotFound, "%s in %s", branch, repo)
	}
	if err != nil {
		return "", apiError(resp, err, "getting branch "+branch+" of "+repo.String())
	}
	return ref.GetObject().GetSHA(), nil
}

// CreateBranch creates a branch pointing at sha.
func (c *Client) CreateBranch(ctx context.Context, repo Repository, branch, sha string) error {
	_, resp, err := c.client.Git.CreateRef(ctx, repo.Owner, repo.Name, &gh.Reference{
		Ref:    gh.String("refs/heads/" + branch),
		Object: &gh.GitObject{SHA: gh.String(sha)},
	})
	if err != nil {
		return apiError(resp, err, "creating branch "+branch+" in "+repo.String())
	}
	c.logger.Log("info", "created branch", "repo", repo, "branch", branch, "sha", sha)
	return nil
}

// Commit makes a commit on top of BaseSHA replacing one file, and
// force-moves the branch to it. Whether commits stack is up to the
// caller: passing the branch head adds to it, passing the base branch
// head resets it to a single commit.
func (c *Client) Commit(ctx context.Context, repo Repository, opts CommitOptions) (string, error) {
	owner, name := repo.Owner, repo.Name
	blob, resp, err := c.client.Git.CreateBlob(ctx, owner, name, &gh.Blob{
		Content:  gh.String(opts.Encoded),
		Encoding: gh.String("base64"),
	})
	if err != nil {
		return "", apiError(resp, err, "creating blob in "+repo.String())
	}
	parent, resp, err := c.client.Git.GetCommit(ctx, owner, name, opts.BaseSHA)
	if err != nil {
		return "", apiError(resp, err, "getting commit "+opts.BaseSHA)
	}
	tree, resp, err := c.client.Git.CreateTree(ctx, owner, name, parent.GetTree().GetSHA(), []*gh.TreeEntry{{
		Path: gh.String(opts.Path),
		Mode: gh.String(fileMode),
		Type: gh.String("blob"),
		SHA:  blob.SHA,
	}})
	if err != nil {
		return "", apiError(resp, err, "creating tree in "+repo.String())
	}
	commit, resp, err := c.client.Git.CreateCommit(ctx, owner, name, &gh.Commit{
		Message: gh.String(opts.Message),
		Tree:    &gh.Tree{SHA: tree.SHA},
		Parents: []*gh.Commit{{SHA: gh.String(opts.BaseSHA)}},
	})
	if err != nil {
		return "", apiError(resp, err, "creating commit in "+repo.String())
	}
	_, resp, err = c.client.Git.UpdateRef(ctx, owner, name, &gh.Reference{
		Ref:    gh.String("refs/heads/" + opts.Branch),
		Object: &gh.GitObject{SHA: commit.SHA},
	}, true)
	if err != nil {
		return "", apiError(resp, err, "updating branch "+opts.Branch+" of "+repo.String())
	}
	c.logger.Log("info", "committed", "repo", repo, "branch", opts.Branch, "sha", commit.GetSHA())
	return commit.GetSHA(), nil
}

// Fork returns owner's fork of upstream, creating it if necessary. The
// second return value is true if the fork was created, in which case
// it is up to date with upstream already.
func (c *Client) Fork(ctx context.Context, upstream Repository, owner string) (Repository, bool, error) {
	fork := Repository{Owner: owner, Name: upstream.Name}
	_, resp, err := c.client.Repositories.Get(ctx, fork.Owner, fork.Name)
	if err == nil {
		return fork, false, nil
	}
	if !isNotFound(resp) {
		return fork, false, apiError(resp, err, "getting "+fork.String())
	}

	created, resp, err := c.client.Repositories.CreateFork(ctx, upstream.Owner, upstream.Name, nil)
	if _, accepted := err.(*gh.AcceptedError); err != nil && !accepted {
		return fork, false, apiError(resp, err, "forking "+upstream.String())
	}
	if created != nil && created.GetName() != "" {
		fork = Repository{Owner: created.GetOwner().GetLogin(), Name: created.GetName()}
	}
	c.logger.Log("info", "waiting for fork", "fork", fork)

	ctx, cancel := context.WithTimeout(ctx, c.ForkWait)
	defer cancel()
	poll := backoff.WithContext(backoff.NewConstantBackOff(c.ForkPoll), ctx)
	err = backoff.Retry(func() error {
		_, resp, err := c.client.Repositories.Get(ctx, fork.Owner, fork.Name)
		if err != nil && !isNotFound(resp) {
			return backoff.Permanent(apiError(resp, err, "getting "+fork.String()))
		}
		return err
	}, poll)
	if err != nil {
		return fork, true, errors.Wrapf(err, "waiting for fork %s", fork)
	}
	return fork, true, nil
}

// SyncFork merges the upstream branch into the fork's branch of the
// same name.
func (c *Client) SyncFork(ctx context.Context, fork Repository, branch string) error {
	req, err := c.client.NewRequest("POST", "repos/"+fork.Owner+"/"+fork.Name+"/merge-upstream",
		map[string]string{"branch": branch})
	if err != nil {
		return err
	}
	resp, err := c.client.Do(ctx, req, nil)
	if err != nil {
		return apiError(resp, err, "merging upstream into "+fork.String()+" "+branch)
	}
	return nil
}

// CreatePullRequest opens a pull request, then labels it and asks for
// reviews as requested.
func (c *Client) CreatePullRequest(ctx context.Context, repo Repository, pr NewPullRequest) (*PullRequest, error) {
	created, resp, err := c.client.PullRequests.Create(ctx, repo.Owner, repo.Name, &gh.NewPullRequest{
		Title: gh.String(pr.Title),
		Body:  gh.String(pr.Body),
		Head:  gh.String(pr.Head),
		Base:  gh.String(pr.Base),
	})
	if err != nil {
		return nil, apiError(resp, err, "creating pull request in "+repo.String())
	}
	number := created.GetNumber()
	c.logger.Log("info", "created pull request", "repo", repo, "number", number)

	if len(pr.Labels) > 0 {
		if _, resp, err := c.client.Issues.AddLabelsToIssue(ctx, repo.Owner, repo.Name, number, pr.Labels); err != nil {
			return nil, apiError(resp, err, "labelling pull request")
		}
	}
	if len(pr.Reviewers) > 0 || len(pr.TeamReviewers) > 0 {
		if _, resp, err := c.client.PullRequests.RequestReviewers(ctx, repo.Owner, repo.Name, number, gh.ReviewersRequest{
			Reviewers:     pr.Reviewers,
			TeamReviewers: pr.TeamReviewers,
		}); err != nil {
			return nil, apiError(resp, err, "requesting reviews")
		}
	}

	head := repo
	if created.GetHead().GetRepo().GetName() != "" {
		head = Repository{Owner: created.GetHead().GetRepo().GetOwner().GetLogin(), Name: created.GetHead().GetRepo().GetName()}
	}
	return &PullRequest{
		Number: number,
		URL:    created.GetHTMLURL(),
		Head:   head,
		Branch: created.GetHead().GetRef(),
	}, nil
}

// UpdatePullRequest replaces the title and description of an open
// pull request.
func (c *Client) UpdatePullRequest(ctx context.Context, repo Repository, number int, title, body string) error {
	_, resp, err := c.client.PullRequests.Edit(ctx, repo.Owner, repo.Name, number, &gh.PullRequest{
		Title: gh.String(title),
		Body:  gh.String(body),
		State: gh.String("open"),
	})
	if err != nil {
		return apiError(resp, err, "updating pull request")
	}
	c.logger.Log("info", "updated pull request", "repo", repo, "number", number)
	return nil
}
