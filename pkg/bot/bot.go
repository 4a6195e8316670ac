package bot

import (
	"context"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/tagbot/pkg/document"
	"github.com/fluxcd/tagbot/pkg/github"
	"github.com/fluxcd/tagbot/pkg/registry"
	"github.com/fluxcd/tagbot/pkg/update"
)

// SCM is what the bot needs from the place the configuration is kept.
type SCM interface {
	GetContents(ctx context.Context, repo github.Repository, path, ref string) (text, sha string, err error)
	FindPullRequest(ctx context.Context, repo github.Repository, headOwner, branch string) (*github.PullRequest, error)
	BranchSHA(ctx context.Context, repo github.Repository, branch string) (string, error)
	CreateBranch(ctx context.Context, repo github.Repository, branch, sha string) error
	Commit(ctx context.Context, repo github.Repository, opts github.CommitOptions) (string, error)
	Fork(ctx context.Context, upstream github.Repository, owner string) (github.Repository, bool, error)
	SyncFork(ctx context.Context, fork github.Repository, branch string) error
	CreatePullRequest(ctx context.Context, repo github.Repository, pr github.NewPullRequest) (*github.PullRequest, error)
	UpdatePullRequest(ctx context.Context, repo github.Repository, number int, title, body string) error
}

var _ SCM = &github.Client{}

type Options struct {
	Repository github.Repository
	ConfigPath string
	Tracked    []update.TrackedPath

	BaseBranch string
	// HeadBranch is the prefix of the branch changes are pushed to;
	// see HeadBranchName.
	HeadBranch    string
	Labels        []string
	Reviewers     []string
	TeamReviewers []string
	// PushToUsersFork names the user whose fork of Repository the
	// changes are pushed to. If empty, they are pushed to a branch
	// of Repository itself.
	PushToUsersFork string

	DryRun bool
	// AllowPartial makes a run succeed even if some registries could
	// not be queried.
	AllowPartial bool

	Resolve update.ResolveOptions
}

// Bot keeps the image tags in a configuration file up to date by
// proposing changes to it as a pull request.
type Bot struct {
	SCM      SCM
	Registry registry.Client
	Logger   log.Logger
	Options
}

// Outcome is what became of a run.
type Outcome struct {
	Result update.Result
	// PullRequest is the pull request opened or updated, if any.
	PullRequest *github.PullRequest
	Created     bool
}

func (b *Bot) logger() log.Logger {
	if b.Logger == nil {
		return log.NewNopLogger()
	}
	return b.Logger
}

// Run checks each tracked image for a newer tag, and if there are any,
// commits the updated configuration and opens a pull request for it,
// or updates the one already open.
func (b *Bot) Run(ctx context.Context) (outcome Outcome, err error) {
	logger := b.logger()
	start := time.Now()
	defer func() {
		kind := "update"
		if b.DryRun {
			kind = "dry-run"
		}
		update.ObserveRun(start, err == nil, kind)
	}()

	upstream := b.Repository
	head := HeadBranchName(b.HeadBranch, b.ConfigPath)
	// where the head branch lives
	target := upstream
	if b.PushToUsersFork != "" {
		target = github.Repository{Owner: b.PushToUsersFork, Name: upstream.Name}
	}

	pr, err := b.SCM.FindPullRequest(ctx, upstream, b.PushToUsersFork, head)
	if err != nil {
		return outcome, errors.Wrap(err, "looking for an open pull request")
	}
	readFrom, ref := upstream, b.BaseBranch
	if pr != nil {
		logger.Log("info", "pull request already open; updating it", "number", pr.Number, "branch", head)
		readFrom, ref = pr.Head, head
		target = pr.Head
	}

	timer := update.NewStageTimer("fetch")
	text, _, err := b.SCM.GetContents(ctx, readFrom, b.ConfigPath, ref)
	timer.ObserveDuration()
	if err != nil {
		return outcome, err
	}
	doc, err := document.Parse(b.ConfigPath, []byte(text))
	if err != nil {
		return outcome, err
	}

	timer = update.NewStageTimer("scan")
	records, failures := update.Scan(doc, b.Tracked)
	timer.ObserveDuration()
	for _, f := range failures {
		logger.Log("warning", "skipping tracked path", "path", f.Path, "image", f.Image, "err", f.Err)
	}

	timer = update.NewStageTimer("resolve")
	update.Resolve(ctx, records, b.Registry, b.Resolve)
	timer.ObserveDuration()
	if err := ctx.Err(); err != nil {
		return outcome, err
	}

	stale, warnings := update.Diff(records)
	for _, w := range warnings {
		logger.Log("warning", "could not find latest tag", "image", w.Image, "path", w.Path, "err", w.Err)
	}
	outcome.Result = update.NewResult(records, failures, false)
	defer func() {
		update.ObserveResult(outcome.Result)
		if err == nil && !b.AllowPartial {
			if msg := outcome.Result.Error(); msg != "" {
				err = errors.New(msg)
			}
		}
	}()

	if len(stale) == 0 {
		logger.Log("info", "All image tags are up-to-date!")
		return outcome, nil
	}
	logger.Log("info", "Newer tags are available for the following images: "+strings.Join(stale, ", "))
	if b.DryRun {
		logger.Log("info", "Pull Request will not be opened due to dry-run")
		return outcome, nil
	}

	timer = update.NewStageTimer("apply")
	err = update.Apply(doc, records, stale)
	if err == nil {
		err = doc.Verify()
	}
	timer.ObserveDuration()
	if err != nil {
		return outcome, err
	}
	if doc.Reencoded() {
		logger.Log("warning", "document re-encoded; formatting and comments may not be preserved", "path", b.ConfigPath)
	}
	encoded, err := doc.Encoded()
	if err != nil {
		return outcome, err
	}

	timer = update.NewStageTimer("commit")
	defer timer.ObserveDuration()
	if pr == nil && b.PushToUsersFork != "" {
		fork, created, err := b.SCM.Fork(ctx, upstream, b.PushToUsersFork)
		if err != nil {
			return outcome, err
		}
		if !created {
			if err := b.SCM.SyncFork(ctx, fork, b.BaseBranch); err != nil {
				return outcome, err
			}
		}
		target = fork
	}

	parent, err := b.parentCommit(ctx, target, head, pr != nil)
	if err != nil {
		return outcome, err
	}
	if _, err := b.SCM.Commit(ctx, target, github.CommitOptions{
		Path:    b.ConfigPath,
		Branch:  head,
		BaseSHA: parent,
		Message: commitMessage(records, stale),
		Encoded: encoded,
	}); err != nil {
		return outcome, err
	}
	outcome.Result = update.NewResult(records, failures, true)

	body := pullRequestBody(records, stale)
	if pr != nil {
		if err := b.SCM.UpdatePullRequest(ctx, upstream, pr.Number, pullRequestTitle, body); err != nil {
			return outcome, err
		}
		outcome.PullRequest = pr
		return outcome, nil
	}

	headRef := head
	if target != upstream {
		headRef = target.Owner + ":" + head
	}
	created, err := b.SCM.CreatePullRequest(ctx, upstream, github.NewPullRequest{
		Title:         pullRequestTitle,
		Body:          body,
		Head:          headRef,
		Base:          b.BaseBranch,
		Labels:        b.Labels,
		Reviewers:     b.Reviewers,
		TeamReviewers: b.TeamReviewers,
	})
	if err != nil {
		return outcome, err
	}
	logger.Log("info", "opened pull request", "number", created.Number, "url", created.URL)
	outcome.PullRequest, outcome.Created = created, true
	return outcome, nil
}

// parentCommit returns the commit the update goes on top of. With a
// pull request open, that's the head of its branch, since that's what
// the document was read from; otherwise it's the base branch, and the
// head branch is created there if it doesn't exist yet.
func (b *Bot) parentCommit(ctx context.Context, repo github.Repository, head string, prOpen bool) (string, error) {
	if prOpen {
		return b.SCM.BranchSHA(ctx, repo, head)
	}
	base, err := b.SCM.BranchSHA(ctx, repo, b.BaseBranch)
	if err != nil {
		return "", err
	}
	_, err = b.SCM.BranchSHA(ctx, repo, head)
	switch {
	case errors.Cause(err) == github.ErrBranchNotFound:
		if err := b.SCM.CreateBranch(ctx, repo, head, base); err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	}
	return base, nil
}
