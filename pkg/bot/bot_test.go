package bot

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/tagbot/pkg/github"
	"github.com/fluxcd/tagbot/pkg/image"
	"github.com/fluxcd/tagbot/pkg/registry/mock"
	"github.com/fluxcd/tagbot/pkg/update"
)

const config = `singleuser:
  image:
    name: org/img
    tag: v1
  profileList:
    - kubespawner_override:
        image: jupyter/minimal-notebook:2022.01.01
`

var upstream = github.Repository{Owner: "o", Name: "r"}

// fakeSCM keeps branches as commit SHAs, and files per commit.
type fakeSCM struct {
	files    map[string]string // "owner/name@ref" -> text
	branches map[string]string // "owner/name@branch" -> sha
	forks    map[string]bool
	prs      []*github.PullRequest

	calls   []string
	commits []github.CommitOptions
	opened  []github.NewPullRequest
	updated []string
}

func newFakeSCM() *fakeSCM {
	return &fakeSCM{
		files:    map[string]string{"o/r@main": config},
		branches: map[string]string{"o/r@main": "base"},
		forks:    map[string]bool{},
	}
}

func (f *fakeSCM) record(format string, args ...interface{}) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeSCM) GetContents(ctx context.Context, repo github.Repository, path, ref string) (string, string, error) {
	f.record("get %s@%s", repo, ref)
	text, ok := f.files[repo.String()+"@"+ref]
	if !ok {
		return "", "", errors.New("not found")
	}
	return text, "blob", nil
}

func (f *fakeSCM) FindPullRequest(ctx context.Context, repo github.Repository, headOwner, branch string) (*github.PullRequest, error) {
	for _, pr := range f.prs {
		if pr.Branch == branch && (headOwner == "" || pr.Head.Owner == headOwner) {
			return pr, nil
		}
	}
	return nil, nil
}

func (f *fakeSCM) BranchSHA(ctx context.Context, repo github.Repository, branch string) (string, error) {
	sha, ok := f.branches[repo.String()+"@"+branch]
	if !ok {
		return "", errors.Wrap(github.ErrBranchNotFound, branch)
	}
	return sha, nil
}

func (f *fakeSCM) CreateBranch(ctx context.Context, repo github.Repository, branch, sha string) error {
	f.record("branch %s@%s from %s", repo, branch, sha)
	f.branches[repo.String()+"@"+branch] = sha
	return nil
}

func (f *fakeSCM) Commit(ctx context.Context, repo github.Repository, opts github.CommitOptions) (string, error) {
	f.record("commit %s@%s on %s", repo, opts.Branch, opts.BaseSHA)
	f.commits = append(f.commits, opts)
	return "new", nil
}

func (f *fakeSCM) Fork(ctx context.Context, up github.Repository, owner string) (github.Repository, bool, error) {
	fork := github.Repository{Owner: owner, Name: up.Name}
	if f.forks[owner] {
		return fork, false, nil
	}
	f.record("fork %s", fork)
	f.forks[owner] = true
	f.branches[fork.String()+"@main"] = f.branches[up.String()+"@main"]
	return fork, true, nil
}

func (f *fakeSCM) SyncFork(ctx context.Context, fork github.Repository, branch string) error {
	f.record("sync %s@%s", fork, branch)
	return nil
}

func (f *fakeSCM) CreatePullRequest(ctx context.Context, repo github.Repository, pr github.NewPullRequest) (*github.PullRequest, error) {
	f.record("open %s %s", repo, pr.Head)
	f.opened = append(f.opened, pr)
	return &github.PullRequest{Number: 1, Head: repo, Branch: pr.Head}, nil
}

func (f *fakeSCM) UpdatePullRequest(ctx context.Context, repo github.Repository, number int, title, body string) error {
	f.record("update %s #%d", repo, number)
	f.updated = append(f.updated, body)
	return nil
}

var t0 = time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)

func tags(names ...string) image.TagList {
	var list image.TagList
	for i, n := range names {
		list = append(list, image.TagInfo{Name: n, LastModified: t0.Add(time.Duration(i) * time.Hour)})
	}
	return list
}

func newBot(scm SCM) *Bot {
	return &Bot{
		SCM: scm,
		Registry: &mock.Client{Repos: map[string]image.TagList{
			"org/img":                  tags("v1", "v2", "latest"),
			"jupyter/minimal-notebook": tags("2022.01.01", "2022.06.09"),
		}},
		Options: Options{
			Repository: upstream,
			ConfigPath: "deploy/config.yaml",
			Tracked: []update.TrackedPath{
				{ValuesPath: ".singleuser.image"},
				{ValuesPath: ".singleuser.profileList[0].kubespawner_override.image"},
			},
			BaseBranch: "main",
			Labels:     []string{"dependencies"},
		},
	}
}

func decode(t *testing.T, encoded string) string {
	b, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	return string(b)
}

func TestHeadBranchName(t *testing.T) {
	assert.Equal(t, "bump-image-tags/deploy-configyaml", HeadBranchName("", "deploy/config.yaml"))
	assert.Equal(t, "bump/configyaml", HeadBranchName("bump", "config.yaml"))
}

func TestMessages(t *testing.T) {
	records := update.Records{
		{Image: "a", Current: "1", Latest: "2"},
		{Image: "b", Current: "x", Latest: "y"},
	}
	assert.Equal(t, "Bump images [a, b] to tags [2, y], respectively", commitMessage(records, []string{"a", "b"}))
	assert.Equal(t, pullRequestIntro+"- `a`: `1` -> `2`\n- `b`: `x` -> `y`", pullRequestBody(records, []string{"a", "b"}))
}

func TestRunOpensPullRequest(t *testing.T) {
	scm := newFakeSCM()
	outcome, err := newBot(scm).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"get o/r@main",
		"branch o/r@bump-image-tags/deploy-configyaml from base",
		"commit o/r@bump-image-tags/deploy-configyaml on base",
		"open o/r bump-image-tags/deploy-configyaml",
	}, scm.calls)

	require.Len(t, scm.commits, 1)
	commit := scm.commits[0]
	assert.Equal(t, "deploy/config.yaml", commit.Path)
	assert.Equal(t, "Bump images [org/img, jupyter/minimal-notebook] to tags [v2, 2022.06.09], respectively", commit.Message)
	assert.Equal(t, strings.NewReplacer(
		"tag: v1", "tag: v2",
		"2022.01.01", "2022.06.09",
	).Replace(config), decode(t, commit.Encoded))

	require.Len(t, scm.opened, 1)
	opened := scm.opened[0]
	assert.Equal(t, pullRequestTitle, opened.Title)
	assert.Equal(t, "main", opened.Base)
	assert.Equal(t, []string{"dependencies"}, opened.Labels)
	assert.Contains(t, opened.Body, "- `org/img`: `v1` -> `v2`")

	assert.True(t, outcome.Created)
	require.Len(t, outcome.Result, 2)
	assert.Equal(t, update.StatusUpdated, outcome.Result[0].Status)
}

func TestRunUpToDate(t *testing.T) {
	scm := newFakeSCM()
	scm.files["o/r@main"] = strings.NewReplacer("tag: v1", "tag: v2", "2022.01.01", "2022.06.09").Replace(config)
	outcome, err := newBot(scm).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"get o/r@main"}, scm.calls)
	assert.Empty(t, outcome.Result.Changes())
	assert.Nil(t, outcome.PullRequest)
}

func TestRunDryRun(t *testing.T) {
	scm := newFakeSCM()
	bot := newBot(scm)
	bot.DryRun = true
	outcome, err := bot.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"get o/r@main"}, scm.calls)
	assert.Len(t, outcome.Result.Changes(), 2)
	assert.Equal(t, update.StatusStale, outcome.Result[0].Status)
}

func TestRunUpdatesOpenPullRequest(t *testing.T) {
	scm := newFakeSCM()
	head := "bump-image-tags/deploy-configyaml"
	// the open pull request already bumped one of the images
	scm.files["o/r@"+head] = strings.Replace(config, "2022.01.01", "2022.06.09", 1)
	scm.branches["o/r@"+head] = "head"
	scm.prs = []*github.PullRequest{{Number: 5, Head: upstream, Branch: head}}

	outcome, err := newBot(scm).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"get o/r@" + head,
		"commit o/r@" + head + " on head",
		"update o/r #5",
	}, scm.calls)
	assert.Equal(t, "Bump images [org/img] to tags [v2], respectively", scm.commits[0].Message)
	assert.False(t, outcome.Created)
	assert.Equal(t, 5, outcome.PullRequest.Number)
}

func TestRunPushesToFork(t *testing.T) {
	scm := newFakeSCM()
	bot := newBot(scm)
	bot.PushToUsersFork = "me"

	_, err := bot.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"get o/r@main",
		"fork me/r",
		"branch me/r@bump-image-tags/deploy-configyaml from base",
		"commit me/r@bump-image-tags/deploy-configyaml on base",
		"open o/r me:bump-image-tags/deploy-configyaml",
	}, scm.calls)

	// the second time round, the fork is brought up to date instead
	scm.calls = nil
	delete(scm.branches, "me/r@bump-image-tags/deploy-configyaml")
	_, err = bot.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sync me/r@main", scm.calls[1])
}

func TestRunPartialFailure(t *testing.T) {
	scm := newFakeSCM()
	bot := newBot(scm)
	bot.Registry = &mock.Client{Repos: map[string]image.TagList{
		"org/img": tags("v1", "v2"),
	}}

	outcome, err := bot.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jupyter/minimal-notebook failed")
	// the images that could be checked are still updated
	require.Len(t, scm.commits, 1)
	assert.Equal(t, "Bump images [org/img] to tags [v2], respectively", scm.commits[0].Message)
	assert.Equal(t, update.StatusFailed, outcome.Result[1].Status)

	bot.AllowPartial = true
	_, err = bot.Run(context.Background())
	assert.NoError(t, err)
}

func TestRunMissingPathIsSkipped(t *testing.T) {
	scm := newFakeSCM()
	bot := newBot(scm)
	bot.Tracked = append(bot.Tracked, update.TrackedPath{ValuesPath: ".hub.image"})
	outcome, err := bot.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, outcome.Result, 3)
	assert.Equal(t, update.StatusSkipped, outcome.Result[2].Status)
	assert.Len(t, scm.commits, 1)
}
