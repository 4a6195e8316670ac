package github

import (
	"net/http"

	gh "github.com/google/go-github/v30/github"
	"github.com/pkg/errors"

	fluxerr "github.com/fluxcd/tagbot/pkg/errors"
)

// ErrBranchNotFound is returned when asking for a branch that does not
// exist.
var ErrBranchNotFound = errors.New("branch not found")

func unauthorized(err error) error {
	return &fluxerr.Error{
		Type: fluxerr.User,
		Err:  err,
		Help: `Permission denied by the GitHub API

The request was refused. Check that the token given with --github-token
(or INPUT_GITHUB_TOKEN) is valid, and that it has the "repo" scope, or
"public_repo" for public repositories.
`,
	}
}

func notFound(what string, err error) error {
	return &fluxerr.Error{
		Type: fluxerr.Missing,
		Err:  err,
		Help: `Not found on GitHub

GitHub could not find ` + what + `. Check the spelling of the
repository, branch and path given. Private repositories look as though
they do not exist when the token has no access to them.
`,
	}
}

// apiError wraps errors from the GitHub API, picking out those a
// user can do something about.
func apiError(resp *gh.Response, err error, what string) error {
	err = errors.Wrapf(err, "GitHub API: %s", what)
	if resp == nil || resp.Response == nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return unauthorized(err)
	case http.StatusNotFound:
		return notFound(what, err)
	}
	return err
}

func isNotFound(resp *gh.Response) bool {
	return resp != nil && resp.Response != nil && resp.StatusCode == http.StatusNotFound
}
