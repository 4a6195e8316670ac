package github

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/whilp/git-urls"
)

// Repository names a GitHub repository.
type Repository struct {
	Owner, Name string
}

func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepository accepts either `owner/name`, or any URL git would
// accept for the repository, e.g., `git@github.com:owner/name.git`
// or `https://github.com/owner/name`.
func ParseRepository(s string) (Repository, error) {
	path := s
	if strings.Contains(s, ":") {
		u, err := giturls.Parse(s)
		if err != nil {
			return Repository{}, errors.Wrapf(err, "parsing repository %q", s)
		}
		path = u.Path
	}
	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repository{}, errors.Errorf("parsing repository %q: expected owner/name", s)
	}
	return Repository{Owner: parts[0], Name: parts[1]}, nil
}
