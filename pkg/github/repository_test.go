package github

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRepository(t *testing.T) {
	for _, s := range []string{
		"jupyterhub/mybinder.org-deploy",
		"git@github.com:jupyterhub/mybinder.org-deploy",
		"git@github.com:jupyterhub/mybinder.org-deploy.git",
		"ssh://git@github.com/jupyterhub/mybinder.org-deploy.git",
		"https://github.com/jupyterhub/mybinder.org-deploy",
		"https://github.com/jupyterhub/mybinder.org-deploy.git",
	} {
		r, err := ParseRepository(s)
		require.NoError(t, err, s)
		assert.Equal(t, Repository{Owner: "jupyterhub", Name: "mybinder.org-deploy"}, r, s)
	}
}

func TestParseRepositoryInvalid(t *testing.T) {
	for _, s := range []string{
		"",
		"mybinder.org-deploy",
		"/name",
		"https://github.com/jupyterhub",
		"https://github.com/jupyterhub/mybinder.org-deploy/tree/main",
	} {
		_, err := ParseRepository(s)
		assert.Error(t, err, s)
	}
}
