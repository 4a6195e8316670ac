package main

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/tagbot/pkg/image"
	"github.com/fluxcd/tagbot/pkg/registry"
	"github.com/fluxcd/tagbot/pkg/registry/mock"
)

const checkValues = `singleuser:
  image:
    name: org/img
    tag: v1 # pinned
`

const imagesInfo = `[{"values_path": ".singleuser.image"}]`

func tagList(names ...string) image.TagList {
	t0 := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	var list image.TagList
	for i, n := range names {
		list = append(list, image.TagInfo{Name: n, LastModified: t0.Add(time.Duration(i) * time.Hour)})
	}
	return list
}

func writeValues(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "values.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(checkValues), 0644))
	return path
}

func runCheck(t *testing.T, reg registry.Client, args ...string) (string, error) {
	root := newRoot()
	root.registry = reg
	stderr := new(bytes.Buffer)
	root.stderr = stderr

	cmd := root.Command()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(stderr)
	cmd.SetArgs(append([]string{"check", "--images-info", imagesInfo}, args...))
	_, err := cmd.ExecuteC()
	return out.String(), err
}

func TestCheckReportsStale(t *testing.T) {
	path := writeValues(t)
	reg := &mock.Client{Repos: map[string]image.TagList{"org/img": tagList("v1", "v2")}}

	out, err := runCheck(t, reg, "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "IMAGE")
	assert.Regexp(t, `org/img\s+stale\s+v1\s+v2`, out)

	// nothing written
	b, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, checkValues, string(b))
}

func TestCheckWrite(t *testing.T) {
	path := writeValues(t)
	reg := &mock.Client{Repos: map[string]image.TagList{"org/img": tagList("v1", "v2")}}

	out, err := runCheck(t, reg, "--file", path, "--write", "--fail-on-stale")
	require.NoError(t, err)
	assert.Regexp(t, `org/img\s+updated\s+v1\s+v2`, out)

	b, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `singleuser:
  image:
    name: org/img
    tag: v2 # pinned
`, string(b))
}

func TestCheckFailOnStale(t *testing.T) {
	path := writeValues(t)
	reg := &mock.Client{Repos: map[string]image.TagList{"org/img": tagList("v1", "v2")}}

	_, err := runCheck(t, reg, "--file", path, "--fail-on-stale")
	assert.Error(t, err)
}

func TestCheckUpToDate(t *testing.T) {
	path := writeValues(t)
	reg := &mock.Client{Repos: map[string]image.TagList{"org/img": tagList("v0", "v1")}}

	out, err := runCheck(t, reg, "--file", path, "--fail-on-stale")
	require.NoError(t, err)
	assert.NotContains(t, out, "org/img")

	out, err = runCheck(t, reg, "--file", path, "-v")
	require.NoError(t, err)
	assert.Regexp(t, `org/img\s+up-to-date\s+v1`, out)
}

func TestCheckRegistryFailure(t *testing.T) {
	path := writeValues(t)
	reg := &mock.Client{}

	out, err := runCheck(t, reg, "--file", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "org/img failed")
	assert.Regexp(t, `org/img\s+failed`, out)

	_, err = runCheck(t, reg, "--file", path, "--allow-partial")
	assert.NoError(t, err)
}

func TestCheckProgress(t *testing.T) {
	path := writeValues(t)
	reg := &mock.Client{Repos: map[string]image.TagList{"org/img": tagList("v1", "v2")}}

	_, err := runCheck(t, reg, "--file", path, "--progress")
	assert.NoError(t, err)
	assert.Equal(t, []string{"org/img"}, reg.Requests())
}

func TestCheckNeedsFile(t *testing.T) {
	_, err := runCheck(t, &mock.Client{})
	require.Error(t, err)
	_, ok := err.(usageError)
	assert.True(t, ok)
}

func TestCheckNeedsImagesInfo(t *testing.T) {
	root := newRoot()
	root.registry = &mock.Client{}
	root.stderr = new(bytes.Buffer)
	cmd := root.Command()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetArgs([]string{"check", "--file", writeValues(t)})
	_, err := cmd.ExecuteC()
	require.Error(t, err)
	assert.NotNil(t, userError(err))
}
