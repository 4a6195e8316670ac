package update

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fluxerr "github.com/fluxcd/tagbot/pkg/errors"
)

func TestParseTrackedPaths(t *testing.T) {
	for name, input := range map[string]string{
		"json": `[{"values_path": ".singleuser.image"}, {"values_path": ".hub.image", "regexpr": "\\d+\\.\\d+"}]`,
		"yaml": `
- values_path: .singleuser.image
- values_path: .hub.image
  regexpr: '\d+\.\d+'
`,
	} {
		t.Run(name, func(t *testing.T) {
			tracked, err := ParseTrackedPaths([]byte(input))
			require.NoError(t, err)
			assert.Equal(t, []TrackedPath{
				{ValuesPath: ".singleuser.image"},
				{ValuesPath: ".hub.image", Regexpr: `\d+\.\d+`},
			}, tracked)
		})
	}
}

func TestParseTrackedPathsInvalid(t *testing.T) {
	for name, input := range map[string]string{
		"not a list":      `{"values_path": "a"}`,
		"missing path":    `[{"regexpr": "v.*"}]`,
		"empty path":      `[{"values_path": ""}]`,
		"unknown field":   `[{"values_path": "a", "regex": "v.*"}]`,
		"bad path":        `[{"values_path": "a[x]"}]`,
		"bad filter":      `[{"values_path": "a", "regexpr": "("}]`,
		"not even yaml":   `[{`,
		"path not string": `[{"values_path": 3}]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTrackedPaths([]byte(input))
			require.Error(t, err)
			ferr, ok := err.(*fluxerr.Error)
			require.True(t, ok)
			assert.Equal(t, fluxerr.User, ferr.Type)
		})
	}
}

func TestParseTrackedPathsEmpty(t *testing.T) {
	tracked, err := ParseTrackedPaths([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, tracked)
}
