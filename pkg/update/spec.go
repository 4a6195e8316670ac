package update

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"

	fluxerr "github.com/fluxcd/tagbot/pkg/errors"
	"github.com/fluxcd/tagbot/pkg/policy"
	"github.com/fluxcd/tagbot/pkg/yamlpath"
)

// TrackedPath declares a location in the document expected to hold
// an image reference, and optionally a filter for the tags that
// count as candidates for the latest.
type TrackedPath struct {
	ValuesPath string `json:"values_path"`
	Regexpr    string `json:"regexpr,omitempty"`
}

func (tp TrackedPath) String() string {
	if tp.Regexpr == "" {
		return tp.ValuesPath
	}
	return fmt.Sprintf("%s (%s)", tp.ValuesPath, tp.Regexpr)
}

const trackedPathsSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["values_path"],
    "additionalProperties": false,
    "properties": {
      "values_path": {"type": "string", "minLength": 1},
      "regexpr": {"type": "string"}
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(trackedPathsSchema)

// ParseTrackedPaths reads a list of tracked paths given as JSON or
// YAML, e.g.,
//
//     [{"values_path": ".singleuser.image"},
//      {"values_path": ".hub.image", "regexpr": "\\d+\\.\\d+\\.\\d+"}]
//
// Each entry is checked against the schema, its path is parsed and
// its filter compiled, so that mistakes are reported before anything
// is fetched.
func ParseTrackedPaths(b []byte) ([]TrackedPath, error) {
	doc, err := yaml.YAMLToJSON(b)
	if err != nil {
		return nil, invalidTrackedPaths(errors.Wrap(err, "parsing tracked paths"))
	}
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, invalidTrackedPaths(errors.Wrap(err, "validating tracked paths"))
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, invalidTrackedPaths(errors.Errorf("invalid tracked paths: %s", strings.Join(problems, "; ")))
	}

	var tracked []TrackedPath
	if err := json.Unmarshal(doc, &tracked); err != nil {
		return nil, invalidTrackedPaths(errors.Wrap(err, "decoding tracked paths"))
	}
	for _, tp := range tracked {
		if _, err := yamlpath.Parse(tp.ValuesPath); err != nil {
			return nil, invalidTrackedPaths(err)
		}
		if _, err := policy.ParsePattern(tp.Regexpr); err != nil {
			return nil, invalidTrackedPaths(errors.Wrapf(err, "filter for %s", tp.ValuesPath))
		}
	}
	return tracked, nil
}

func invalidTrackedPaths(err error) error {
	return &fluxerr.Error{
		Type: fluxerr.User,
		Err:  err,
		Help: `Invalid list of tracked paths

The tracked paths are given as a JSON (or YAML) list, with an entry
for each location in the configuration that holds an image:

    [{"values_path": ".singleuser.image"},
     {"values_path": ".hub.image", "regexpr": "\\d+\\.\\d+\\.\\d+"}]

values_path is required, and is a dot-separated list of keys, each of
which may be followed by sequence indices, e.g.,
singleuser.profileList[0].kubespawner_override.image.

regexpr is optional; when given, only tags matching it are considered.
It may be prefixed with "glob:" or "semver:" to use those kinds of
filter instead.

The error was:

    ` + err.Error() + `
`,
	}
}
