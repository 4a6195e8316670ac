package document

import (
	"encoding/json"
	"strconv"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/ghodss/yaml"
	"github.com/pkg/errors"

	"github.com/fluxcd/tagbot/pkg/yamlpath"
)

// ErrVerifyFailed is returned by Verify when the serialised document
// does not match the original with the recorded edits applied.
var ErrVerifyFailed = errors.New("document verification failed")

type patchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

// Patch returns the edits made so far as an RFC 6902 JSON patch.
func (d *Document) Patch() ([]byte, error) {
	ops := make([]patchOperation, 0, len(d.edits))
	for _, e := range d.edits {
		ops = append(ops, patchOperation{Op: "replace", Path: pointer(e.path), Value: e.value})
	}
	return json.Marshal(ops)
}

// Verify checks that the serialised document means the same as the
// original with exactly the recorded edits applied, and nothing else.
func (d *Document) Verify() error {
	out, err := d.Bytes()
	if err != nil {
		return err
	}
	originalJSON, err := yaml.YAMLToJSON(d.original)
	if err != nil {
		return errors.Wrap(err, "converting original document")
	}
	editedJSON, err := yaml.YAMLToJSON(out)
	if err != nil {
		return errors.Wrapf(ErrVerifyFailed, "edited document does not parse: %s", err)
	}

	patchJSON, err := d.Patch()
	if err != nil {
		return err
	}
	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return errors.Wrap(err, "decoding patch")
	}
	expected, err := patch.Apply(originalJSON)
	if err != nil {
		return errors.Wrapf(ErrVerifyFailed, "applying edits: %s", err)
	}
	if !jsonpatch.Equal(expected, editedJSON) {
		return errors.Wrapf(ErrVerifyFailed, "%s: unexpected changes besides %d edit(s)", d.name, len(d.edits))
	}
	return nil
}

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

func pointer(p yamlpath.Path) string {
	var b strings.Builder
	for _, s := range p {
		b.WriteByte('/')
		if s.IsIndex {
			b.WriteString(strconv.Itoa(s.Index))
		} else {
			b.WriteString(pointerEscaper.Replace(s.Key))
		}
	}
	return b.String()
}

// readsAsString tells whether a YAML 1.1 reader takes the plain token
// as exactly that string.
func readsAsString(token string) bool {
	j, err := yaml.YAMLToJSON([]byte(token))
	if err != nil || len(j) == 0 || j[0] != '"' {
		return false
	}
	var s string
	return json.Unmarshal(j, &s) == nil && s == token
}
