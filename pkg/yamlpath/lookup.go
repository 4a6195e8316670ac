package yamlpath

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Lookup returns the node found by following the path from root. The
// root may be a document node. Aliases are followed. A missing key,
// an index out of range or a step that does not fit the kind of node
// it is applied to all result in ErrPathNotFound.
func Lookup(root *yaml.Node, p Path) (*yaml.Node, error) {
	node := resolve(root)
	for i, step := range p {
		next, ok := child(node, step)
		if !ok {
			return nil, errors.Wrapf(ErrPathNotFound, "%s (at %s)", p, p[:i+1])
		}
		node = next
	}
	return node, nil
}

// Set replaces the value of the scalar found at the path. It never
// creates new entries; if any step of the path does not exist, or the
// target is not a scalar, the result is ErrPathNotWritable.
func Set(root *yaml.Node, p Path, value string) error {
	if len(p) == 0 {
		return errors.Wrap(ErrPathNotWritable, "empty path")
	}
	node, err := Lookup(root, p)
	if err != nil {
		return errors.Wrapf(ErrPathNotWritable, "%s: %s", p, err)
	}
	if node.Kind != yaml.ScalarNode {
		return errors.Wrapf(ErrPathNotWritable, "%s: not a scalar value", p)
	}
	node.Value = value
	node.Tag = "!!str"
	return nil
}

// Get is Lookup for scalar values.
func Get(root *yaml.Node, p Path) (string, error) {
	node, err := Lookup(root, p)
	if err != nil {
		return "", err
	}
	if node.Kind != yaml.ScalarNode {
		return "", errors.Wrapf(ErrPathNotFound, "%s: not a scalar value", p)
	}
	return node.Value, nil
}

func resolve(n *yaml.Node) *yaml.Node {
	for n != nil {
		switch {
		case n.Kind == yaml.DocumentNode && len(n.Content) > 0:
			n = n.Content[0]
		case n.Kind == yaml.AliasNode && n.Alias != nil:
			n = n.Alias
		default:
			return n
		}
	}
	return n
}

func child(n *yaml.Node, step Step) (*yaml.Node, bool) {
	if n == nil {
		return nil, false
	}
	if step.IsIndex {
		if n.Kind != yaml.SequenceNode || step.Index >= len(n.Content) {
			return nil, false
		}
		return resolve(n.Content[step.Index]), true
	}
	if n.Kind != yaml.MappingNode {
		return nil, false
	}
	// Later keys win, as they do when decoding.
	var found *yaml.Node
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == step.Key {
			found = n.Content[i+1]
		}
	}
	if found == nil {
		return nil, false
	}
	return resolve(found), true
}
