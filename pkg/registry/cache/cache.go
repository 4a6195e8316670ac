package cache

import (
	"strings"
	"time"

	"github.com/fluxcd/tagbot/pkg/image"
)

type Reader interface {
	// GetKey gets the value at a key, along with its refresh deadline
	GetKey(k Keyer) ([]byte, time.Time, error)
}

type Writer interface {
	// SetKey sets the value at a key, along with its refresh deadline
	SetKey(k Keyer, deadline time.Time, v []byte) error
}

type Client interface {
	Reader
	Writer
}

// Keyer provides the key under which to store an item. Keys use the
// full path of the repository, since the same path may exist on more
// than one registry.
type Keyer interface {
	Key() string
}

type tagsKey struct {
	registry, repository string
}

// NewTagsKey is the key for the tag list of a repository.
func NewTagsKey(repo image.Name) Keyer {
	return &tagsKey{repo.Registry(), repo.Repository()}
}

func (k *tagsKey) Key() string {
	return strings.Join([]string{
		"tagbottagsv1", // Bump the version number if the cache format changes
		k.registry,
		k.repository,
	}, "|")
}
