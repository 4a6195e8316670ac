package update

import (
	"github.com/pkg/errors"

	"github.com/fluxcd/tagbot/pkg/document"
)

// Apply writes the latest tag of each of the given images back into
// the document, at every location the image was found. The document
// is left partly updated if this fails.
func Apply(doc *document.Document, records Records, images []string) error {
	for _, img := range images {
		r := records.Get(img)
		if r == nil {
			return errors.Errorf("no record for image %s", img)
		}
		if r.Latest == "" {
			return errors.Wrapf(ErrNotResolved, "updating %s", img)
		}
		for _, loc := range r.Locators {
			if err := doc.Set(loc.WritePath(), loc.Value(r.Latest)); err != nil {
				return errors.Wrapf(err, "updating %s", img)
			}
		}
	}
	return nil
}
