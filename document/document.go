// Package document parses the remote display document and turns its page
// list into an ordered set of image references, enforcing the resource
// ceilings and the image-host allow-list before any download starts.
package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jupark12/go-display-pdf/config"
	"github.com/jupark12/go-display-pdf/validate"
)

var (
	// ErrSchema means the document does not have the expected shape.
	ErrSchema = errors.New("document schema is invalid")
	// ErrNoImages means no page declared a cover image.
	ErrNoImages = errors.New("document has no cover images")
	// ErrLimitExceeded means a page or image ceiling was hit.
	ErrLimitExceeded = errors.New("document exceeds a configured limit")
)

// Display is the remote JSON document. Pages stays raw so a non-array
// value is reported as a schema violation rather than a decode failure.
type Display struct {
	Pages json.RawMessage `json:"pages"`
}

// Page is one entry of the document's page list.
type Page struct {
	Index    int    `json:"_idx"`
	CoverImg string `json:"coverImg"`
	Name     string `json:"name"`
}

// PageRef is one image to download, tagged with the page order it must
// occupy in the final PDF.
type PageRef struct {
	Index       int
	ImageURL    string
	DisplayName string
}

// BuildIndex validates the page list and extracts the ordered image
// references. Pages without a cover image are skipped; every surviving
// image URL must pass the allow-list or the whole batch is rejected.
func BuildIndex(doc *Display, cfg *config.Settings) ([]PageRef, error) {
	var pages []Page
	if len(doc.Pages) > 0 {
		if err := json.Unmarshal(doc.Pages, &pages); err != nil {
			return nil, fmt.Errorf("%w: pages is not an array of pages", ErrSchema)
		}
	}

	if len(pages) > cfg.MaxPages {
		return nil, fmt.Errorf("%w: %d pages, limit %d", ErrLimitExceeded, len(pages), cfg.MaxPages)
	}

	// Stable by declared index: pages without one sort first and keep
	// their relative input order.
	sort.SliceStable(pages, func(i, j int) bool {
		return pages[i].Index < pages[j].Index
	})

	refs := make([]PageRef, 0, len(pages))
	for _, p := range pages {
		if p.CoverImg == "" {
			continue
		}
		refs = append(refs, PageRef{
			Index:       p.Index,
			ImageURL:    p.CoverImg,
			DisplayName: p.Name,
		})
	}

	if len(refs) == 0 {
		return nil, ErrNoImages
	}
	if len(refs) > cfg.MaxImages {
		return nil, fmt.Errorf("%w: %d images, limit %d", ErrLimitExceeded, len(refs), cfg.MaxImages)
	}

	// All-or-nothing host check before the first download.
	for _, ref := range refs {
		if err := validate.Host(ref.ImageURL, cfg.AllowedImageHosts); err != nil {
			return nil, err
		}
	}

	return refs, nil
}
