package task

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Photo attachments are stored as opaque blobs next to the document and
// referenced from task text with a reserved URL scheme the UI resolves
// through the gateway:
//
//	![alt](external:photos/photo_1712345678901_a1b2c3d4e.jpg)
const (
	// PhotoScheme prefixes blob references embedded in task text.
	PhotoScheme = "external:"

	// PhotoFolder is the blob subfolder next to the document.
	PhotoFolder = "photos"
)

var photoRefPattern = regexp.MustCompile(`!\[[^\]]*\]\(external:(photos/[^)\s]+)\)`)

// NewPhotoName generates a blob filename of the form
// photo_<epochMs>_<9charRandom>.jpg.
func NewPhotoName(nowMs int64) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("photo_%d_%s.jpg", nowMs, random)
}

// PhotoRefs extracts the blob names (including the photos/ prefix)
// referenced from the given task text.
func PhotoRefs(text string) []string {
	matches := photoRefPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, m[1])
	}
	return refs
}

// PhotoRef renders the textual reference for a blob name, suitable for
// embedding in task text.
func PhotoRef(alt, name string) string {
	return fmt.Sprintf("![%s](%s%s/%s)", alt, PhotoScheme, PhotoFolder, name)
}
