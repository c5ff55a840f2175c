package poster

import (
	"fmt"

	"autopost/internal/storage"
)

const previewMaxChars = 50

// Preview builds the short message description recorded in the delivery
// log: the first 50 characters of the text (with an ellipsis marker when
// truncated), or the literal "Media" for text-less messages, plus a file
// count annotation when media is attached.
func Preview(m storage.Message) string {
	var p string
	switch {
	case m.Text == "":
		p = "Media"
	default:
		r := []rune(m.Text)
		if len(r) > previewMaxChars {
			p = string(r[:previewMaxChars]) + "..."
		} else {
			p = m.Text
		}
	}
	if n := len(m.MediaPaths); n > 0 {
		p += fmt.Sprintf(" [Media: %d file(s)]", n)
	}
	return p
}
