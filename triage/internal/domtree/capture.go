package domtree

import (
	"strconv"

	"github.com/andybalholm/cascadia"
)

// FrameRefAttr is written by the snapshot serializer on frame elements
// whose content document was readable. Its value indexes Capture.Frames.
const FrameRefAttr = "data-frame-ref"

// Capture is the wire form of a live snapshot: one serialized document
// plus the serialized content of its readable frames. Shadow roots travel
// inline as declarative templates.
type Capture struct {
	URL    string    `json:"url"`
	HTML   string    `json:"html"`
	Frames []Capture `json:"frames,omitempty"`
}

var frameRefSel = cascadia.MustCompile("iframe[" + FrameRefAttr + "], frame[" + FrameRefAttr + "]")

// FromCapture parses a capture and its frames into a composite Document.
// Frames whose origin differs from their parent, or whose content does not
// parse, are left unattached.
func FromCapture(c Capture) (*Document, error) {
	doc, err := ParseString(c.HTML, c.URL)
	if err != nil {
		return nil, err
	}
	for _, m := range QueryAll(doc, frameRefSel) {
		if m.Doc != doc {
			continue
		}
		idx, err := strconv.Atoi(Attr(m.Node, FrameRefAttr))
		if err != nil || idx < 0 || idx >= len(c.Frames) {
			continue
		}
		child, err := FromCapture(c.Frames[idx])
		if err != nil {
			continue
		}
		doc.AttachFrame(m.Node, child)
	}
	return doc, nil
}
