package rows

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/triage/triage/internal/domtree"
)

// Row-container heuristic bounds for anchor-proximity reconstruction.
const (
	maxAncestorHops = 8
	minRowText      = 20
	maxRowText      = 700
	minRowAnchors   = 2
)

var (
	anchorSel    = cascadia.MustCompile(`a[href]`)
	nativeRowSel = cascadia.MustCompile(`tr, [role="row"]`)
	cellSel      = cascadia.MustCompile(`td, th, [role="cell"], [role="gridcell"], [role="columnheader"]`)
	headCellSel  = cascadia.MustCompile(`th, [role="columnheader"]`)
	dataCellSel  = cascadia.MustCompile(`td, [role="cell"], [role="gridcell"]`)
)

// rowContainer walks up from an anchor at most maxAncestorHops levels and
// returns the first native row, or the first container whose text length
// is plausible for one row and which holds at least two links. Hosts that
// lay rows out with plain divs are caught by the second rule.
func rowContainer(anchor *html.Node) *html.Node {
	for _, anc := range domtree.Ancestors(anchor, maxAncestorHops) {
		if nativeRowSel.Match(anc) {
			return anc
		}
		n := len(domtree.Text(anc))
		if n >= minRowText && n <= maxRowText && len(cascadia.QueryAll(anc, anchorSel)) >= minRowAnchors {
			return anc
		}
	}
	return nil
}

// isHeaderRow reports whether a row is a column header: it has header
// cells and no data cells, or its text carries every expected column name.
func isHeaderRow(n *html.Node, columns []string) bool {
	if cascadia.Query(n, headCellSel) != nil && cascadia.Query(n, dataCellSel) == nil {
		return true
	}
	text := strings.ToLower(domtree.Text(n))
	for _, c := range columns {
		if !strings.Contains(text, c) {
			return false
		}
	}
	return len(columns) > 0
}

// cellTexts returns the text of each cell of a row, falling back to the
// row's direct element children when it has no cell markup.
func cellTexts(n *html.Node) []string {
	var out []string
	cells := cascadia.QueryAll(n, cellSel)
	if len(cells) == 0 {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				cells = append(cells, c)
			}
		}
	}
	for _, c := range cells {
		if t := domtree.Text(c); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// firstAnchorHref returns the resolved href of the first anchor under n
// whose text or href satisfies match.
func firstAnchorHref(m domtree.Match, match func(text, href string) bool) string {
	for _, a := range cascadia.QueryAll(m.Node, anchorSel) {
		href := domtree.Attr(a, "href")
		if match(domtree.Text(a), href) {
			return m.Doc.Resolve(href)
		}
	}
	if anchorSel.Match(m.Node) && match(domtree.Text(m.Node), domtree.Attr(m.Node, "href")) {
		return m.Doc.Resolve(domtree.Attr(m.Node, "href"))
	}
	return ""
}

// LinkMap indexes every hyperlink of the composite tree by text and href
// so rows found without an inline link can still be given one.
type LinkMap struct {
	links []link
}

type link struct {
	text string
	href string
}

// BuildLinkMap collects all anchors of the composite tree.
func BuildLinkMap(doc *domtree.Document) *LinkMap {
	lm := &LinkMap{}
	for _, m := range domtree.QueryAll(doc, anchorSel) {
		lm.links = append(lm.links, link{text: domtree.Text(m.Node), href: m.Href()})
	}
	return lm
}

// Find returns the first link whose text or href contains token. Links
// whose href satisfies skip are passed over; skip may be nil.
func (lm *LinkMap) Find(token string, skip func(href string) bool) (string, bool) {
	if lm == nil || token == "" {
		return "", false
	}
	for _, l := range lm.links {
		if skip != nil && skip(l.href) {
			continue
		}
		if strings.Contains(l.text, token) || strings.Contains(l.href, token) {
			return l.href, true
		}
	}
	return "", false
}

// section is the free-text segmentation recipe for one row kind.
type section struct {
	// header matches the column-header line that anchors the section.
	header func(lower string) bool
	// stops are headings that end the section.
	stops []string
	// blockStart matches a line that opens a new row block.
	blockStart func(line string) bool
}

// segment locates the section in flattened text and splits it into row
// blocks. Lines between the header and the first block start are dropped.
func segment(text string, s section) [][]string {
	lines := domtree.Lines(text)
	start := -1
	for i, l := range lines {
		if s.header(strings.ToLower(l)) {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return nil
	}

	var blocks [][]string
	for _, l := range lines[start:] {
		if isStop(l, s.stops) {
			break
		}
		if s.blockStart(l) {
			blocks = append(blocks, []string{l})
			continue
		}
		if len(blocks) > 0 {
			blocks[len(blocks)-1] = append(blocks[len(blocks)-1], l)
		}
	}
	return blocks
}

func isStop(line string, stops []string) bool {
	lower := strings.ToLower(strings.TrimSpace(line))
	for _, s := range stops {
		if lower == s {
			return true
		}
	}
	return false
}
