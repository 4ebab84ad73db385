package rows

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/andybalholm/cascadia"

	"github.com/hazyhaar/triage/triage/internal/domtree"
	"github.com/hazyhaar/triage/triage/internal/pattern"
)

// errorRowSel covers the current grid skin and the legacy table skin.
var errorRowSel = cascadia.MustCompile(strings.Join([]string{
	`[data-test-id="replay-error-row"]`,
	`[data-test-id="replay-details-errors-tab"] [role="row"]`,
	`[data-test-id="errors-table"] [role="row"]`,
	`[data-testid="replay-error-row"]`,
	`.replay-errors-table tr`,
}, ", "))

// genericRowSel is the ARIA and table row fallback. Rows found only
// through it are held to stricter rules.
var genericRowSel = cascadia.MustCompile(`[role="row"], tr`)

var errorColumns = []string{"event id", "title", "issue", "timestamp"}

var errorBlockStartRe = regexp.MustCompile(`^[a-f0-9]{8,32}\b`)

// errorStops are the headings that follow the errors table.
var errorStops = []string{"network", "console", "breadcrumbs", "trace", "memory", "tags", "dom events", "accessibility", "a11y"}

// ErrorRows runs the three error-row strategies and merges them.
func ErrorRows(doc *domtree.Document) []ErrorRow {
	links := BuildLinkMap(doc)
	structured := withErrorLinks(StructuredErrorRows(doc), links)
	anchored := withErrorLinks(AnchorErrorRows(doc), links)
	text := TextErrorRows(domtree.Flatten(doc))
	return merge(ErrorRow.Key, ErrorRow.Identified, structured, anchored, text)
}

// StructuredErrorRows reads error rows from known row selectors, then from
// generic rows. A generic row must carry its event id in a link or in its
// first cell, and must not read as a network request.
func StructuredErrorRows(doc *domtree.Document) []ErrorRow {
	var out []ErrorRow
	for _, m := range domtree.QueryAll(doc, errorRowSel) {
		if isHeaderRow(m.Node, errorColumns) {
			continue
		}
		text := domtree.Text(m.Node)
		_, hasID := pattern.HexID(text)
		_, hasKey := pattern.IssueKey(text)
		if !hasID && !hasKey {
			continue
		}
		out = append(out, parseErrorElement(m, false))
	}
	for _, m := range domtree.QueryAll(doc, genericRowSel) {
		if errorRowSel.Match(m.Node) || isHeaderRow(m.Node, errorColumns) {
			continue
		}
		if isRequestText(domtree.Text(m.Node)) {
			continue
		}
		row := parseErrorElement(m, true)
		if row.EventID == "" && row.Issue == "" {
			continue
		}
		out = append(out, row)
	}
	return out
}

// isRequestText reports whether text reads as a request line: an HTTP
// verb together with a status code.
func isRequestText(text string) bool {
	r := ParseNetworkText(text)
	return r.Method != "" && r.Status != 0
}

// AnchorErrorRows rebuilds rows around links whose text is an event id.
func AnchorErrorRows(doc *domtree.Document) []ErrorRow {
	var out []ErrorRow
	for _, a := range domtree.QueryAll(doc, anchorSel) {
		if _, ok := pattern.HexID(domtree.Text(a.Node)); !ok {
			continue
		}
		row := rowContainer(a.Node)
		if row == nil || isRequestText(domtree.Text(row)) {
			continue
		}
		out = append(out, parseErrorElement(domtree.Match{Node: row, Doc: a.Doc}, false))
	}
	return out
}

// TextErrorRows segments flattened text below the "Event ID" column
// header into blocks that each start with an event id.
func TextErrorRows(text string) []ErrorRow {
	blocks := segment(text, section{
		header:     func(l string) bool { return strings.Contains(l, "event id") },
		stops:      errorStops,
		blockStart: errorBlockStartRe.MatchString,
	})
	var out []ErrorRow
	for _, b := range blocks {
		out = append(out, parseErrorBlock(strings.Join(b, " ")))
	}
	return out
}

// parseErrorElement reads one row element. With strictID the event id is
// taken only from a link or from a first cell that is exactly an id.
func parseErrorElement(m domtree.Match, strictID bool) ErrorRow {
	text := domtree.Text(m.Node)
	cells := cellTexts(m.Node)
	var row ErrorRow

	for _, a := range cascadia.QueryAll(m.Node, anchorSel) {
		if id, ok := pattern.HexID(domtree.Text(a)); ok {
			row.EventID = id
			row.DetailsURL = m.Doc.Resolve(domtree.Attr(a, "href"))
			break
		}
	}
	if row.EventID == "" {
		if strictID {
			if len(cells) > 0 && pattern.IsHexID(cells[0]) {
				row.EventID = cells[0]
			}
		} else {
			row.EventID, _ = pattern.HexID(text)
		}
	}
	row.Issue, _ = pattern.IssueKey(text)
	row.Timestamp, _ = pattern.ClockTime(text)

	for _, cell := range cells {
		if isErrorTokenCell(cell, row) {
			continue
		}
		row.Title = cell
		break
	}
	if row.Title == "" {
		row.Title = errorRemainder(text, row)
	}
	return row
}

func parseErrorBlock(block string) ErrorRow {
	var row ErrorRow
	row.EventID = errorBlockStartRe.FindString(block)
	row.Issue, _ = pattern.LastIssueKey(block)
	row.Timestamp, _ = pattern.LastClockTime(block)
	row.Title = errorRemainder(block, row)
	return row
}

// isErrorTokenCell reports whether a cell holds only an already parsed
// token (or nothing readable) and so cannot be the title.
func isErrorTokenCell(cell string, row ErrorRow) bool {
	rest := cell
	for _, tok := range []string{row.EventID, row.Issue, row.Timestamp} {
		rest = pattern.Remove(rest, tok)
	}
	rest = strings.TrimSpace(rest)
	return len(rest) < 3 || !strings.ContainsFunc(rest, unicode.IsLetter)
}

func errorRemainder(text string, row ErrorRow) string {
	rest := text
	for _, tok := range []string{row.EventID, row.Issue, row.Timestamp} {
		rest = pattern.Remove(rest, tok)
	}
	return domtree.CollapseSpace(rest)
}

func withErrorLinks(in []ErrorRow, links *LinkMap) []ErrorRow {
	for i := range in {
		if in[i].DetailsURL != "" || in[i].EventID == "" {
			continue
		}
		if href, ok := links.Find(in[i].EventID, nil); ok {
			in[i].DetailsURL = href
		}
	}
	return in
}
