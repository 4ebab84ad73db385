package rows

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"

	"github.com/hazyhaar/triage/triage/internal/domtree"
	"github.com/hazyhaar/triage/triage/internal/pattern"
)

var networkRowSel = cascadia.MustCompile(strings.Join([]string{
	`[data-test-id="replay-network-row"]`,
	`[data-test-id="replay-details-network-tab"] [role="row"]`,
	`[data-test-id="network-table"] [role="row"]`,
	`[data-testid="replay-network-row"]`,
	`.replay-network-table tr`,
	`[role="row"]`,
	`tr`,
}, ", "))

var networkColumns = []string{"method", "status", "duration"}

var (
	networkBlockStartRe = regexp.MustCompile(`^(?:GET|POST|PUT|PATCH|DELETE|OPTIONS|HEAD)\b`)
	pathTokenRe         = regexp.MustCompile(`(?:^|\s)(/[^\s]*)`)
)

var networkStops = []string{"errors", "console", "breadcrumbs", "trace", "memory", "tags", "dom events", "accessibility", "a11y"}

// NetworkRows runs the three network-row strategies and merges them.
func NetworkRows(doc *domtree.Document) []NetworkRow {
	links := BuildLinkMap(doc)
	structured := withNetworkLinks(StructuredNetworkRows(doc), links)
	anchored := withNetworkLinks(AnchorNetworkRows(doc), links)
	text := TextNetworkRows(domtree.Flatten(doc))
	return merge(NetworkRow.Key, NetworkRow.Identified, structured, anchored, text)
}

// StructuredNetworkRows reads request rows from known row selectors.
func StructuredNetworkRows(doc *domtree.Document) []NetworkRow {
	var out []NetworkRow
	for _, m := range domtree.QueryAll(doc, networkRowSel) {
		if isHeaderRow(m.Node, networkColumns) {
			continue
		}
		row := ParseNetworkText(domtree.Text(m.Node))
		if !plausibleRequest(row) {
			continue
		}
		row.DetailsURL = firstAnchorHref(m, func(_, href string) bool { return href != "" && href != row.RequestURL })
		out = append(out, row)
	}
	return out
}

// AnchorNetworkRows rebuilds rows around links whose text names a request
// URL or host.
func AnchorNetworkRows(doc *domtree.Document) []NetworkRow {
	var out []NetworkRow
	for _, a := range domtree.QueryAll(doc, anchorSel) {
		text := domtree.Text(a.Node)
		_, isURL := pattern.URL(text)
		_, isHost := pattern.Host(text)
		if !isURL && !isHost {
			continue
		}
		container := rowContainer(a.Node)
		if container == nil {
			continue
		}
		row := ParseNetworkText(domtree.Text(container))
		if !plausibleRequest(row) {
			continue
		}
		out = append(out, row)
	}
	return out
}

// plausibleRequest is the acceptance rule for rows read from markup: a
// method, or a status together with a URL or host. A link label that
// merely looks like a host is not enough.
func plausibleRequest(r NetworkRow) bool {
	return r.Method != "" || r.Status != 0 && (r.RequestURL != "" || r.Host != "")
}

// TextNetworkRows segments flattened text below the "Method" column
// header into blocks that each start with an HTTP verb.
func TextNetworkRows(text string) []NetworkRow {
	blocks := segment(text, section{
		header:     func(l string) bool { return strings.HasPrefix(l, "method") },
		stops:      networkStops,
		blockStart: networkBlockStartRe.MatchString,
	})
	var out []NetworkRow
	for _, b := range blocks {
		out = append(out, ParseNetworkText(strings.Join(b, " ")))
	}
	return out
}

// ParseNetworkText reads one request line. Tokens are consumed in a fixed
// order so that later, looser rules only see what earlier rules left:
// URL (or path), method, duration, timestamp, byte sizes, then status
// and finally a bare host.
func ParseNetworkText(text string) NetworkRow {
	var row NetworkRow
	rest := text

	if u, ok := pattern.URL(rest); ok {
		row.RequestURL = u
		row.Host, _ = pattern.HostOf(u)
		rest = pattern.StripURLs(rest)
	} else if m := pathTokenRe.FindStringSubmatch(rest); m != nil && len(m[1]) > 1 {
		row.RequestURL = m[1]
		rest = pattern.Remove(rest, m[1])
	}
	if m, ok := pattern.Method(rest); ok {
		row.Method = m
		rest = pattern.StripMethods(rest)
	}
	if d, ok := pattern.Duration(rest); ok {
		row.Duration = d
		rest = pattern.StripDurations(rest)
	}
	if ts, ok := pattern.ClockTime(rest); ok {
		row.Timestamp = ts
		rest = pattern.StripClockTimes(rest)
	}
	rest = pattern.StripSizes(rest)
	if s, ok := pattern.Status(rest); ok {
		row.Status = s
		rest = pattern.Remove(rest, itoa3(s))
	}
	if row.Host == "" {
		if h, ok := pattern.Host(rest); ok {
			row.Host = h
			rest = pattern.Remove(rest, h)
		}
	}
	row.Title = domtree.CollapseSpace(rest)
	return row
}

func itoa3(n int) string {
	return string([]byte{byte('0' + n/100), byte('0' + n/10%10), byte('0' + n%10)})
}

func withNetworkLinks(in []NetworkRow, links *LinkMap) []NetworkRow {
	for i := range in {
		if in[i].DetailsURL != "" || in[i].RequestURL == "" {
			continue
		}
		token := in[i].RequestURL
		if u, err := url.Parse(token); err == nil && u.Path != "" && u.Path != "/" {
			token = u.Path
		}
		own := in[i].RequestURL
		if href, ok := links.Find(token, func(href string) bool { return href == own }); ok {
			in[i].DetailsURL = href
		}
	}
	return in
}
