package domtree

import (
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// ScopeKind tells a document scope from a shadow root scope.
type ScopeKind int

const (
	ScopeDocument ScopeKind = iota
	ScopeShadow
)

// Scope is one queryable root of the composite tree.
type Scope struct {
	Kind ScopeKind
	Doc  *Document  // owning document (for URL resolution)
	Root *html.Node // document node or shadow fragment
	Host *html.Node // shadow host, nil for documents
}

// Scopes enumerates the composite tree reachable from top in discovery
// order: a document scope, then the shadow scopes found while walking it
// in DOM order, then its frame documents depth-first. Each document and
// shadow fragment is visited once even when reachable through several
// paths.
func Scopes(top *Document) []Scope {
	if top == nil {
		return nil
	}
	w := &walker{
		seenDocs:    make(map[*html.Node]bool),
		seenShadows: make(map[*html.Node]bool),
	}
	w.visitDoc(top)
	return w.scopes
}

type walker struct {
	seenDocs    map[*html.Node]bool
	seenShadows map[*html.Node]bool
	scopes      []Scope
}

func (w *walker) visitDoc(doc *Document) {
	if doc == nil || doc.Root == nil || w.seenDocs[doc.Root] {
		return
	}
	w.seenDocs[doc.Root] = true
	w.scopes = append(w.scopes, Scope{Kind: ScopeDocument, Doc: doc, Root: doc.Root})

	var children []*Document
	w.walkScope(doc, doc.Root, &children)
	for _, child := range children {
		w.visitDoc(child)
	}
}

func (w *walker) walkScope(doc *Document, root *html.Node, children *[]*Document) {
	walkElements(root, func(n *html.Node) {
		if frag := doc.shadows[n]; frag != nil && !w.seenShadows[frag] {
			w.seenShadows[frag] = true
			w.scopes = append(w.scopes, Scope{Kind: ScopeShadow, Doc: doc, Root: frag, Host: n})
			w.walkScope(doc, frag, children)
		}
		if child := doc.frames[n]; child != nil {
			*children = append(*children, child)
		}
	})
}

// Match is an element found in the composite tree together with the
// document that owns it.
type Match struct {
	Node *html.Node
	Doc  *Document
}

// Href returns the match's href attribute resolved against its document.
func (m Match) Href() string {
	href := Attr(m.Node, "href")
	if href == "" {
		return ""
	}
	return m.Doc.Resolve(href)
}

// QueryAll returns every element matching m anywhere in the composite
// tree, ordered by scope discovery and then DOM order.
func QueryAll(top *Document, m cascadia.Matcher) []Match {
	var out []Match
	for _, s := range Scopes(top) {
		for _, n := range cascadia.QueryAll(s.Root, m) {
			out = append(out, Match{Node: n, Doc: s.Doc})
		}
	}
	return out
}

// QueryFirst returns the first element matching m, or false.
func QueryFirst(top *Document, m cascadia.Matcher) (Match, bool) {
	for _, s := range Scopes(top) {
		if n := cascadia.Query(s.Root, m); n != nil {
			return Match{Node: n, Doc: s.Doc}, true
		}
	}
	return Match{}, false
}

// Closest walks from n up through its ancestors (n included) and returns
// the first element matching m. The walk stops at the scope root, so it
// never crosses a shadow or frame boundary.
func Closest(n *html.Node, m cascadia.Matcher) *html.Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && m.Match(cur) {
			return cur
		}
	}
	return nil
}

// Ancestors returns up to max element ancestors of n, nearest first.
func Ancestors(n *html.Node, max int) []*html.Node {
	var out []*html.Node
	for cur := n.Parent; cur != nil && len(out) < max; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			break
		}
		out = append(out, cur)
	}
	return out
}

// Attr returns the value of attribute key on n, or "".
func Attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// HasAttr reports whether n carries attribute key.
func HasAttr(n *html.Node, key string) bool {
	if n == nil {
		return false
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func walkElements(root *html.Node, fn func(*html.Node)) {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			fn(c)
		}
		walkElements(c, fn)
	}
}
