// Package domtree models a rendered page as a composite tree: the top
// document, every same-origin frame document reachable from it, and every
// open shadow root attached inside any of them. Extraction code never
// touches a live page directly; it queries a Document parsed from a
// snapshot and re-snapshots between poll attempts.
package domtree

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is one parsed document of the composite tree.
type Document struct {
	URL  *url.URL
	Root *html.Node

	// frames maps an iframe/frame element to its same-origin content document.
	frames map[*html.Node]*Document
	// shadows maps a host element to its detached shadow root fragment.
	shadows map[*html.Node]*html.Node
}

// Parse reads HTML and returns a Document rooted at pageURL. Declarative
// open shadow roots (<template shadowrootmode="open">) are detached from
// their host into separate fragments so that document-level queries do not
// pierce them, matching how a browser scopes querySelectorAll.
func Parse(r io.Reader, pageURL string) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("domtree: parse: %w", err)
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("domtree: parse url %q: %w", pageURL, err)
	}
	d := &Document{
		URL:     u,
		Root:    root,
		frames:  make(map[*html.Node]*Document),
		shadows: make(map[*html.Node]*html.Node),
	}
	d.detachShadowRoots(root)
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(s, pageURL string) (*Document, error) {
	return Parse(strings.NewReader(s), pageURL)
}

// Origin returns scheme://host of the document URL.
func (d *Document) Origin() string {
	if d.URL == nil {
		return ""
	}
	return d.URL.Scheme + "://" + d.URL.Host
}

// AttachFrame records child as the content document of the frame element.
// Cross-origin children are refused: the caller gets false and the frame
// stays opaque, which is the same partial view a page script would get.
// about:blank and about:srcdoc frames inherit their parent's origin.
func (d *Document) AttachFrame(frame *html.Node, child *Document) bool {
	if frame == nil || child == nil {
		return false
	}
	if !isFrame(frame) {
		return false
	}
	if !inheritsOrigin(child) && child.Origin() != d.Origin() {
		return false
	}
	d.frames[frame] = child
	return true
}

// ShadowRoot returns the shadow fragment attached to host, or nil.
func (d *Document) ShadowRoot(host *html.Node) *html.Node {
	return d.shadows[host]
}

// Resolve turns a possibly relative reference into an absolute URL string
// using the document URL as base. Unparseable references are returned as-is.
func (d *Document) Resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || d.URL == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return d.URL.ResolveReference(u).String()
}

// detachShadowRoots moves the content of every declarative shadow root
// template into a standalone fragment keyed by its host. Closed roots are
// dropped since nothing outside the host can read them.
func (d *Document) detachShadowRoots(root *html.Node) {
	var templates []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == atom.Template && shadowMode(c) != "" {
				templates = append(templates, c)
			}
			walk(c)
		}
	}
	walk(root)

	for _, tpl := range templates {
		host := tpl.Parent
		mode := shadowMode(tpl)
		if host == nil {
			continue
		}
		host.RemoveChild(tpl)
		if mode != "open" || d.shadows[host] != nil {
			continue
		}
		frag := &html.Node{Type: html.DocumentNode}
		for c := tpl.FirstChild; c != nil; {
			next := c.NextSibling
			tpl.RemoveChild(c)
			frag.AppendChild(c)
			c = next
		}
		d.shadows[host] = frag
	}
}

func shadowMode(n *html.Node) string {
	for _, a := range n.Attr {
		if a.Key == "shadowrootmode" || a.Key == "shadowroot" {
			return strings.ToLower(strings.TrimSpace(a.Val))
		}
	}
	return ""
}

func inheritsOrigin(d *Document) bool {
	return d.URL != nil && d.URL.Scheme == "about"
}

func isFrame(n *html.Node) bool {
	return n.Type == html.ElementNode && (n.DataAtom == atom.Iframe || n.DataAtom == atom.Frame)
}
