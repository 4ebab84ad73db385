// Package pagetest provides an in-memory page.Page for tests.
package pagetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hazyhaar/triage/triage/internal/domtree"
	"github.com/hazyhaar/triage/triage/internal/page"
)

// State is one rendering of the fake page.
type State struct {
	URL  string
	HTML string
}

// Fake is a scripted page. Snapshots render the current state; clicks on a
// target whose text contains a key of OnClick push that state onto the
// history. Renders, when non-empty, replaces the current state's HTML on
// successive snapshots to simulate asynchronous rendering.
type Fake struct {
	mu      sync.Mutex
	history []State
	OnClick map[string]State
	// Renders are consumed one per snapshot before falling back to the
	// current state's HTML.
	Renders []string

	Clicks    []page.Target
	Snapshots int
	BackCalls int
}

// New returns a Fake positioned on the given state.
func New(url, html string) *Fake {
	return &Fake{history: []State{{URL: url, HTML: html}}, OnClick: make(map[string]State)}
}

func (f *Fake) current() State { return f.history[len(f.history)-1] }

func (f *Fake) URL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current().URL, nil
}

func (f *Fake) Snapshot(ctx context.Context) (*domtree.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Snapshots++
	cur := f.current()
	src := cur.HTML
	if len(f.Renders) > 0 {
		src = f.Renders[0]
		f.Renders = f.Renders[1:]
	}
	return domtree.ParseString(src, cur.URL)
}

func (f *Fake) Click(ctx context.Context, t page.Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Clicks = append(f.Clicks, t)
	for key, next := range f.OnClick {
		if strings.Contains(strings.ToLower(t.Text), strings.ToLower(key)) {
			f.history = append(f.history, next)
			return nil
		}
	}
	return nil
}

func (f *Fake) Back(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BackCalls++
	if len(f.history) < 2 {
		return false, nil
	}
	f.history = f.history[:len(f.history)-1]
	return true, nil
}

// Current returns the state the fake is on.
func (f *Fake) Current() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current()
}

// Broken is a page whose every call fails.
type Broken struct{ Err error }

func (b Broken) URL(context.Context) (string, error) { return "", b.err() }
func (b Broken) Snapshot(context.Context) (*domtree.Document, error) {
	return nil, b.err()
}
func (b Broken) Click(context.Context, page.Target) error { return b.err() }
func (b Broken) Back(context.Context) (bool, error)       { return false, b.err() }

func (b Broken) err() error {
	if b.Err != nil {
		return b.Err
	}
	return fmt.Errorf("pagetest: broken page")
}
