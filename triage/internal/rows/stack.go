package rows

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"

	"github.com/hazyhaar/triage/triage/internal/domtree"
)

// Frame is one stack frame.
type Frame struct {
	Function string `json:"function,omitempty"`
	File     string `json:"file,omitempty"`
	Package  string `json:"package,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	InApp    bool   `json:"inApp,omitempty"`
}

// Identified reports whether the frame names a function or a file.
func (f Frame) Identified() bool { return f.Function != "" || f.File != "" }

// Key is the dedup key: function, file, line, package.
func (f Frame) Key() string {
	return strings.Join([]string{f.Function, f.File, strconv.Itoa(f.Line), f.Package}, keySep)
}

// Location renders "file:line", or "package:pkg/file:line" when the frame
// carries a package qualifier.
func (f Frame) Location() string {
	loc := f.File
	if f.Package != "" {
		loc = "package:" + f.Package + "/" + f.File
	}
	if f.Line > 0 {
		loc += ":" + strconv.Itoa(f.Line)
	}
	return loc
}

// FormatFrames renders frames in the given order, one per line, as
// "#i  function (location)".
func FormatFrames(frames []Frame) string {
	lines := make([]string, 0, len(frames))
	for i, f := range frames {
		fn := f.Function
		if fn == "" {
			fn = "<anonymous>"
		}
		lines = append(lines, fmt.Sprintf("#%d  %s (%s)", i, fn, f.Location()))
	}
	return strings.Join(lines, "\n")
}

// frameLineRe matches the host's pretty frame title:
// "foo.js in handleClick at line 42:7 within FormModule".
var frameLineRe = regexp.MustCompile(`(\S+)\s+in\s+(\S+?)\s+at\s+line\s+(\d+)(?::(\d+))?(?:\s+within\s+(\S+))?`)

// ParseFrameLine parses one pretty frame title.
func ParseFrameLine(s string) (Frame, bool) {
	m := frameLineRe.FindStringSubmatch(s)
	if m == nil {
		return Frame{}, false
	}
	f := Frame{File: m[1], Function: m[2], Package: m[5]}
	f.Line, _ = strconv.Atoi(m[3])
	if m[4] != "" {
		f.Column, _ = strconv.Atoi(m[4])
	}
	return f, true
}

var frameRowSel = cascadia.MustCompile(strings.Join([]string{
	`[data-test-id="stack-trace-frame"]`,
	`[data-test-id="frame-title"]`,
	`[data-test-id="line"]`,
	`.traceback li.frame`,
	`li.frame`,
}, ", "))

var filenameSel = cascadia.MustCompile(`[data-test-id="filename"], code.filename, .filename`)

var stackStops = []string{"breadcrumbs", "tags", "contexts", "additional data", "packages", "event grouping information", "replay", "highlights"}

// StackFrames runs the three stack-frame strategies and merges them.
func StackFrames(doc *domtree.Document) []Frame {
	return merge(Frame.Key, Frame.Identified,
		StructuredFrames(doc), FilenameFrames(doc), TextFrames(domtree.Flatten(doc)))
}

// StructuredFrames reads frame titles from known frame selectors.
func StructuredFrames(doc *domtree.Document) []Frame {
	var out []Frame
	for _, m := range domtree.QueryAll(doc, frameRowSel) {
		if f, ok := ParseFrameLine(domtree.Text(m.Node)); ok {
			out = append(out, f)
		}
	}
	return out
}

// FilenameFrames starts from filename markers and walks up to the
// nearest ancestor whose text reads as a whole frame title.
func FilenameFrames(doc *domtree.Document) []Frame {
	var out []Frame
	for _, m := range domtree.QueryAll(doc, filenameSel) {
		for _, anc := range domtree.Ancestors(m.Node, maxAncestorHops) {
			if f, ok := ParseFrameLine(domtree.Text(anc)); ok {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// TextFrames normalises the free-text "Stack Trace" section: every line
// that reads as a pretty frame title becomes a frame, in the order met.
// Text without the heading is scanned whole.
func TextFrames(text string) []Frame {
	lines := domtree.Lines(text)
	start := 0
	for i, l := range lines {
		if strings.Contains(strings.ToLower(l), "stack trace") {
			start = i + 1
			break
		}
	}
	var out []Frame
	for _, l := range lines[min(start, len(lines)):] {
		if isStop(l, stackStops) {
			break
		}
		if f, ok := ParseFrameLine(l); ok {
			out = append(out, f)
		}
	}
	return out
}

// NormalizeStackText turns a free-text stack trace into numbered frame
// lines, first encountered frame first.
func NormalizeStackText(text string) string {
	return FormatFrames(Dedup(TextFrames(text), Frame.Key))
}
