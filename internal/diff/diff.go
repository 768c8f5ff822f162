// Package diff renders line-level differences between two normalized texts.
package diff

import (
	"fmt"
	"html"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/JakeFAU/webmonitor/internal/monitor"
)

// Context line counts for the two renderings.
const (
	MarkupContext  = 3
	UnifiedContext = 1
)

// CSS classes attached to each markup line.
const (
	classAdd    = "diff-add"
	classRemove = "diff-remove"
	classHunk   = "diff-hunk"
	classCtx    = "diff-ctx"
)

// Engine implements monitor.Differ on top of difflib's SequenceMatcher.
type Engine struct{}

// New returns a diff engine.
func New() *Engine {
	return &Engine{}
}

// Diff compares oldText with newText line by line. ok is false when the texts
// have no differing lines.
func (e *Engine) Diff(oldText, newText string) (monitor.Diff, bool) {
	a, b := splitLines(oldText), splitLines(newText)

	markup, added, removed := render(a, b, MarkupContext, markupLine)
	if added == 0 && removed == 0 {
		return monitor.Diff{}, false
	}
	unified, _, _ := render(a, b, UnifiedContext, plainLine)

	return monitor.Diff{
		Markup:  strings.Join(markup, "\n"),
		Unified: strings.Join(unified, "\n"),
		Added:   added,
		Removed: removed,
	}, true
}

func render(a, b []string, context int, line func(class, text string) string) ([]string, int, int) {
	var (
		out            []string
		added, removed int
	)
	matcher := difflib.NewMatcher(a, b)
	for _, group := range matcher.GetGroupedOpCodes(context) {
		first, last := group[0], group[len(group)-1]
		header := fmt.Sprintf("@@ -%s +%s @@", hunkRange(first.I1, last.I2), hunkRange(first.J1, last.J2))
		out = append(out, line(classHunk, header))
		for _, op := range group {
			switch op.Tag {
			case 'e':
				for _, l := range a[op.I1:op.I2] {
					out = append(out, line(classCtx, " "+l))
				}
			case 'r', 'd':
				for _, l := range a[op.I1:op.I2] {
					out = append(out, line(classRemove, "-"+l))
					removed++
				}
			}
			if op.Tag == 'r' || op.Tag == 'i' {
				for _, l := range b[op.J1:op.J2] {
					out = append(out, line(classAdd, "+"+l))
					added++
				}
			}
		}
	}
	return out, added, removed
}

func markupLine(class, text string) string {
	return `<span class="` + class + `">` + html.EscapeString(text) + `</span>`
}

func plainLine(_, text string) string {
	return text
}

// hunkRange formats a zero-based half-open range the way unified diff headers do.
func hunkRange(start, stop int) string {
	beginning := start + 1
	length := stop - start
	switch {
	case length == 1:
		return fmt.Sprintf("%d", beginning)
	case length == 0:
		return fmt.Sprintf("%d,0", beginning-1)
	default:
		return fmt.Sprintf("%d,%d", beginning, length)
	}
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
