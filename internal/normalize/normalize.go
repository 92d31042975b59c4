// Package normalize reduces untrusted page HTML to a small, attribute-free
// document that keeps only text-bearing structure.
//
// The rewrite runs as four independent passes over an arena tree:
//  1. remove denylisted subtrees (scripts, styles, media, forms) and comments
//  2. remove textless decoration wrappers
//  3. strip every attribute
//  4. flatten wrapper elements to a fixed point
//
// Normalize never fails. Input the HTML parser cannot make sense of still
// produces a document shell.
package normalize

import (
	"strings"

	"golang.org/x/net/html"
)

// emptyDocument is returned when rendering is impossible.
const emptyDocument = "<html><head></head><body></body></html>"

// maxRounds bounds the parse/rewrite/render loop. Most documents are
// stable after the second round.
const maxRounds = 8

// Normalize returns the cleaned form of rawHTML.
//
// The output re-parses to itself: Normalize(Normalize(x)) == Normalize(x).
// Flattening can produce nestings the HTML parser splits on the next
// parse (a heading directly inside a heading), so the rewrite repeats
// until a round leaves the serialized document unchanged.
func Normalize(rawHTML string) string {
	out := rewrite(rawHTML)
	for range maxRounds {
		next := rewrite(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

// rewrite runs one parse, rewrite and render round.
func rewrite(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return emptyDocument
	}

	t := fromHTML(doc)
	removeDenylisted(t)
	removeTextless(t)
	stripAttributes(t)
	flatten(t)

	var b strings.Builder
	if err := html.Render(&b, t.toHTML()); err != nil {
		return emptyDocument
	}
	return b.String()
}
