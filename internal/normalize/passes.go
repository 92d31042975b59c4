package normalize

import (
	"strings"

	"golang.org/x/net/html"
)

// denylist holds non-content tags whose whole subtree is dropped.
var denylist = setOf(
	"svg", "script", "style", "img", "noscript", "iframe", "canvas",
	"video", "audio", "picture", "source", "track", "object", "embed", "link",
	"form", "fieldset", "input", "button", "select", "textarea", "label",
	"option", "optgroup", "legend", "datalist", "output", "meter", "progress",
)

// decorationTags are checked by the textless pass in addition to any
// element carrying a class attribute.
var decorationTags = setOf(
	"div", "span", "section", "header", "footer", "aside", "nav", "main", "article",
)

// contentTags keep an otherwise textless ancestor alive.
var contentTags = setOf(
	"a", "p", "li", "h1", "h2", "h3", "h4", "h5", "h6",
	"table", "tr", "td", "th", "ul", "ol",
)

// structureTags are never removed by the textless pass so that list and
// table skeletons survive even when a cell or item is empty.
var structureTags = setOf(
	"html", "head", "body",
	"table", "thead", "tbody", "tfoot", "tr", "td", "th", "caption",
	"ul", "ol", "li", "dl", "dt", "dd",
)

// wrapperTags are candidates for structural flattening.
var wrapperTags = setOf("div", "span", "section", "article", "main", "aside")

// containerOf lists, for tags that depend on their parent, the parents
// they are valid under.
var containerOf = map[string]map[string]bool{
	"li":       setOf("ul", "ol", "menu"),
	"dt":       setOf("dl"),
	"dd":       setOf("dl"),
	"tr":       setOf("table", "thead", "tbody", "tfoot"),
	"td":       setOf("tr"),
	"th":       setOf("tr"),
	"thead":    setOf("table"),
	"tbody":    setOf("table"),
	"tfoot":    setOf("table"),
	"caption":  setOf("table"),
	"colgroup": setOf("table"),
	"option":   setOf("select", "datalist", "optgroup"),
	"optgroup": setOf("select"),
	"legend":   setOf("fieldset"),
}

func setOf(tags ...string) map[string]bool {
	m := make(map[string]bool, len(tags))
	for _, t := range tags {
		m[t] = true
	}
	return m
}

// removeDenylisted drops denylisted subtrees and comment nodes.
func removeDenylisted(t *tree) {
	for _, id := range t.preorder() {
		n := &t.nodes[id]
		if n.detached {
			continue
		}
		if n.typ == html.CommentNode || denylist[t.tag(id)] {
			t.remove(id)
		}
	}
}

// removeTextless drops decoration elements that carry no visible text
// and no content-bearing descendant.
func removeTextless(t *tree) {
	for _, id := range t.preorder() {
		n := &t.nodes[id]
		if n.detached || n.typ != html.ElementNode {
			continue
		}
		tag := n.data
		if structureTags[tag] {
			continue
		}
		if !decorationTags[tag] && !hasAttr(n, "class") {
			continue
		}
		if strings.TrimSpace(t.text(id)) != "" {
			continue
		}
		if t.hasDescendant(id, contentTags) {
			continue
		}
		t.remove(id)
	}
}

// stripAttributes clears the attributes of every element.
func stripAttributes(t *tree) {
	for i := range t.nodes {
		if t.nodes[i].typ == html.ElementNode {
			t.nodes[i].attrs = nil
		}
	}
}

// flatten unwraps wrapper elements until no more can be unwrapped.
// It returns the number of elements removed.
func flatten(t *tree) int {
	total := 0
	for {
		changed := 0
		for _, id := range t.preorder() {
			if t.nodes[id].detached || !unwrappable(t, id) {
				continue
			}
			t.unwrap(id)
			changed++
		}
		if changed == 0 {
			return total
		}
		total += changed
	}
}

// unwrappable reports whether id is a wrapper with element children,
// no direct text of its own, and no child that would lose its required
// parent by being moved up.
func unwrappable(t *tree, id nodeID) bool {
	if !wrapperTags[t.tag(id)] {
		return false
	}
	n := &t.nodes[id]
	if n.parent == noNode {
		return false
	}
	parentTag := t.tag(n.parent)

	hasElement := false
	for c := n.firstChild; c != noNode; c = t.nodes[c].nextSibling {
		child := &t.nodes[c]
		switch child.typ {
		case html.TextNode:
			if strings.TrimSpace(child.data) != "" {
				return false
			}
		case html.ElementNode:
			hasElement = true
			if parents, ok := containerOf[child.data]; ok && !parents[parentTag] {
				return false
			}
		}
	}
	return hasElement
}

func hasAttr(n *node, key string) bool {
	for _, a := range n.attrs {
		if a.Namespace == "" && a.Key == key {
			return true
		}
	}
	return false
}
