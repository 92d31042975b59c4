package normalize

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// nodeID indexes a node in the tree arena.
type nodeID int32

const noNode nodeID = -1

type node struct {
	typ      html.NodeType
	data     string // tag name for elements, content for text/comment/doctype
	dataAtom atom.Atom
	ns       string
	attrs    []html.Attribute

	parent, firstChild, lastChild, prevSibling, nextSibling nodeID
	detached                                                bool
}

// tree is an arena of nodes linked the way x/net/html links them, so
// removing or unwrapping a node costs nothing per sibling.
// Nodes are never freed; removal detaches a subtree and marks it.
type tree struct {
	nodes []node
	root  nodeID
}

// fromHTML copies a parsed x/net/html document into an arena.
func fromHTML(doc *html.Node) *tree {
	t := &tree{}
	t.root = t.copyNode(doc, noNode)
	return t
}

func (t *tree) copyNode(n *html.Node, parent nodeID) nodeID {
	id := nodeID(len(t.nodes))
	t.nodes = append(t.nodes, node{
		typ:         n.Type,
		data:        n.Data,
		dataAtom:    n.DataAtom,
		ns:          n.Namespace,
		attrs:       n.Attr,
		parent:      parent,
		firstChild:  noNode,
		lastChild:   noNode,
		prevSibling: noNode,
		nextSibling: noNode,
	})
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		t.appendChild(id, t.copyNode(c, id))
	}
	return id
}

func (t *tree) appendChild(parent, child nodeID) {
	last := t.nodes[parent].lastChild
	t.nodes[child].parent = parent
	t.nodes[child].prevSibling = last
	t.nodes[child].nextSibling = noNode
	if last == noNode {
		t.nodes[parent].firstChild = child
	} else {
		t.nodes[last].nextSibling = child
	}
	t.nodes[parent].lastChild = child
}

// children lists the children of id in order.
func (t *tree) children(id nodeID) []nodeID {
	var out []nodeID
	for c := t.nodes[id].firstChild; c != noNode; c = t.nodes[c].nextSibling {
		out = append(out, c)
	}
	return out
}

// toHTML rebuilds an x/net/html tree from the live part of the arena.
func (t *tree) toHTML() *html.Node {
	return t.buildNode(t.root)
}

func (t *tree) buildNode(id nodeID) *html.Node {
	n := &t.nodes[id]
	out := &html.Node{
		Type:      n.typ,
		Data:      n.data,
		DataAtom:  n.dataAtom,
		Namespace: n.ns,
		Attr:      n.attrs,
	}
	for c := n.firstChild; c != noNode; c = t.nodes[c].nextSibling {
		out.AppendChild(t.buildNode(c))
	}
	return out
}

func (t *tree) isElement(id nodeID) bool {
	return t.nodes[id].typ == html.ElementNode
}

// tag returns the lowercase element name, or "" for non-elements.
func (t *tree) tag(id nodeID) string {
	if !t.isElement(id) {
		return ""
	}
	return t.nodes[id].data
}

// preorder lists live nodes in document order.
func (t *tree) preorder() []nodeID {
	var out []nodeID
	var walk func(nodeID)
	walk = func(id nodeID) {
		out = append(out, id)
		for c := t.nodes[id].firstChild; c != noNode; c = t.nodes[c].nextSibling {
			walk(c)
		}
	}
	walk(t.root)
	return out
}

// unlink takes id out of its parent's child list.
func (t *tree) unlink(id nodeID) {
	n := &t.nodes[id]
	if n.parent == noNode {
		return
	}
	p := &t.nodes[n.parent]
	if n.prevSibling == noNode {
		p.firstChild = n.nextSibling
	} else {
		t.nodes[n.prevSibling].nextSibling = n.nextSibling
	}
	if n.nextSibling == noNode {
		p.lastChild = n.prevSibling
	} else {
		t.nodes[n.nextSibling].prevSibling = n.prevSibling
	}
	n.parent, n.prevSibling, n.nextSibling = noNode, noNode, noNode
}

// remove detaches id and its whole subtree from the tree.
func (t *tree) remove(id nodeID) {
	t.unlink(id)
	t.markDetached(id)
}

func (t *tree) markDetached(id nodeID) {
	t.nodes[id].detached = true
	for c := t.nodes[id].firstChild; c != noNode; c = t.nodes[c].nextSibling {
		t.markDetached(c)
	}
}

// unwrap splices the children of id into its position and drops id.
func (t *tree) unwrap(id nodeID) {
	n := &t.nodes[id]
	parent := n.parent
	if parent == noNode {
		return
	}
	first, last := n.firstChild, n.lastChild
	if first == noNode {
		t.unlink(id)
		n.detached = true
		return
	}
	for c := first; c != noNode; c = t.nodes[c].nextSibling {
		t.nodes[c].parent = parent
	}

	t.nodes[first].prevSibling = n.prevSibling
	t.nodes[last].nextSibling = n.nextSibling
	if n.prevSibling == noNode {
		t.nodes[parent].firstChild = first
	} else {
		t.nodes[n.prevSibling].nextSibling = first
	}
	if n.nextSibling == noNode {
		t.nodes[parent].lastChild = last
	} else {
		t.nodes[n.nextSibling].prevSibling = last
	}

	n.parent, n.prevSibling, n.nextSibling = noNode, noNode, noNode
	n.firstChild, n.lastChild = noNode, noNode
	n.detached = true
}

// text concatenates all descendant text of id.
func (t *tree) text(id nodeID) string {
	var b strings.Builder
	var walk func(nodeID)
	walk = func(n nodeID) {
		if t.nodes[n].typ == html.TextNode {
			b.WriteString(t.nodes[n].data)
			return
		}
		for c := t.nodes[n].firstChild; c != noNode; c = t.nodes[c].nextSibling {
			walk(c)
		}
	}
	walk(id)
	return b.String()
}

// hasDescendant reports whether any element below id has a tag in set.
func (t *tree) hasDescendant(id nodeID, set map[string]bool) bool {
	for c := t.nodes[id].firstChild; c != noNode; c = t.nodes[c].nextSibling {
		if set[t.tag(c)] || t.hasDescendant(c, set) {
			return true
		}
	}
	return false
}
