package normalize

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func parseTree(t *testing.T, input string) *tree {
	t.Helper()
	root, err := html.Parse(strings.NewReader(input))
	require.NoError(t, err)
	return fromHTML(root)
}

func render(t *testing.T, tr *tree) string {
	t.Helper()
	var b strings.Builder
	require.NoError(t, html.Render(&b, tr.toHTML()))
	return b.String()
}

func TestRemoveDenylisted(t *testing.T) {
	tr := parseTree(t, `<div class="c"><svg><circle r="1"/></svg><p>keep</p><noscript>x</noscript><!-- c --></div>`)
	removeDenylisted(tr)

	assert.Equal(t, doc(`<div class="c"><p>keep</p></div>`), render(t, tr))
}

func TestRemoveTextless(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "decoration without text",
			input: `<div class="a"><span></span></div><p>x</p>`,
			want:  doc(`<p>x</p>`),
		},
		{
			name:  "classed paragraph without text",
			input: `<p class="spacer"></p><p>x</p>`,
			want:  doc(`<p>x</p>`),
		},
		{
			name:  "plain empty paragraph is not a target",
			input: `<p></p><p>x</p>`,
			want:  doc(`<p></p><p>x</p>`),
		},
		{
			name:  "content descendant keeps wrapper",
			input: `<div><ul><li></li></ul></div>`,
			want:  doc(`<div><ul><li></li></ul></div>`),
		},
		{
			name:  "nav with link text kept",
			input: `<nav><a href="/">Home</a></nav>`,
			want:  doc(`<nav><a href="/">Home</a></nav>`),
		},
		{
			name:  "body with class is never removed",
			input: `<body class="page"></body>`,
			want:  `<html><head></head><body class="page"></body></html>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := parseTree(t, tt.input)
			removeTextless(tr)
			assert.Equal(t, tt.want, render(t, tr))
		})
	}
}

func TestStripAttributes(t *testing.T) {
	tr := parseTree(t, `<html lang="en"><body id="b"><p class="foo" data-x="1">Hello</p></body></html>`)
	stripAttributes(tr)

	assert.Equal(t, doc(`<p>Hello</p>`), render(t, tr))
}

func TestFlatten(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      string
		unwrapped int
	}{
		{
			name:      "two nested wrappers",
			input:     `<div><div><p>x</p></div></div>`,
			want:      doc(`<p>x</p>`),
			unwrapped: 2,
		},
		{
			name:      "wrapper order preserved",
			input:     `<p>a</p><div><p>b</p><p>c</p></div><p>d</p>`,
			want:      doc(`<p>a</p><p>b</p><p>c</p><p>d</p>`),
			unwrapped: 1,
		},
		{
			name:      "direct text blocks unwrap",
			input:     `<div>text<p>b</p></div>`,
			want:      doc(`<div>text<p>b</p></div>`),
			unwrapped: 0,
		},
		{
			name:      "text only wrapper untouched",
			input:     `<span>text</span>`,
			want:      doc(`<span>text</span>`),
			unwrapped: 0,
		},
		{
			name:      "non wrapper tags untouched",
			input:     `<header><p>x</p></header>`,
			want:      doc(`<header><p>x</p></header>`),
			unwrapped: 0,
		},
		{
			name:      "inner wrapper exposed after outer unwrap",
			input:     `<ul><div><span><li>x</li></span></div></ul>`,
			want:      doc(`<ul><li>x</li></ul>`),
			unwrapped: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := parseTree(t, tt.input)
			n := flatten(tr)
			assert.Equal(t, tt.want, render(t, tr))
			assert.Equal(t, tt.unwrapped, n)
		})
	}
}

func TestTreeUnwrapKeepsSiblingOrder(t *testing.T) {
	tr := parseTree(t, `<p>a</p><div><i>1</i><b>2</b></div><p>c</p>`)

	var wrapper nodeID = noNode
	for _, id := range tr.preorder() {
		if tr.tag(id) == "div" {
			wrapper = id
		}
	}
	require.NotEqual(t, noNode, wrapper)

	tr.unwrap(wrapper)

	assert.Equal(t, doc(`<p>a</p><i>1</i><b>2</b><p>c</p>`), render(t, tr))
	assert.True(t, tr.nodes[wrapper].detached)
}

func TestTreeUnwrapAtEdgesKeepsLinks(t *testing.T) {
	tr := parseTree(t, `<div><i>1</i></div><p>b</p><div><b>2</b><u>3</u></div>`)

	var body nodeID = noNode
	var wrappers []nodeID
	for _, id := range tr.preorder() {
		switch tr.tag(id) {
		case "body":
			body = id
		case "div":
			wrappers = append(wrappers, id)
		}
	}
	require.NotEqual(t, noNode, body)
	require.Len(t, wrappers, 2)

	tr.unwrap(wrappers[1])
	tr.unwrap(wrappers[0])

	kids := tr.children(body)
	var tags []string
	for i, c := range kids {
		tags = append(tags, tr.tag(c))
		assert.Equal(t, body, tr.nodes[c].parent)
		if i > 0 {
			assert.Equal(t, kids[i-1], tr.nodes[c].prevSibling)
		}
	}
	assert.Equal(t, []string{"i", "p", "b", "u"}, tags)
	assert.Equal(t, kids[0], tr.nodes[body].firstChild)
	assert.Equal(t, kids[len(kids)-1], tr.nodes[body].lastChild)

	tr.remove(kids[1])
	assert.Equal(t, doc(`<i>1</i><b>2</b><u>3</u>`), render(t, tr))
}

func TestNormalize_ManySiblingWrappers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large document in short mode")
	}

	const n = 20000
	input := strings.Repeat(`<div><p>x</p></div>`, n)

	start := time.Now()
	out := Normalize(input)
	elapsed := time.Since(start)

	assert.Equal(t, doc(strings.Repeat(`<p>x</p>`, n)), out)
	assert.Less(t, elapsed, 5*time.Second, "flattening should stay linear in sibling count")
}

func BenchmarkNormalize_SiblingWrappers(b *testing.B) {
	input := strings.Repeat(`<div><span class="c">text</span></div>`, 2000)
	for b.Loop() {
		Normalize(input)
	}
}
