package normalize

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/raphaelgruber/jobingest/internal/models"
)

// SniffMeta collects document metadata from the raw page before
// normalization throws attributes away. Relative URLs are resolved
// against pageURL when it parses.
func SniffMeta(rawHTML, pageURL string) models.PageMeta {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return models.PageMeta{}
	}

	base, _ := url.Parse(pageURL)

	meta := models.PageMeta{
		Title:        collapse(doc.Find("head title").First().Text()),
		OGTitle:      metaContent(doc, "og:title"),
		SiteName:     metaContent(doc, "og:site_name"),
		OGImage:      resolve(base, metaContent(doc, "og:image")),
		CanonicalURL: resolve(base, attr(doc.Find(`link[rel="canonical"]`).First(), "href")),
	}
	if meta.Title == "" {
		meta.Title = collapse(doc.Find("title").First().Text())
	}
	return meta
}

// metaContent reads an Open Graph property, accepting the common
// name= spelling some sites use instead of property=.
func metaContent(doc *goquery.Document, property string) string {
	sel := doc.Find(`meta[property="` + property + `"]`).First()
	if sel.Length() == 0 {
		sel = doc.Find(`meta[name="` + property + `"]`).First()
	}
	return attr(sel, "content")
}

func attr(sel *goquery.Selection, name string) string {
	v, _ := sel.Attr(name)
	return strings.TrimSpace(v)
}

func resolve(base *url.URL, ref string) string {
	if ref == "" || base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// collapse trims and folds internal whitespace runs into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
