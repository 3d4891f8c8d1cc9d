// Package extract pulls labelled values out of faction detail pages.
//
// Pages are searched structurally for a label and the value printed near it.
// Extraction is best effort: missing or malformed markup yields unset fields,
// never an error.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// FieldSet lists the labels to look for, in priority order.
type FieldSet struct {
	Location []string
	Flag     []string
}

// Fields is the result of extracting a page. Location is empty when no
// location label produced a value; Flag is nil when the flag is unknown.
type Fields struct {
	Location string
	Flag     *bool
}

// Strategy finds the value printed near label. ok is false when the
// strategy found nothing.
type Strategy func(doc *goquery.Document, label string) (value string, ok bool)

// strategies are tried in order; the first one returning a value wins.
var strategies = []Strategy{
	labelElement,
	labelTextNode,
}

// labelSelector matches the elements pages use to print field labels.
const labelSelector = "b, strong, th, td, dt, label, div, span"

// Extract parses body and returns the location and flag fields.
func Extract(body string, fs FieldSet) Fields {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return Fields{}
	}

	var out Fields
	for _, label := range fs.Location {
		if v, ok := Value(doc, label); ok {
			out.Location = v
			break
		}
	}
	for _, label := range fs.Flag {
		if v, ok := Value(doc, label); ok {
			out.Flag = ParseFlag(v)
			break
		}
	}
	return out
}

// Value runs the strategy list for a single label.
func Value(doc *goquery.Document, label string) (string, bool) {
	if doc == nil || strings.TrimSpace(label) == "" {
		return "", false
	}
	for _, s := range strategies {
		if v, ok := s(doc, label); ok {
			return v, true
		}
	}
	return "", false
}

// ParseFlag maps "yes..." to true and "no..." to false, case-insensitively.
// Anything else is unknown.
func ParseFlag(s string) *bool {
	low := strings.ToLower(strings.TrimSpace(s))
	var v bool
	switch {
	case strings.HasPrefix(low, "yes"):
		v = true
	case strings.HasPrefix(low, "no"):
		v = false
	default:
		return nil
	}
	return &v
}

// labelElement finds a label-like element whose whole text equals label
// (case-insensitive, trailing colons ignored). The value is the first
// hyperlink following the label inside its container, else the next
// non-empty text in the document.
func labelElement(doc *goquery.Document, label string) (string, bool) {
	want := strings.ToLower(collapse(label))

	var (
		value string
		found bool
	)
	doc.Find(labelSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		txt := strings.ToLower(collapse(s.Text()))
		if txt == "" || strings.TrimSpace(strings.TrimRight(txt, ":")) != want {
			return true
		}
		n := s.Get(0)
		if v := anchorAfter(n, n.Parent); v != "" {
			value, found = v, true
			return false
		}
		if v := textAfter(n); v != "" {
			value, found = v, true
			return false
		}
		return true
	})
	return value, found
}

// labelTextNode finds the first text node containing label and returns the
// text of the next hyperlink after the node's parent.
func labelTextNode(doc *goquery.Document, label string) (string, bool) {
	root := doc.Get(0)
	if root == nil {
		return "", false
	}
	for n := root; n != nil; n = following(n, true) {
		if n.Type != html.TextNode || skipText(n) || !strings.Contains(n.Data, label) {
			continue
		}
		if n.Parent == nil {
			return "", false
		}
		if v := anchorAfter(n.Parent, nil); v != "" {
			return v, true
		}
		return "", false
	}
	return "", false
}

// following returns the node after n in document order. With descend unset,
// n's own subtree is skipped.
func following(n *html.Node, descend bool) *html.Node {
	if descend && n.FirstChild != nil {
		return n.FirstChild
	}
	for ; n != nil; n = n.Parent {
		if n.NextSibling != nil {
			return n.NextSibling
		}
	}
	return nil
}

// anchorAfter returns the text of the first <a> after n in document order,
// searching n's own subtree first. When within is non-nil the search stops
// at the end of within's subtree.
func anchorAfter(n, within *html.Node) string {
	for c := following(n, true); c != nil; c = following(c, true) {
		if within != nil && !contains(within, c) {
			return ""
		}
		if c.Type == html.ElementNode && c.DataAtom == atom.A {
			return clean(nodeText(c))
		}
	}
	return ""
}

// textAfter returns the first non-blank text following n's subtree.
func textAfter(n *html.Node) string {
	for c := following(n, false); c != nil; c = following(c, true) {
		if c.Type != html.TextNode || skipText(c) {
			continue
		}
		if v := clean(c.Data); v != "" {
			return v
		}
	}
	return ""
}

func contains(ancestor, n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n == ancestor {
			return true
		}
	}
	return false
}

func skipText(n *html.Node) bool {
	if n.Parent == nil || n.Parent.Type != html.ElementNode {
		return false
	}
	switch n.Parent.DataAtom {
	case atom.Script, atom.Style, atom.Title, atom.Noscript:
		return true
	}
	return false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// clean collapses whitespace and decodes entities left escaped in the page
// text (for example double-encoded ampersands).
func clean(s string) string {
	return collapse(html.UnescapeString(s))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
