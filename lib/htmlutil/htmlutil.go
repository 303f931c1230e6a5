package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CollapseWhitespace trims a scraped value and squashes runs of inner
// whitespace into one space, the portal pads cell contents liberally.
func CollapseWhitespace(s string) string {
	s = removeNonPrintable(s)
	s = strings.TrimSpace(s)
	return innerWhitespace.ReplaceAllString(s, " ")
}

var commentRegex = regexp.MustCompile(`(?s)<!--(.*?)-->`)

// Comments returns the inner text of every markup comment in document
// order. The portal hides some of its data inside comments.
func Comments(body string) []string {
	matches := commentRegex.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m[1]
	}
	return out
}

// CellTexts flattens each node of the selection into cleaned text.
func CellTexts(sel *goquery.Selection) []string {
	var cells []string
	for _, n := range sel.Nodes {
		cells = append(cells, CollapseWhitespace(GetText(n)))
	}
	return cells
}
