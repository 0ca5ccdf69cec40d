package splitter

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var hyphenBreak = regexp.MustCompile(`-\n`)

// extractParagraphs pulls the paragraph texts out of one content document.
// Script and style subtrees are dropped. A paragraph that opens with a
// drop-cap span keeps the initial letter in front of the body text.
func extractParagraphs(data []byte) ([]string, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var paragraphs []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style":
				return
			case "p":
				if text := paragraphText(n); text != "" {
					paragraphs = append(paragraphs, text)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return paragraphs, nil
}

// paragraphText flattens one <p> element. The drop-cap letter is extracted
// first and the span removed so it is not duplicated.
func paragraphText(p *html.Node) string {
	dropcap := ""
	if span := findDropcap(p); span != nil {
		dropcap = collectText(span)
		span.Parent.RemoveChild(span)
	}
	return dropcap + collectText(p)
}

func findDropcap(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "span" && hasClass(c, "dropcap") {
			return c
		}
		if found := findDropcap(c); found != nil {
			return found
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key == "class" {
			for _, c := range strings.Fields(attr.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

// collectText gathers the text content of a subtree with whitespace runs
// collapsed to single spaces.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// cleanupText joins paragraphs with blank lines, merges hyphenated words
// broken across lines, and normalises non-breaking spaces. HTML entities
// were already decoded during parsing.
func cleanupText(paragraphs []string) string {
	text := strings.Join(paragraphs, "\n\n")
	text = hyphenBreak.ReplaceAllString(text, "")
	return strings.ReplaceAll(text, "\u00a0", " ")
}
