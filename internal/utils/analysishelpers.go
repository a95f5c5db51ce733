package utils

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// HTMLFeatures are the structural properties of an HTML body that survive
// payload reflection: the page title and the shape of the element tree.
type HTMLFeatures struct {
	Title     string
	TagCount  int
	FormCount int
	IsHTML    bool
}

// ExtractHTMLFeatures walks body with the x/net/html tokenizer-backed parser.
// Bodies without any element node report IsHTML false and zero counts.
func ExtractHTMLFeatures(body []byte) HTMLFeatures {
	var features HTMLFeatures
	if len(body) == 0 || bytes.IndexByte(body, '<') < 0 {
		return features
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return features
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			// The parser synthesizes html/head/body for any input, so only count them when present in the source.
			switch n.Data {
			case "html", "head", "body":
			default:
				features.TagCount++
				features.IsHTML = true
			}
			switch n.Data {
			case "title":
				if features.Title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					features.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "form":
				features.FormCount++
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if !features.IsHTML && bytes.Contains(bytes.ToLower(body), []byte("<html")) {
		features.IsHTML = true
	}
	return features
}
