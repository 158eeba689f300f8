package brave

import (
	"strings"

	"golang.org/x/net/html"
)

// plainText flattens the inline markup Brave puts in titles and snippets,
// such as <strong> around matched terms, and decodes entities.
func plainText(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.ContainsAny(raw, "<&") {
		return raw
	}
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return raw
	}
	var out strings.Builder
	walkText(doc, &out)
	return strings.Join(strings.Fields(out.String()), " ")
}

func walkText(node *html.Node, out *strings.Builder) {
	if node.Type == html.ElementNode {
		switch strings.ToLower(node.Data) {
		case "script", "style":
			return
		}
	}
	if node.Type == html.TextNode {
		out.WriteString(node.Data)
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		walkText(child, out)
	}
}
