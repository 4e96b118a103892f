package scrape

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

var (
	priceRe = regexp.MustCompile(`€\s*([\d.,]+)`)
	areaRe  = regexp.MustCompile(`(\d+)\s*m²`)
	roomsRe = regexp.MustCompile(`(\d+)\s*(?:rooms?|kamers?)`)
	digitRe = regexp.MustCompile(`\d+`)
)

// htmlNode keeps the x/net/html dependency contained to this file.
type htmlNode = html.Node

// parseDocument parses an HTML document, tolerating the tag soup real listing
// sites serve.
func parseDocument(body []byte) (*html.Node, error) {
	return html.Parse(bytes.NewReader(body))
}

// collectLinks walks the document and returns hrefs accepted by match, in
// document order, deduplicated.
func collectLinks(doc *html.Node, match func(href string) bool) []string {
	var links []string
	seen := make(map[string]bool)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if href := attrValue(n, "href"); href != "" && match(href) && !seen[href] {
				seen[href] = true
				links = append(links, href)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}

// findFirst returns the first element with the given tag for which accept
// returns true. A nil accept matches any element with that tag.
func findFirst(doc *html.Node, tag string, accept func(*html.Node) bool) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == tag && (accept == nil || accept(n)) {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found
}

// nodeText returns the concatenated, whitespace-collapsed text of a node.
func nodeText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
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

func attrValue(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attrValue(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// extractPrice pulls the first euro amount out of a text fragment,
// normalizing thousands separators ("€ 1.500" and "€1,500" both parse as 1500).
func extractPrice(text string) int {
	m := priceRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	digits := strings.NewReplacer(".", "", ",", "").Replace(m[1])
	v, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return v
}

// extractArea pulls the first "<n> m²" figure out of a text fragment.
func extractArea(text string) int {
	m := areaRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	v, _ := strconv.Atoi(m[1])
	return v
}

// extractRooms pulls the first room count out of a text fragment.
func extractRooms(text string) int {
	m := roomsRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	v, _ := strconv.Atoi(m[1])
	return v
}

// lastNumericSegment returns the last run of digits in a URL path, the usual
// shape of a site-native listing id.
func lastNumericSegment(path string) string {
	all := digitRe.FindAllString(path, -1)
	if len(all) == 0 {
		return ""
	}
	return all[len(all)-1]
}
