package storefront

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// productLinkClasses mark anchors that lead to a product detail page.
var productLinkClasses = []string{"product-name", "product-image-link"}

// page is what a user remembers from a storefront HTML page.
type page struct {
	// productLinks are product detail paths in document order, without duplicates
	productLinks []string

	// csrfTokens maps form action paths to their CSRF token
	csrfTokens map[string]string
}

// parsePage scrapes product links and form tokens from an HTML document.
func parsePage(body []byte) (*page, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	p := &page{csrfTokens: make(map[string]string)}
	seen := make(map[string]bool)

	var walk func(n *html.Node, formAction string)
	walk = func(n *html.Node, formAction string) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "form":
				formAction = actionPath(attr(n, "action"))
			case "a":
				href := attr(n, "href")
				if href != "" && hasAnyClass(attr(n, "class"), productLinkClasses) {
					link := localPath(href)
					if !seen[link] {
						seen[link] = true
						p.productLinks = append(p.productLinks, link)
					}
				}
			case "input":
				if attr(n, "name") == "_csrf_token" && formAction != "" {
					p.csrfTokens[formAction] = attr(n, "value")
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, formAction)
		}
	}
	walk(doc, "")

	return p, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAnyClass(classAttr string, classes []string) bool {
	for _, c := range strings.Fields(classAttr) {
		for _, want := range classes {
			if c == want {
				return true
			}
		}
	}
	return false
}

// localPath strips scheme and host so links stay on the configured host.
func localPath(href string) string {
	u, err := url.Parse(href)
	if err != nil || (u.Scheme == "" && u.Host == "") {
		return href
	}
	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	if path == "" {
		path = "/"
	}
	return path
}

func actionPath(action string) string {
	u, err := url.Parse(action)
	if err != nil {
		return action
	}
	return u.Path
}
