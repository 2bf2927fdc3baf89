package panel

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// page is what the panel adapter needs to know about an HTML document.
type page struct {
	// LoginForm is true when the document carries a form with a password input.
	LoginForm bool
	Action    string
	Hidden    url.Values

	SiteKey      string
	CaptchaImage string
	CSRFToken    string
}

func parsePage(body []byte) (*page, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	p := &page{Hidden: url.Values{}}
	hidden := make(map[*html.Node]url.Values)
	var loginForm *html.Node

	var walk func(n, form *html.Node)
	walk = func(n, form *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Form:
				form = n
				hidden[n] = url.Values{}
			case atom.Input:
				name := attr(n, "name")
				switch strings.ToLower(attr(n, "type")) {
				case "password":
					if loginForm == nil {
						loginForm = form
						p.LoginForm = true
					}
				case "hidden":
					if form != nil && name != "" {
						hidden[form].Add(name, attr(n, "value"))
					}
				}
			case atom.Meta:
				if attr(n, "name") == "csrf-token" {
					p.CSRFToken = attr(n, "content")
				}
			case atom.Img:
				if hasAttr(n, "data-captcha") {
					p.CaptchaImage = dataURIPayload(attr(n, "src"))
				}
			}
			if key := attr(n, "data-sitekey"); key != "" && p.SiteKey == "" {
				p.SiteKey = key
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, form)
		}
	}
	walk(doc, nil)

	if loginForm != nil {
		p.Action = attr(loginForm, "action")
		p.Hidden = hidden[loginForm]
	}
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

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// dataURIPayload returns the base64 part of a data: URI, or "" for anything else.
func dataURIPayload(src string) string {
	if !strings.HasPrefix(src, "data:") {
		return ""
	}
	_, payload, ok := strings.Cut(src, ";base64,")
	if !ok {
		return ""
	}
	return payload
}
