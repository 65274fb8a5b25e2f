package remote

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// parseLinks extracts the relative link targets from a listing page. Both
// the href and the anchor text are the entry name on the rageshake server;
// the href wins when both are present. Parent links, query links and
// absolute links are skipped, and a trailing slash is removed.
func parseLinks(r io.Reader) ([]string, error) {
	var links []string
	seen := make(map[string]bool)

	add := func(target string) {
		target = strings.TrimSpace(target)
		if target == "" || strings.HasPrefix(target, "/") || strings.HasPrefix(target, "..") ||
			strings.ContainsAny(target, "?#:") {
			return
		}
		target = strings.TrimSuffix(target, "/")
		if target == "" || target == "." || seen[target] {
			return
		}
		seen[target] = true
		links = append(links, target)
	}

	z := html.NewTokenizer(r)
	inAnchor := false
	var href string
	var text strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return nil, err
			}
			return links, nil
		case html.StartTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" {
				continue
			}
			inAnchor = true
			href = ""
			text.Reset()
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				if string(key) == "href" {
					href = string(val)
				}
			}
		case html.TextToken:
			if inAnchor {
				text.Write(z.Text())
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) != "a" || !inAnchor {
				continue
			}
			inAnchor = false
			if href != "" {
				add(href)
			} else {
				add(text.String())
			}
		}
	}
}
