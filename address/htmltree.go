package address

import (
	"fmt"
	"io"

	"golang.org/x/net/html"
)

// FromHTML builds a Tree from a static HTML document. Node ids are
// synthetic and only meaningful within the returned Tree. Used by the
// persistence tooling and by tests; live pages are tracked from CDP events
// instead.
func FromHTML(r io.Reader) (*Tree, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("address: parse html: %w", err)
	}

	t := NewTree()
	next := NodeID(1)
	root := next
	next++
	t.SetRoot(root)

	var walk func(parent NodeID, n *html.Node)
	walk = func(parent NodeID, n *html.Node) {
		var prev NodeID
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			id := next
			next++
			t.Insert(parent, prev, id, c.Data)
			prev = id
			walk(id, c)
		}
	}
	walk(root, doc)

	return t, nil
}
