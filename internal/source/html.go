package source

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// findAll returns every element below n with the given tag, in document order.
func findAll(n *html.Node, tag atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.ElementNode && c.DataAtom == tag {
			out = append(out, c)
		}
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		walk(ch)
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// text returns the node's text content with runs of whitespace collapsed.
func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// htmlTable is one <table> flattened into a header and data rows.
type htmlTable struct {
	header []string
	rows   [][]string
}

// parseTables extracts every table in doc. The first non-empty row is the
// header, whether it uses <th> or <td> cells.
func parseTables(doc *html.Node) []htmlTable {
	var out []htmlTable
	for _, tbl := range findAll(doc, atom.Table) {
		var t htmlTable
		haveHeader := false
		for _, tr := range findAll(tbl, atom.Tr) {
			var cells []string
			for c := tr.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.DataAtom == atom.Th || c.DataAtom == atom.Td) {
					cells = append(cells, text(c))
				}
			}
			if len(cells) == 0 {
				continue
			}
			if !haveHeader {
				t.header = cells
				haveHeader = true
				continue
			}
			// Placeholder rows such as "No records found" span the table.
			if len(cells) == 1 && len(t.header) > 1 {
				continue
			}
			t.rows = append(t.rows, cells)
		}
		if haveHeader {
			out = append(out, t)
		}
	}
	return out
}
