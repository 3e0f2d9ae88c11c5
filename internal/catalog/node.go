package catalog

import (
	"encoding/xml"
	"strings"
)

// node is a generic XML element tree used to round-trip webservice
// documents. The shop returns full records whose exact shape depends on
// its configuration and installed modules, so updates edit the fetched
// tree instead of binding to a fixed struct.
type node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []*node    `xml:",any"`
}

func (n *node) child(name string) *node {
	for _, c := range n.Children {
		if c.XMLName.Local == name {
			return c
		}
	}
	return nil
}

func (n *node) childText(name string) string {
	if c := n.child(name); c != nil {
		return strings.TrimSpace(c.Text)
	}
	return ""
}

func (n *node) setChildText(name, value string) {
	if c := n.child(name); c != nil {
		c.Text = value
		c.Children = nil
		return
	}
	n.Children = append(n.Children, &node{XMLName: xml.Name{Local: name}, Text: value})
}

func (n *node) removeChildren(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, name := range names {
		drop[name] = true
	}
	kept := n.Children[:0]
	for _, c := range n.Children {
		if !drop[c.XMLName.Local] {
			kept = append(kept, c)
		}
	}
	n.Children = kept
}

// stripForeignAttrs drops namespaced attributes (the xlink hrefs) before
// a PUT: the encoder cannot re-emit them with their original prefixes and
// the webservice ignores them on write anyway. Plain attributes such as
// the language ids are kept.
func (n *node) stripForeignAttrs() {
	n.XMLName.Space = ""
	kept := n.Attrs[:0]
	for _, a := range n.Attrs {
		if a.Name.Space == "" && a.Name.Local != "xmlns" {
			kept = append(kept, a)
		}
	}
	n.Attrs = kept
	for _, c := range n.Children {
		c.stripForeignAttrs()
	}
}

// wrap encloses inner in the <prestashop> envelope expected on PUT.
func wrap(inner *node) *node {
	inner.stripForeignAttrs()
	return &node{
		XMLName: xml.Name{Local: "prestashop"},
		Attrs: []xml.Attr{
			{Name: xml.Name{Local: "xmlns:xlink"}, Value: "http://www.w3.org/1999/xlink"},
		},
		Children: []*node{inner},
	}
}
