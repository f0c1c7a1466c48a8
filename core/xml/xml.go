// Package xml reads XML volume manifests with xmlquery and compiled XPath
// expressions.
//
// Documents are checked for well-formedness with entity expansion disabled
// before they reach xmlquery, so manifests cannot pull in external or
// internal entities.
package xml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// Document is a parsed XML document.
type Document struct {
	root *xmlquery.Node
}

// Node is an element of a parsed document.
type Node struct {
	node *xmlquery.Node
}

// SyntaxError describes the first well-formedness violation in a document.
type SyntaxError struct {
	Line    int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// Parse checks data for well-formedness and parses it.
func Parse(data []byte) (*Document, error) {
	if err := WellFormed(data); err != nil {
		return nil, err
	}
	root, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing XML: %w", err)
	}
	return &Document{root: root}, nil
}

// WellFormed reports the first syntax error in data, or nil.
func WellFormed(data []byte) error {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	// XXE (CWE-611): no entity expansion at all.
	decoder.Entity = map[string]string{}

	sawElement := false
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			line, _ := decoder.InputPos()
			return &SyntaxError{Line: line, Message: err.Error()}
		}
		if _, ok := tok.(xml.StartElement); ok {
			sawElement = true
		}
	}
	if !sawElement {
		return &SyntaxError{Line: 1, Message: "no root element"}
	}
	return nil
}

// Root returns the document element.
func (d *Document) Root() *Node {
	if d == nil || d.root == nil {
		return nil
	}
	for child := d.root.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			return &Node{node: child}
		}
	}
	return nil
}

// XPath returns the nodes matching expr, evaluated from the document node.
func (d *Document) XPath(expr string) ([]*Node, error) {
	if d == nil || d.root == nil {
		return nil, nil
	}
	return (&Node{node: d.root}).XPath(expr)
}

// XPathFirst returns the first node matching expr, or nil.
func (d *Document) XPathFirst(expr string) (*Node, error) {
	nodes, err := d.XPath(expr)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}

// XPath evaluates expr relative to n.
func (n *Node) XPath(expr string) ([]*Node, error) {
	compiled, err := xpath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	matches := xmlquery.QuerySelectorAll(n.node, compiled)
	result := make([]*Node, len(matches))
	for i, m := range matches {
		result[i] = &Node{node: m}
	}
	return result, nil
}

// Name returns the element name.
func (n *Node) Name() string {
	if n == nil || n.node == nil {
		return ""
	}
	return n.node.Data
}

// Text returns the concatenated text of n and its descendants.
func (n *Node) Text() string {
	if n == nil || n.node == nil {
		return ""
	}
	return n.node.InnerText()
}

// Attr returns the value of an attribute, or "".
func (n *Node) Attr(name string) string {
	if n == nil || n.node == nil {
		return ""
	}
	return n.node.SelectAttr(name)
}

// BoolAttr reads "true", "1" or "yes" as true.
func (n *Node) BoolAttr(name string) bool {
	switch strings.ToLower(strings.TrimSpace(n.Attr(name))) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// Children returns the child elements of n.
func (n *Node) Children() []*Node {
	if n == nil || n.node == nil {
		return nil
	}
	var children []*Node
	for child := n.node.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			children = append(children, &Node{node: child})
		}
	}
	return children
}
