// Package adf models the Atlassian Document Format tree and the lossy
// conversions the sync engine needs: document to plain text, plain text back
// to a minimal document, and in-place rewriting of embedded media ids.
//
// The conversions discard formatting, mentions, and any structure beyond
// plain paragraphs. That is the accepted trade-off, not a defect.
package adf

import (
	"encoding/json"
	"strings"

	"github.com/trackersync/trackersync/internal/debug"
)

// Node is one ADF content node. Attrs carries node-specific attributes
// (media ids, link hrefs) untouched except where explicitly rewritten.
type Node struct {
	Type    string         `json:"type"`
	Text    string         `json:"text,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Marks   []any          `json:"marks,omitempty"`
}

// Doc is a top-level ADF document.
type Doc struct {
	Type    string `json:"type"`
	Version int    `json:"version"`
	Content []Node `json:"content"`
}

// Empty returns an explicit empty document. Counterpart APIs reject a null
// description where they accept an empty doc.
func Empty() *Doc {
	return &Doc{Type: "doc", Version: 1, Content: []Node{}}
}

// ToPlainText flattens the document to text: a depth-first walk collecting
// leaf text nodes, a blank line between sibling top-level blocks (except
// before the first), and a single line break for each hardBreak.
func ToPlainText(d *Doc) string {
	if d == nil {
		return ""
	}
	var b strings.Builder
	for i, block := range d.Content {
		if i > 0 {
			b.WriteString("\n\n")
		}
		writeNodeText(&b, &block)
	}
	return b.String()
}

func writeNodeText(b *strings.Builder, n *Node) {
	switch n.Type {
	case "text":
		b.WriteString(n.Text)
	case "hardBreak":
		b.WriteString("\n")
	}
	for i := range n.Content {
		writeNodeText(b, &n.Content[i])
	}
}

// FromPlainText builds a document of plain paragraphs, splitting on
// blank-line boundaries. Empty input yields an explicit empty document,
// never nil.
func FromPlainText(text string) *Doc {
	if text == "" {
		return Empty()
	}
	paras := strings.Split(text, "\n\n")
	doc := &Doc{Type: "doc", Version: 1, Content: make([]Node, 0, len(paras))}
	for _, para := range paras {
		p := Node{Type: "paragraph", Content: []Node{}}
		lines := strings.Split(para, "\n")
		for i, line := range lines {
			if i > 0 {
				p.Content = append(p.Content, Node{Type: "hardBreak"})
			}
			if line != "" {
				p.Content = append(p.Content, Node{Type: "text", Text: line})
			}
		}
		doc.Content = append(doc.Content, p)
	}
	return doc
}

// MediaIDs collects the ids of every embedded media node, in document order.
func MediaIDs(d *Doc) []string {
	if d == nil {
		return nil
	}
	var ids []string
	for i := range d.Content {
		collectMediaIDs(&d.Content[i], &ids)
	}
	return ids
}

func collectMediaIDs(n *Node, ids *[]string) {
	if n.Type == "media" {
		if id, ok := n.Attrs["id"].(string); ok && id != "" {
			*ids = append(*ids, id)
		}
	}
	for i := range n.Content {
		collectMediaIDs(&n.Content[i], ids)
	}
}

// RewriteMedia deep-clones the document and replaces the id of every media
// node present in idMap. Unmapped ids stay untouched and are logged.
func RewriteMedia(d *Doc, idMap map[string]string) *Doc {
	if d == nil {
		return nil
	}
	clone := cloneDoc(d)
	for i := range clone.Content {
		rewriteMediaNode(&clone.Content[i], idMap)
	}
	return clone
}

func rewriteMediaNode(n *Node, idMap map[string]string) {
	if n.Type == "media" {
		if id, ok := n.Attrs["id"].(string); ok && id != "" {
			if mapped, ok := idMap[id]; ok {
				n.Attrs["id"] = mapped
			} else {
				debug.Logf("adf: media id %s has no mapping, leaving as-is", id)
			}
		}
	}
	for i := range n.Content {
		rewriteMediaNode(&n.Content[i], idMap)
	}
}

// cloneDoc deep-clones via JSON round trip. Attrs maps hold arbitrary
// values, so a structural copy would still share them.
func cloneDoc(d *Doc) *Doc {
	raw, err := json.Marshal(d)
	if err != nil {
		return Empty()
	}
	var out Doc
	if err := json.Unmarshal(raw, &out); err != nil {
		return Empty()
	}
	return &out
}
